package identity

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"qr-pass/go-backend/internal/crypto"
	"qr-pass/go-backend/internal/securestore"
)

const keyPurpose = "beacon-identity-key"

var (
	ErrStorage            = errors.New("identity storage failed")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrKeyPathRequired    = errors.New("identity key path is required")
	ErrInvalidPassphrase  = errors.New("invalid identity passphrase")
	ErrPassphraseLocked   = errors.New("passphrase attempts are temporarily locked")
	ErrPassphraseRequired = errors.New("identity key is sealed; passphrase required")
)

// Manager creates and loads the beacon identity. It is meant to run Generate
// once and Load many times; it does not guard against regenerating while
// other processes decrypt.
type Manager struct {
	cfg    Config
	random io.Reader
	now    func() time.Time

	mu             sync.Mutex
	failedAttempts int
	lockedUntil    time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	return newManager(cfg, nil, time.Now)
}

func newManager(cfg Config, random io.Reader, now func() time.Time) (*Manager, error) {
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.PublicationPath = strings.TrimSpace(cfg.PublicationPath)
	if cfg.KeyPath == "" {
		return nil, ErrKeyPathRequired
	}
	return &Manager{cfg: cfg, random: random, now: now}, nil
}

func (m *Manager) Config() Config {
	c := m.cfg
	c.Passphrase = ""
	return c
}

// Generate creates a new identity, persists its private key and writes the
// publication record. Nothing is returned unless every write succeeded.
func (m *Manager) Generate() (Identity, error) {
	keys, err := crypto.GenerateKeyPair(m.random)
	if err != nil {
		return Identity{}, err
	}
	return m.persist(keys)
}

// Load reads the persisted identity.
func (m *Manager) Load() (Identity, error) {
	if err := m.ensureUnlocked(); err != nil {
		return Identity{}, err
	}
	raw, err := os.ReadFile(m.cfg.KeyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer zeroBytes(raw)

	privateKey := raw
	if securestore.IsSealed(raw) {
		if m.cfg.Passphrase == "" {
			return Identity{}, ErrPassphraseRequired
		}
		opened, err := securestore.Open(m.cfg.Passphrase, keyPurpose, raw)
		if err != nil {
			if errors.Is(err, securestore.ErrAuthFailed) {
				m.onFailedAttempt()
				return Identity{}, ErrInvalidPassphrase
			}
			return Identity{}, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		m.resetAttempts()
		defer zeroBytes(opened)
		privateKey = opened
	}

	keys, err := crypto.KeyPairFromPrivate(privateKey)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: corrupted key file: %v", ErrStorage, err)
	}
	info, err := os.Stat(m.cfg.KeyPath)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return m.build(keys, info.ModTime())
}

// LoadOrGenerate returns the stored identity, creating one on first use.
func (m *Manager) LoadOrGenerate() (Identity, bool, error) {
	id, err := m.Load()
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return Identity{}, false, err
	}
	id, err = m.Generate()
	if err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

func (m *Manager) persist(keys crypto.KeyPair) (Identity, error) {
	data := append([]byte(nil), keys.PrivateKey[:]...)
	defer zeroBytes(data)
	if err := securestore.WriteMaybeSealed(m.cfg.KeyPath, m.cfg.Passphrase, keyPurpose, data); err != nil {
		return Identity{}, fmt.Errorf("%w: write key: %v", ErrStorage, err)
	}
	if m.cfg.PublicationPath != "" {
		pub, err := MarshalPublication(keys.PublicKey[:])
		if err != nil {
			return Identity{}, fmt.Errorf("%w: encode publication: %v", ErrStorage, err)
		}
		if err := securestore.WriteFileAtomic(m.cfg.PublicationPath, pub, 0o644); err != nil {
			return Identity{}, fmt.Errorf("%w: write publication: %v", ErrStorage, err)
		}
	}
	return m.build(keys, m.now())
}

func (m *Manager) build(keys crypto.KeyPair, createdAt time.Time) (Identity, error) {
	id, err := BuildBeaconID(keys.PublicKey[:])
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: id, Keys: keys, CreatedAt: createdAt.UTC()}, nil
}

func (m *Manager) ensureUnlocked() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedUntil.IsZero() && m.now().Before(m.lockedUntil) {
		return ErrPassphraseLocked
	}
	return nil
}

func (m *Manager) onFailedAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedAttempts++
	m.lockedUntil = m.now().Add(failedAttemptBackoff(m.failedAttempts))
}

func (m *Manager) resetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedAttempts = 0
	m.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
