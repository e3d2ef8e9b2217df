package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion = 1
	saltSize    = 16
	kdfName     = "argon2id"
)

// Sealed files start with this line so plaintext files can be told apart.
var filePrefix = []byte("QRPSEAL1\n")

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore sealed data is invalid")
	ErrLegacyData = errors.New("securestore data is not sealed")
)

// KDFParams are the argon2id cost parameters recorded with every sealed blob.
type KDFParams struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

var DefaultKDFParams = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

// Params read back from a file may cost at most this multiple of the defaults.
const maxKDFFactor = 4

func (p KDFParams) withinBounds() bool {
	return p.Time > 0 && p.Time <= maxKDFFactor*DefaultKDFParams.Time &&
		p.MemoryKB > 0 && p.MemoryKB <= maxKDFFactor*DefaultKDFParams.MemoryKB &&
		p.Threads > 0 && p.Threads <= maxKDFFactor*DefaultKDFParams.Threads
}

type sealed struct {
	Version    uint32    `json:"version"`
	Purpose    string    `json:"purpose"`
	KDF        string    `json:"kdf"`
	Params     KDFParams `json:"params"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// Seal encrypts plaintext under passphrase. purpose is authenticated with the
// ciphertext, so a blob sealed for one use does not open for another.
func Seal(passphrase, purpose string, plaintext []byte) ([]byte, error) {
	return sealWithParams(passphrase, purpose, plaintext, DefaultKDFParams)
}

func sealWithParams(passphrase, purpose string, plaintext []byte, params KDFParams) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalid)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sealed{
		Version:    sealVersion,
		Purpose:    purpose,
		KDF:        kdfName,
		Params:     params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(purpose)),
	})
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), filePrefix...), raw...), nil
}

// Open reverses Seal. Data without the sealed prefix yields ErrLegacyData.
func Open(passphrase, purpose string, data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrLegacyData
	}
	var s sealed
	if err := json.Unmarshal(data[len(filePrefix):], &s); err != nil {
		return nil, ErrInvalid
	}
	if s.Version != sealVersion || s.KDF != kdfName || s.Purpose != purpose {
		return nil, ErrInvalid
	}
	if len(s.Nonce) != chacha20poly1305.NonceSizeX || len(s.Salt) != saltSize || !s.Params.withinBounds() {
		return nil, ErrInvalid
	}
	key := deriveKey(passphrase, s.Salt, s.Params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, []byte(purpose))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, filePrefix)
}

func deriveKey(passphrase string, salt []byte, params KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKB, params.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
