package identity

import (
	"time"

	"qr-pass/go-backend/internal/crypto"
)

// Identity is the beacon's long-term key pair.
type Identity struct {
	ID        string
	Keys      crypto.KeyPair
	CreatedAt time.Time
}

func (i Identity) PublicKey() []byte {
	return append([]byte(nil), i.Keys.PublicKey[:]...)
}

// Wipe zeroes the private key held by this copy.
func (i *Identity) Wipe() {
	i.Keys.Wipe()
}

// Config holds the explicit locations the manager works with.
type Config struct {
	// KeyPath is where the raw 32-byte private key (or its sealed form) lives.
	KeyPath string
	// PublicationPath receives the {"epkA": ...} record; empty disables it.
	PublicationPath string
	// Passphrase, when set, seals the key file with argon2id + XChaCha20-Poly1305.
	Passphrase string
}
