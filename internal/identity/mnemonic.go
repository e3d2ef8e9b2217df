package identity

import (
	"errors"
	"fmt"
	"strings"

	"qr-pass/go-backend/internal/crypto"

	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// ExportMnemonic renders the private key as a 24-word BIP-39 phrase for paper backup.
func ExportMnemonic(id Identity) (string, error) {
	return bip39.NewMnemonic(id.Keys.PrivateKey[:])
}

// Restore persists the identity encoded by mnemonic, replacing any key file.
func (m *Manager) Restore(mnemonic string) (Identity, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" || !bip39.IsMnemonicValid(mnemonic) {
		return Identity{}, ErrInvalidMnemonic
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer zeroBytes(entropy)
	if len(entropy) != crypto.KeySize {
		return Identity{}, fmt.Errorf("%w: expected 24 words", ErrInvalidMnemonic)
	}
	keys, err := crypto.KeyPairFromPrivate(entropy)
	if err != nil {
		return Identity{}, err
	}
	return m.persist(keys)
}
