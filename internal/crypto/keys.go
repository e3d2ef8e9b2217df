package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 24
	Overhead  = box.Overhead
)

// Any clamped scalar maps every low-order point to the identity, which
// curve25519.X25519 reports as an error.
var lowOrderProbe = [KeySize]byte{9}

// KeyPair is a Curve25519 key pair. The private half never leaves the party
// that generated it.
type KeyPair struct {
	PrivateKey [KeySize]byte
	PublicKey  [KeySize]byte
}

// GenerateKeyPair draws a private key from random (crypto/rand when nil) and
// derives its public key.
func GenerateKeyPair(random io.Reader) (KeyPair, error) {
	if random == nil {
		random = rand.Reader
	}
	pub, priv, err := box.GenerateKey(random)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	kp := KeyPair{PrivateKey: *priv, PublicKey: *pub}
	wipe(priv[:])
	return kp, nil
}

// KeyPairFromPrivate rebuilds a key pair from stored private key bytes.
func KeyPairFromPrivate(privateKey []byte) (KeyPair, error) {
	if len(privateKey) != KeySize {
		return KeyPair{}, fmt.Errorf("%w: private key size %d", ErrInvalidKey, len(privateKey))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var kp KeyPair
	copy(kp.PrivateKey[:], privateKey)
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// ParsePublicKey checks that b is a usable Curve25519 public key.
func ParsePublicKey(b []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	if len(b) != KeySize {
		return out, fmt.Errorf("%w: size %d", ErrInvalidKey, len(b))
	}
	if _, err := curve25519.X25519(lowOrderProbe[:], b); err != nil {
		return out, fmt.Errorf("%w: low-order point", ErrInvalidKey)
	}
	copy(out[:], b)
	return out, nil
}

func ParsePublicKeyHex(s string) ([KeySize]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("%w: not hex", ErrInvalidKey)
	}
	return ParsePublicKey(raw)
}

func (k KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey[:])
}

// Wipe zeroes the private key in place.
func (k *KeyPair) Wipe() {
	wipe(k.PrivateKey[:])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
