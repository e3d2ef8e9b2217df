package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

var (
	ErrEntropyUnavailable   = errors.New("secure random source unavailable")
	ErrInvalidKey           = errors.New("invalid public key")
	ErrAuthenticationFailed = errors.New("envelope authentication failed")
	ErrMalformedPayload     = errors.New("malformed message payload")
	ErrMalformedEnvelope    = errors.New("malformed envelope record")
)

// Envelope is the only artifact that crosses the untrusted medium.
type Envelope struct {
	EphemeralPublicKey [KeySize]byte
	Nonce              [NonceSize]byte
	Ciphertext         []byte
}

// SharedKey is the box key precomputed from one private and one public key.
type SharedKey [KeySize]byte

// Precompute derives the box key shared by privateKey and peerPublicKey.
// Both sides of an exchange arrive at the same value.
func Precompute(privateKey [KeySize]byte, peerPublicKey []byte) (*SharedKey, error) {
	peer, err := ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	return precompute(&privateKey, &peer), nil
}

func precompute(privateKey, peerPublicKey *[KeySize]byte) *SharedKey {
	var shared [KeySize]byte
	box.Precompute(&shared, peerPublicKey, privateKey)
	out := SharedKey(shared)
	wipe(shared[:])
	return &out
}

func (k *SharedKey) Wipe() {
	if k != nil {
		wipe(k[:])
	}
}

// Encrypt seals msg to recipientPublicKey under a fresh ephemeral key pair.
func Encrypt(recipientPublicKey []byte, msg MessageRecord) (Envelope, error) {
	return EncryptWithRandom(rand.Reader, recipientPublicKey, msg)
}

// EncryptWithRandom is Encrypt drawing the ephemeral key and nonce from random.
func EncryptWithRandom(random io.Reader, recipientPublicKey []byte, msg MessageRecord) (Envelope, error) {
	recipient, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return Envelope{}, err
	}
	ephemeral, err := GenerateKeyPair(random)
	if err != nil {
		return Envelope{}, err
	}
	defer ephemeral.Wipe()

	shared := precompute(&ephemeral.PrivateKey, &recipient)
	defer shared.Wipe()
	return SealWithShared(random, shared, ephemeral.PublicKey, msg)
}

// SealWithShared encrypts msg under an already derived key. senderPublicKey is
// embedded so the recipient can derive the same key.
func SealWithShared(random io.Reader, shared *SharedKey, senderPublicKey [KeySize]byte, msg MessageRecord) (Envelope, error) {
	if random == nil {
		random = rand.Reader
	}
	plaintext, err := EncodeMessage(msg)
	if err != nil {
		return Envelope{}, err
	}
	defer wipe(plaintext)

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	key := [KeySize]byte(*shared)
	defer wipe(key[:])
	return Envelope{
		EphemeralPublicKey: senderPublicKey,
		Nonce:              nonce,
		Ciphertext:         box.SealAfterPrecomputation(nil, plaintext, &nonce, &key),
	}, nil
}

// Decrypt opens env with the recipient's key pair. The tag is verified before
// any plaintext is released; every verification failure is the same opaque
// ErrAuthenticationFailed.
func Decrypt(recipient KeyPair, env Envelope) (MessageRecord, error) {
	// X25519 ignores the top bit, so a key with it set is an altered copy of
	// a canonical one.
	if env.EphemeralPublicKey[KeySize-1]&0x80 != 0 {
		return MessageRecord{}, ErrAuthenticationFailed
	}
	shared := precompute(&recipient.PrivateKey, &env.EphemeralPublicKey)
	defer shared.Wipe()
	return OpenWithShared(shared, env)
}

func OpenWithShared(shared *SharedKey, env Envelope) (MessageRecord, error) {
	if len(env.Ciphertext) < Overhead {
		return MessageRecord{}, ErrAuthenticationFailed
	}
	key := [KeySize]byte(*shared)
	defer wipe(key[:])
	plaintext, ok := box.OpenAfterPrecomputation(nil, env.Ciphertext, &env.Nonce, &key)
	if !ok {
		return MessageRecord{}, ErrAuthenticationFailed
	}
	defer wipe(plaintext)
	return DecodeMessage(plaintext)
}
