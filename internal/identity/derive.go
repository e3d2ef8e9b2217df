package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"qr-pass/go-backend/internal/crypto"
	"qr-pass/go-backend/pkg/models"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const beaconIDPrefix = "qrp1"

// BuildBeaconID is a human-comparable name for a beacon public key.
func BuildBeaconID(publicKey []byte) (string, error) {
	if len(publicKey) != crypto.KeySize {
		return "", fmt.Errorf("%w: size %d", crypto.ErrInvalidKey, len(publicKey))
	}
	h := blake2b.Sum256(publicKey)
	return beaconIDPrefix + base58.Encode(h[:]), nil
}

// PeerIDHash addresses stored envelopes: base64url(sha256(pub)[:16]).
func PeerIDHash(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base64.URLEncoding.EncodeToString(sum[:16])
}

func Publication(publicKey []byte) models.BeaconRecord {
	return models.BeaconRecord{PublicKey: hex.EncodeToString(publicKey)}
}

func MarshalPublication(publicKey []byte) ([]byte, error) {
	return json.Marshal(Publication(publicKey))
}

// ParsePublication extracts and validates the public key from a scanned beacon record.
func ParsePublication(data []byte) ([]byte, error) {
	var rec models.BeaconRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: beacon record: %v", crypto.ErrInvalidKey, err)
	}
	key, err := crypto.ParsePublicKeyHex(rec.PublicKey)
	if err != nil {
		return nil, err
	}
	return key[:], nil
}
