package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"qr-pass/go-backend/pkg/models"
)

func (e Envelope) Record() models.EnvelopeRecord {
	return models.EnvelopeRecord{
		EphemeralPublicKey: hex.EncodeToString(e.EphemeralPublicKey[:]),
		Nonce:              hex.EncodeToString(e.Nonce[:]),
		Ciphertext:         hex.EncodeToString(e.Ciphertext),
	}
}

// MarshalJSON emits the interchange record with a stable field order.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var rec models.EnvelopeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	parsed, err := EnvelopeFromRecord(rec)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseEnvelope decodes a scanned or pasted envelope record.
func ParseEnvelope(data []byte) (Envelope, error) {
	var rec models.EnvelopeRecord
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return EnvelopeFromRecord(rec)
}

// EnvelopeFromRecord decodes the hex fields of rec. Records written by the
// PyNaCl tools carry ciphertext as nonce||box; that prefix is stripped, and a
// record without a nonce field takes its nonce from the prefix.
func EnvelopeFromRecord(rec models.EnvelopeRecord) (Envelope, error) {
	var env Envelope
	epk, err := decodeHexField("epkB", rec.EphemeralPublicKey)
	if err != nil {
		return Envelope{}, err
	}
	if len(epk) != KeySize {
		return Envelope{}, fmt.Errorf("%w: epkB must be %d bytes, got %d", ErrMalformedEnvelope, KeySize, len(epk))
	}
	copy(env.EphemeralPublicKey[:], epk)

	ciphertext, err := decodeHexField("ciphertext", rec.Ciphertext)
	if err != nil {
		return Envelope{}, err
	}

	if strings.TrimSpace(rec.Nonce) == "" {
		if len(ciphertext) < NonceSize+Overhead {
			return Envelope{}, fmt.Errorf("%w: nonce missing and ciphertext too short to carry one", ErrMalformedEnvelope)
		}
		copy(env.Nonce[:], ciphertext[:NonceSize])
		env.Ciphertext = ciphertext[NonceSize:]
		return env, nil
	}

	nonce, err := decodeHexField("nonce", rec.Nonce)
	if err != nil {
		return Envelope{}, err
	}
	if len(nonce) != NonceSize {
		return Envelope{}, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedEnvelope, NonceSize, len(nonce))
	}
	copy(env.Nonce[:], nonce)
	if len(ciphertext) >= NonceSize+Overhead && bytes.Equal(ciphertext[:NonceSize], nonce) {
		ciphertext = ciphertext[NonceSize:]
	}
	env.Ciphertext = ciphertext
	return env, nil
}

func decodeHexField(name, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: missing field %s", ErrMalformedEnvelope, name)
	}
	out, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s is not hex", ErrMalformedEnvelope, name)
	}
	return out, nil
}
