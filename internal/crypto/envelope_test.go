package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"qr-pass/go-backend/pkg/models"
)

func TestEnvelopeRecordRoundtrip(t *testing.T) {
	beacon := fixedIdentity(t)
	env, err := Encrypt(beacon.PublicKey[:], aliceMessage())
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"epkB":"`) {
		t.Fatalf("unexpected field order: %s", raw)
	}
	if strings.ToLower(string(raw)) != string(raw) {
		t.Fatalf("hex must be lowercase: %s", raw)
	}

	parsed, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	got, err := Decrypt(beacon, parsed)
	if err != nil {
		t.Fatalf("decrypt of parsed envelope failed: %v", err)
	}
	if !got.Equal(aliceMessage()) {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestParseEnvelopeAcceptsAnyFieldOrder(t *testing.T) {
	beacon := fixedIdentity(t)
	env, err := Encrypt(beacon.PublicKey[:], aliceMessage())
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	rec := env.Record()
	reordered := `{"ciphertext":"` + rec.Ciphertext + `","nonce":"` + rec.Nonce + `","epkB":"` + rec.EphemeralPublicKey + `"}`
	parsed, err := ParseEnvelope([]byte(reordered))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Decrypt(beacon, parsed); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
}

func TestParseEnvelopeAcceptsCombinedNonceCiphertext(t *testing.T) {
	beacon := fixedIdentity(t)
	env, err := Encrypt(beacon.PublicKey[:], aliceMessage())
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	combined := hex.EncodeToString(append(env.Nonce[:], env.Ciphertext...))

	withNonce := models.EnvelopeRecord{
		EphemeralPublicKey: hex.EncodeToString(env.EphemeralPublicKey[:]),
		Nonce:              hex.EncodeToString(env.Nonce[:]),
		Ciphertext:         combined,
	}
	withoutNonce := withNonce
	withoutNonce.Nonce = ""

	for name, rec := range map[string]models.EnvelopeRecord{"with nonce": withNonce, "without nonce": withoutNonce} {
		parsed, err := EnvelopeFromRecord(rec)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", name, err)
		}
		if _, err := Decrypt(beacon, parsed); err != nil {
			t.Fatalf("%s: decrypt failed: %v", name, err)
		}
	}
}

func TestParseEnvelopeRejectsMalformedRecords(t *testing.T) {
	epk := strings.Repeat("ab", KeySize)
	nonce := strings.Repeat("cd", NonceSize)
	ct := strings.Repeat("ef", Overhead+4)
	cases := map[string]string{
		"not json":        `epkB=...`,
		"missing epk":     `{"nonce":"` + nonce + `","ciphertext":"` + ct + `"}`,
		"short epk":       `{"epkB":"abcd","nonce":"` + nonce + `","ciphertext":"` + ct + `"}`,
		"bad hex":         `{"epkB":"zz` + epk[2:] + `","nonce":"` + nonce + `","ciphertext":"` + ct + `"}`,
		"short nonce":     `{"epkB":"` + epk + `","nonce":"cdcd","ciphertext":"` + ct + `"}`,
		"missing ct":      `{"epkB":"` + epk + `","nonce":"` + nonce + `"}`,
		"no nonce, short": `{"epkB":"` + epk + `","ciphertext":"` + ct + `"}`,
	}
	for name, raw := range cases {
		if _, err := ParseEnvelope([]byte(raw)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("%s: expected ErrMalformedEnvelope, got %v", name, err)
		}
	}
}
