package identity

import (
	"errors"
	"strings"
	"testing"

	"qr-pass/go-backend/internal/crypto"
)

func TestBuildBeaconIDStableAndValidated(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	a, err := BuildBeaconID(kp.PublicKey[:])
	if err != nil {
		t.Fatalf("build id failed: %v", err)
	}
	b, _ := BuildBeaconID(kp.PublicKey[:])
	if a != b || !strings.HasPrefix(a, "qrp1") {
		t.Fatalf("unexpected beacon ids: %s %s", a, b)
	}
	if _, err := BuildBeaconID([]byte{1, 2}); !errors.Is(err, crypto.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestPeerIDHashIsTruncatedSHA256(t *testing.T) {
	h := PeerIDHash(make([]byte, 32))
	// 16 bytes in padded base64url.
	if len(h) != 24 || !strings.HasSuffix(h, "==") {
		t.Fatalf("unexpected peer id hash: %q", h)
	}
	if strings.ContainsAny(h, "+/") {
		t.Fatalf("peer id hash must be url-safe: %q", h)
	}
}

func TestPublicationRoundtrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	raw, err := MarshalPublication(kp.PublicKey[:])
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `{"epkA":"`+kp.PublicKeyHex()+`"}` {
		t.Fatalf("unexpected publication: %s", raw)
	}
	got, err := ParsePublication(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(got) != string(kp.PublicKey[:]) {
		t.Fatal("publication key mismatch")
	}
}

func TestParsePublicationRejectsBadKeys(t *testing.T) {
	cases := []string{
		`not json`,
		`{"epkA":"zz"}`,
		`{"epkA":"abcd"}`,
		`{"epkA":"` + strings.Repeat("00", 32) + `"}`,
		`{}`,
	}
	for _, raw := range cases {
		if _, err := ParsePublication([]byte(raw)); !errors.Is(err, crypto.ErrInvalidKey) {
			t.Fatalf("%s: expected ErrInvalidKey, got %v", raw, err)
		}
	}
}
