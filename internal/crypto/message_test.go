package crypto

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeMessageFieldOrderAndTimestampFormat(t *testing.T) {
	msg := NewMessageRecord("alice", "hello", time.Date(2024, time.December, 1, 18, 5, 9, 0, time.UTC))
	got := string(mustEncode(t, msg))
	want := `{"from":"alice","note":"hello","at":"12/01/2024-18:05:09"}`
	if got != want {
		t.Fatalf("unexpected encoding:\n got %s\nwant %s", got, want)
	}
}

func TestEncodeMessageEscapesUserControlledFields(t *testing.T) {
	msg := NewMessageRecord(`bob","note":"forged`, "line1\nline2 \"quoted\" }", time.Now())
	decoded, err := DecodeMessage(mustEncode(t, msg))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.Equal(msg) {
		t.Fatalf("injective encoding violated: %+v vs %+v", decoded, msg)
	}
}

func TestNewMessageRecordNormalizesToSecondsUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	msg := NewMessageRecord("a", "b", time.Date(2025, time.January, 2, 3, 4, 5, 999, loc))
	if msg.At.String() != "01/02/2025-02:04:05" {
		t.Fatalf("unexpected timestamp: %s", msg.At)
	}
	decoded, err := DecodeMessage(mustEncode(t, msg))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != msg {
		t.Fatalf("decoded record differs: %+v vs %+v", decoded, msg)
	}
}

func TestDecodeMessageAcceptsLegacyBareTimestamp(t *testing.T) {
	legacy := []byte(`{"from":"alice","note":"hello","at":03/14/2025-09:26:53}`)
	msg, err := DecodeMessage(legacy)
	if err != nil {
		t.Fatalf("decode legacy failed: %v", err)
	}
	if msg.Sender != "alice" || msg.Note != "hello" || msg.At.String() != "03/14/2025-09:26:53" {
		t.Fatalf("unexpected legacy decode: %+v", msg)
	}
}

func TestDecodeMessageAcceptsAnyFieldOrder(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"at":"03/14/2025-09:26:53","note":"n","from":"f"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Sender != "f" || msg.Note != "n" {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeMessageRejectsMalformedRecords(t *testing.T) {
	cases := map[string]string{
		"not json":       `hello`,
		"array":          `["alice","hello"]`,
		"missing from":   `{"note":"n","at":"03/14/2025-09:26:53"}`,
		"missing note":   `{"from":"f","at":"03/14/2025-09:26:53"}`,
		"missing at":     `{"from":"f","note":"n"}`,
		"bad timestamp":  `{"from":"f","note":"n","at":"2025-03-14T09:26:53Z"}`,
		"numeric at":     `{"from":"f","note":"n","at":12}`,
		"unknown field":  `{"from":"f","note":"n","at":"03/14/2025-09:26:53","x":1}`,
		"trailing data":  `{"from":"f","note":"n","at":"03/14/2025-09:26:53"}{}`,
		"wrong type":     `{"from":1,"note":"n","at":"03/14/2025-09:26:53"}`,
		"legacy garbage": `{"from":"f","note":"n","at":99/99/9999-99:99:99}`,
	}
	for name, raw := range cases {
		_, err := DecodeMessage([]byte(raw))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
		if !strings.Contains(err.Error(), ErrMalformedPayload.Error()+":") {
			t.Fatalf("%s: malformed payload should carry detail, got %q", name, err)
		}
	}
}

func TestEncodeMessageRejectsInvalidUTF8(t *testing.T) {
	at := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)
	for name, msg := range map[string]MessageRecord{
		"from": NewMessageRecord("al\xffice", "hello", at),
		"note": NewMessageRecord("alice", "he\xc3llo", at),
	} {
		if _, err := EncodeMessage(msg); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
		kp := fixedIdentity(t)
		if _, err := Encrypt(kp.PublicKey[:], msg); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: encrypt should refuse the record, got %v", name, err)
		}
	}
}

func TestEqualIgnoresSubSecondPartOfHandBuiltTimestamp(t *testing.T) {
	at := time.Date(2025, time.March, 14, 9, 26, 53, 500, time.UTC)
	msg := MessageRecord{Sender: "alice", Note: "hello", At: Timestamp{Time: at}}
	decoded, err := DecodeMessage(mustEncode(t, msg))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.Equal(msg) {
		t.Fatalf("round trip must compare equal at second precision: %s vs %s", decoded.At, msg.At)
	}
	if decoded.At.Nanosecond() != 0 {
		t.Fatalf("wire form must carry whole seconds, got %d ns", decoded.At.Nanosecond())
	}
}
