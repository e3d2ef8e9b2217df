package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
	"unicode/utf8"
)

// TimestampLayout is MM/DD/YYYY-HH:MM:SS, always UTC on the wire.
const TimestampLayout = "01/02/2006-15:04:05"

// Older responders wrote the timestamp as a bare token: {"at":01/02/2006-15:04:05}.
var legacyBareTimestamp = regexp.MustCompile(`("at"\s*:\s*)(\d{2}/\d{2}/\d{4}-\d{2}:\d{2}:\d{2})(\s*}\s*)$`)

// Timestamp is a UTC instant carried with second precision. A value built
// without NewTimestamp keeps its sub-second part in memory, but the wire form
// and Equal only see whole seconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{Time: t}, nil
}

func (ts Timestamp) String() string {
	return ts.UTC().Format(TimestampLayout)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// MessageRecord is the plaintext a responder delivers to a beacon.
type MessageRecord struct {
	Sender string    `json:"from"`
	Note   string    `json:"note"`
	At     Timestamp `json:"at"`
}

func NewMessageRecord(sender, note string, at time.Time) MessageRecord {
	return MessageRecord{Sender: sender, Note: note, At: NewTimestamp(at)}
}

func (m MessageRecord) Equal(other MessageRecord) bool {
	return m.Sender == other.Sender &&
		m.Note == other.Note &&
		m.At.String() == other.At.String()
}

// EncodeMessage serializes m as a JSON object with fields in the order from, note, at.
// Fields must be valid UTF-8; encoding/json would otherwise replace the bad
// bytes and the record would not survive a round trip.
func EncodeMessage(m MessageRecord) ([]byte, error) {
	switch {
	case !utf8.ValidString(m.Sender):
		return nil, fmt.Errorf("%w: field from is not valid UTF-8", ErrMalformedPayload)
	case !utf8.ValidString(m.Note):
		return nil, fmt.Errorf("%w: field note is not valid UTF-8", ErrMalformedPayload)
	}
	return json.Marshal(m)
}

// DecodeMessage is the inverse of EncodeMessage. Every failure wraps
// ErrMalformedPayload and carries the underlying reason.
func DecodeMessage(data []byte) (MessageRecord, error) {
	if !json.Valid(data) {
		data = legacyBareTimestamp.ReplaceAll(data, []byte(`${1}"${2}"${3}`))
	}

	var raw struct {
		Sender *string    `json:"from"`
		Note   *string    `json:"note"`
		At     *Timestamp `json:"at"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return MessageRecord{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return MessageRecord{}, fmt.Errorf("%w: trailing data after record", ErrMalformedPayload)
	}
	switch {
	case raw.Sender == nil:
		return MessageRecord{}, fmt.Errorf("%w: missing field from", ErrMalformedPayload)
	case raw.Note == nil:
		return MessageRecord{}, fmt.Errorf("%w: missing field note", ErrMalformedPayload)
	case raw.At == nil:
		return MessageRecord{}, fmt.Errorf("%w: missing field at", ErrMalformedPayload)
	}
	return MessageRecord{Sender: *raw.Sender, Note: *raw.Note, At: *raw.At}, nil
}
