package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"qr-pass/go-backend/pkg/models"

	"github.com/google/uuid"
)

const storePurpose = "envelope-store"

var (
	ErrEnvelopeIDConflict = errors.New("envelope id conflict")
	ErrPeerIDHashRequired = errors.New("peer id hash is required")
	ErrPersist            = errors.New("envelope store write failed")
)

type snapshot struct {
	Envelopes  map[string]models.StoredEnvelope `json:"envelopes"`
	Encounters map[string]models.Encounter      `json:"encounters"`
}

// EnvelopeStore keeps envelopes carried for (or received by) a peer until they
// are delivered, plus the peers seen so far. A persistent store writes every
// change through to its backend before it becomes visible.
type EnvelopeStore struct {
	mu         sync.RWMutex
	envelopes  map[string]models.StoredEnvelope
	encounters map[string]models.Encounter
	backend    snapshotBackend
	now        func() time.Time
}

func NewEnvelopeStore() *EnvelopeStore {
	return &EnvelopeStore{
		envelopes:  make(map[string]models.StoredEnvelope),
		encounters: make(map[string]models.Encounter),
		now:        time.Now,
	}
}

func NewPersistentEnvelopeStore(path, secret string) (*EnvelopeStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewEnvelopeStore(), nil
	}
	return newStoreWithBackend(&fileBackend{path: path, secret: secret})
}

// NewBoltEnvelopeStore keeps one record per envelope and encounter in a bbolt
// database at path. Close releases the file lock.
func NewBoltEnvelopeStore(path string) (*EnvelopeStore, error) {
	backend, err := openBoltBackend(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	s, err := newStoreWithBackend(backend)
	if err != nil {
		_ = backend.close()
		return nil, err
	}
	return s, nil
}

func newStoreWithBackend(backend snapshotBackend) (*EnvelopeStore, error) {
	s := NewEnvelopeStore()
	snap, err := backend.load()
	if err != nil {
		return nil, err
	}
	if snap.Envelopes != nil {
		s.envelopes = snap.Envelopes
	}
	if snap.Encounters != nil {
		s.encounters = snap.Encounters
	}
	s.backend = backend
	return s, nil
}

func (s *EnvelopeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.close()
	s.backend = nil
	return err
}

// SaveEnvelope stores msg as undelivered and returns its id. A caller-chosen
// id that is already used by different content is rejected.
func (s *EnvelopeStore) SaveEnvelope(msg models.StoredEnvelope) (string, error) {
	if strings.TrimSpace(msg.ToPeerIDHash) == "" {
		return "", ErrPeerIDHashRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.now().UTC()
	msg.Delivered = false
	msg.DeliveredAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.envelopes[msg.ID]; ok {
		if existing.ToPeerIDHash == msg.ToPeerIDHash && existing.Envelope == msg.Envelope {
			return msg.ID, nil
		}
		return "", ErrEnvelopeIDConflict
	}
	next := cloneMap(s.envelopes)
	next[msg.ID] = msg
	if err := s.persistLocked(next, s.encounters); err != nil {
		return "", err
	}
	s.envelopes = next
	return msg.ID, nil
}

func (s *EnvelopeStore) GetEnvelope(id string) (models.StoredEnvelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.envelopes[id]
	return msg, ok
}

// ListPending returns undelivered envelopes addressed to peerIDHash, oldest first.
func (s *EnvelopeStore) ListPending(peerIDHash string) []models.StoredEnvelope {
	return s.list(func(m models.StoredEnvelope) bool {
		return m.ToPeerIDHash == peerIDHash && !m.Delivered
	})
}

// ListAll returns every stored envelope, oldest first.
func (s *EnvelopeStore) ListAll() []models.StoredEnvelope {
	return s.list(func(models.StoredEnvelope) bool { return true })
}

func (s *EnvelopeStore) list(keep func(models.StoredEnvelope) bool) []models.StoredEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StoredEnvelope, 0)
	for _, m := range s.envelopes {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkDelivered flags the envelope as handed over. Unknown ids are ignored.
func (s *EnvelopeStore) MarkDelivered(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.envelopes[id]
	if !ok {
		return false, nil
	}
	if msg.Delivered {
		return true, nil
	}
	at := s.now().UTC()
	msg.Delivered = true
	msg.DeliveredAt = &at
	next := cloneMap(s.envelopes)
	next[id] = msg
	if err := s.persistLocked(next, s.encounters); err != nil {
		return false, err
	}
	s.envelopes = next
	return true, nil
}

// SaveEncounter records that peerIDHash was seen at ts.
func (s *EnvelopeStore) SaveEncounter(peerIDHash string, ts time.Time) (models.Encounter, error) {
	if strings.TrimSpace(peerIDHash) == "" {
		return models.Encounter{}, ErrPeerIDHashRequired
	}
	ts = ts.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.encounters[peerIDHash]
	if !ok {
		enc = models.Encounter{PeerIDHash: peerIDHash, FirstSeen: ts}
	}
	if ts.After(enc.LastSeen) {
		enc.LastSeen = ts
	}
	next := cloneMap(s.encounters)
	next[peerIDHash] = enc
	if err := s.persistLocked(s.envelopes, next); err != nil {
		return models.Encounter{}, err
	}
	s.encounters = next
	return enc, nil
}

// ListEncounters returns encounters, most recently seen first.
func (s *EnvelopeStore) ListEncounters() []models.Encounter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Encounter, 0, len(s.encounters))
	for _, e := range s.encounters {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func (s *EnvelopeStore) persistLocked(envelopes map[string]models.StoredEnvelope, encounters map[string]models.Encounter) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.save(snapshot{Envelopes: envelopes, Encounters: encounters}); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
