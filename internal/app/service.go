package app

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"qr-pass/go-backend/internal/crypto"
	"qr-pass/go-backend/internal/identity"
	"qr-pass/go-backend/internal/platform/metrics"
	"qr-pass/go-backend/internal/platform/ratelimiter"
	"qr-pass/go-backend/internal/storage"
	"qr-pass/go-backend/pkg/models"
)

var (
	ErrThrottled        = errors.New("too many failed openings from this source")
	ErrStoreDisabled    = errors.New("envelope store is not configured")
	ErrIdentityRequired = errors.New("identity manager is required")
	ErrEnvelopeNotFound = errors.New("envelope not found")
)

// Options wires a Service. Only Identities is required.
type Options struct {
	Identities  *identity.Manager
	Store       *storage.EnvelopeStore
	MessagesDir string
	Metrics     *metrics.Recorder
	Limiter     *ratelimiter.FailureLimiter
	Logger      *slog.Logger
}

type Service struct {
	identities  *identity.Manager
	store       *storage.EnvelopeStore
	messagesDir string
	metrics     *metrics.Recorder
	limiter     *ratelimiter.FailureLimiter
	logger      *slog.Logger
	random      io.Reader
	now         func() time.Time
}

type BeaconInfo struct {
	ID              string `json:"id"`
	PublicKey       string `json:"epkA"`
	PeerIDHash      string `json:"peerIdHash"`
	PublicationPath string `json:"publicationPath,omitempty"`
	Created         bool   `json:"created"`
}

type PreparedMessage struct {
	ID           string          `json:"id,omitempty"`
	ToPeerIDHash string          `json:"toPeerIdHash"`
	Envelope     crypto.Envelope `json:"envelope"`
	Path         string          `json:"path,omitempty"`
}

type InboxMessage struct {
	ID      string               `json:"id"`
	Message crypto.MessageRecord `json:"message"`
}

// InboxResult lists what DrainInbox opened; Failed holds ids that stay pending.
type InboxResult struct {
	Opened []InboxMessage `json:"opened"`
	Failed []string       `json:"failed,omitempty"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Identities == nil {
		return nil, ErrIdentityRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		identities:  opts.Identities,
		store:       opts.Store,
		messagesDir: strings.TrimSpace(opts.MessagesDir),
		metrics:     opts.Metrics,
		limiter:     opts.Limiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// InitBeacon loads the beacon identity, generating and publishing it on first use.
func (s *Service) InitBeacon() (BeaconInfo, error) {
	id, created, err := s.identities.LoadOrGenerate()
	if err != nil {
		s.logger.Error("beacon init failed", "error", err.Error())
		return BeaconInfo{}, err
	}
	defer id.Wipe()
	info := BeaconInfo{
		ID:              id.ID,
		PublicKey:       id.Keys.PublicKeyHex(),
		PeerIDHash:      identity.PeerIDHash(id.Keys.PublicKey[:]),
		PublicationPath: s.identities.Config().PublicationPath,
		Created:         created,
	}
	s.logger.Info("beacon ready", "beacon_id", info.ID, "created", created)
	return info, nil
}

// ExportBackup returns the beacon private key as a BIP-39 phrase.
func (s *Service) ExportBackup() (string, error) {
	id, err := s.identities.Load()
	if err != nil {
		return "", err
	}
	defer id.Wipe()
	return identity.ExportMnemonic(id)
}

// RestoreBackup replaces the stored beacon identity with the one encoded by
// mnemonic and republishes it.
func (s *Service) RestoreBackup(mnemonic string) (BeaconInfo, error) {
	id, err := s.identities.Restore(mnemonic)
	if err != nil {
		return BeaconInfo{}, err
	}
	defer id.Wipe()
	s.logger.Info("beacon restored", "beacon_id", id.ID)
	return BeaconInfo{
		ID:              id.ID,
		PublicKey:       id.Keys.PublicKeyHex(),
		PeerIDHash:      identity.PeerIDHash(id.Keys.PublicKey[:]),
		PublicationPath: s.identities.Config().PublicationPath,
	}, nil
}

// PrepareMessage encrypts a message to the beacon named by a scanned
// {"epkA": ...} record, stages it for rendering and keeps a copy for delivery.
func (s *Service) PrepareMessage(beaconRecord []byte, sender, note string) (PreparedMessage, error) {
	started := s.now()
	recipient, err := identity.ParsePublication(beaconRecord)
	if err != nil {
		s.metrics.ObserveSeal(started, metrics.ResultInvalidRecipient)
		return PreparedMessage{}, err
	}
	msg := crypto.NewMessageRecord(sender, note, started)
	var env crypto.Envelope
	if s.random != nil {
		env, err = crypto.EncryptWithRandom(s.random, recipient, msg)
	} else {
		env, err = crypto.Encrypt(recipient, msg)
	}
	if err != nil {
		s.metrics.ObserveSeal(started, sealResult(err))
		return PreparedMessage{}, err
	}
	s.metrics.ObserveSeal(started, metrics.ResultOK)

	out := PreparedMessage{
		ToPeerIDHash: identity.PeerIDHash(recipient),
		Envelope:     env,
	}
	if s.messagesDir != "" {
		payload, err := env.MarshalJSON()
		if err != nil {
			return PreparedMessage{}, err
		}
		path, err := WriteResponse(s.messagesDir, started, payload)
		if err != nil {
			return PreparedMessage{}, err
		}
		out.Path = path
	}
	if s.store != nil {
		id, err := s.store.SaveEnvelope(models.StoredEnvelope{
			ToPeerIDHash: out.ToPeerIDHash,
			Envelope:     env.Record(),
			CreatedAt:    started,
		})
		if err != nil {
			if out.Path != "" {
				discardResponse(out.Path)
			}
			return PreparedMessage{}, err
		}
		out.ID = id
		if _, err := s.store.SaveEncounter(out.ToPeerIDHash, started); err != nil {
			s.logger.Warn("encounter not recorded", "peer_id_hash", out.ToPeerIDHash, "error", err.Error())
		}
	}
	s.logger.Info("response prepared", "peer_id_hash", out.ToPeerIDHash, "envelope_id", out.ID)
	return out, nil
}

// OpenMessage decrypts a scanned envelope record with the beacon identity.
// source names the capture channel; repeated authentication failures from
// one source are throttled.
func (s *Service) OpenMessage(source string, raw []byte) (crypto.MessageRecord, error) {
	started := s.now()
	if !s.limiter.Allow(source, started) {
		s.metrics.ObserveOpen(started, metrics.ResultThrottled)
		s.logger.Warn("open throttled", "source", source)
		return crypto.MessageRecord{}, ErrThrottled
	}
	env, err := crypto.ParseEnvelope(raw)
	if err != nil {
		s.metrics.ObserveOpen(started, metrics.ResultInvalidEnvelope)
		return crypto.MessageRecord{}, err
	}
	id, err := s.identities.Load()
	if err != nil {
		s.metrics.ObserveOpen(started, metrics.ResultIdentityMissing)
		return crypto.MessageRecord{}, err
	}
	defer id.Wipe()
	msg, result, err := s.decrypt(id.Keys, env, started)
	if result == metrics.ResultAuthFailed {
		s.limiter.RecordFailure(source, started)
	}
	if err != nil {
		s.logger.Warn("open failed", "source", source, "result", result)
		return crypto.MessageRecord{}, err
	}
	s.logger.Info("envelope opened", "source", source, "sender", msg.Sender)
	return msg, nil
}

func (s *Service) decrypt(keys crypto.KeyPair, env crypto.Envelope, started time.Time) (crypto.MessageRecord, string, error) {
	msg, err := crypto.Decrypt(keys, env)
	if err != nil {
		result := openResult(err)
		s.metrics.ObserveOpen(started, result)
		return crypto.MessageRecord{}, result, err
	}
	s.metrics.ObserveOpen(started, metrics.ResultOK)
	return msg, metrics.ResultOK, nil
}

// ReceiveEnvelope keeps a delivered envelope addressed to this beacon for a
// later DrainInbox.
func (s *Service) ReceiveEnvelope(raw []byte) (string, error) {
	if s.store == nil {
		return "", ErrStoreDisabled
	}
	env, err := crypto.ParseEnvelope(raw)
	if err != nil {
		return "", err
	}
	id, err := s.identities.Load()
	if err != nil {
		return "", err
	}
	self := identity.PeerIDHash(id.Keys.PublicKey[:])
	id.Wipe()
	envelopeID, err := s.store.SaveEnvelope(models.StoredEnvelope{
		ToPeerIDHash: self,
		Envelope:     env.Record(),
		CreatedAt:    s.now(),
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("envelope received", "envelope_id", envelopeID)
	return envelopeID, nil
}

// DrainInbox opens every pending envelope addressed to this beacon and marks
// the ones that open as delivered. Envelopes that fail stay pending and are
// listed by id. The failure limiter does not apply: the store only holds
// what ReceiveEnvelope accepted. A delivery flag that cannot be written is
// reported after the loop; the message is still returned in Opened and stays
// pending, so it is opened again next time.
func (s *Service) DrainInbox() (InboxResult, error) {
	if s.store == nil {
		return InboxResult{}, ErrStoreDisabled
	}
	id, err := s.identities.Load()
	if err != nil {
		return InboxResult{}, err
	}
	defer id.Wipe()

	var (
		result   InboxResult
		firstErr error
	)
	for _, stored := range s.store.ListPending(identity.PeerIDHash(id.Keys.PublicKey[:])) {
		started := s.now()
		env, err := crypto.EnvelopeFromRecord(stored.Envelope)
		if err != nil {
			s.metrics.ObserveOpen(started, metrics.ResultInvalidEnvelope)
			result.Failed = append(result.Failed, stored.ID)
			continue
		}
		msg, outcome, err := s.decrypt(id.Keys, env, started)
		if err != nil {
			s.logger.Warn("inbox envelope failed", "envelope_id", stored.ID, "result", outcome)
			result.Failed = append(result.Failed, stored.ID)
			continue
		}
		result.Opened = append(result.Opened, InboxMessage{ID: stored.ID, Message: msg})
		if _, err := s.store.MarkDelivered(stored.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("inbox drained", "opened", len(result.Opened), "failed", len(result.Failed))
	return result, firstErr
}

// Encounters lists the beacons this device prepared responses for, most
// recently seen first.
func (s *Service) Encounters() ([]models.Encounter, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListEncounters(), nil
}

// Envelopes lists every stored envelope, delivered or not, oldest first.
func (s *Service) Envelopes() ([]models.StoredEnvelope, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListAll(), nil
}

// PendingFor lists envelopes still to be handed to peerIDHash, oldest first.
func (s *Service) PendingFor(peerIDHash string) ([]models.StoredEnvelope, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.ListPending(strings.TrimSpace(peerIDHash)), nil
}

// MarkDelivered records that a carried envelope reached its beacon.
func (s *Service) MarkDelivered(envelopeID string) error {
	if s.store == nil {
		return ErrStoreDisabled
	}
	ok, err := s.store.MarkDelivered(envelopeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEnvelopeNotFound
	}
	return nil
}

func sealResult(err error) string {
	switch {
	case errors.Is(err, crypto.ErrInvalidKey):
		return metrics.ResultInvalidRecipient
	case errors.Is(err, crypto.ErrEntropyUnavailable):
		return metrics.ResultEntropy
	default:
		return metrics.ResultMalformed
	}
}

func openResult(err error) string {
	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailed):
		return metrics.ResultAuthFailed
	case errors.Is(err, crypto.ErrMalformedPayload):
		return metrics.ResultMalformed
	default:
		return metrics.ResultInvalidEnvelope
	}
}
