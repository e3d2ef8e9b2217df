package models

import "time"

// BeaconRecord is the publication a beacon hands to the rendering collaborator.
// PublicKey is lowercase hex without prefix.
type BeaconRecord struct {
	PublicKey string `json:"epkA"`
}

// EnvelopeRecord is the interchange form of an encrypted message.
type EnvelopeRecord struct {
	EphemeralPublicKey string `json:"epkB"`
	Nonce              string `json:"nonce"`
	Ciphertext         string `json:"ciphertext"`
}

type StoredEnvelope struct {
	ID             string         `json:"id"`
	ToPeerIDHash   string         `json:"to_peer_id_hash"`
	FromPeerIDHash string         `json:"from_peer_id_hash,omitempty"`
	Envelope       EnvelopeRecord `json:"envelope"`
	CreatedAt      time.Time      `json:"created_at"`
	Delivered      bool           `json:"delivered"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}

type Encounter struct {
	PeerIDHash string    `json:"peer_id_hash"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}
