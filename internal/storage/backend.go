package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"qr-pass/go-backend/internal/securestore"
	"qr-pass/go-backend/pkg/models"

	bolt "go.etcd.io/bbolt"
)

type snapshotBackend interface {
	load() (snapshot, error)
	save(snapshot) error
	close() error
}

// fileBackend writes the whole store as one JSON document, sealed when secret is set.
type fileBackend struct {
	path   string
	secret string
}

func (b *fileBackend) load() (snapshot, error) {
	data, err := securestore.ReadMaybeSealed(b.path, b.secret, storePurpose)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot{}, nil
		}
		return snapshot{}, err
	}
	var snap snapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (b *fileBackend) save(snap snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return securestore.WriteMaybeSealed(b.path, b.secret, storePurpose, data)
}

func (b *fileBackend) close() error { return nil }

var (
	envelopesBucket  = []byte("envelopes")
	encountersBucket = []byte("encounters")
)

type boltBackend struct {
	db *bolt.DB
}

func openBoltBackend(path string) (*boltBackend, error) {
	if path == "" {
		return nil, errors.New("bolt store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{envelopesBucket, encountersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) load() (snapshot, error) {
	snap := snapshot{
		Envelopes:  make(map[string]models.StoredEnvelope),
		Encounters: make(map[string]models.Encounter),
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(envelopesBucket).ForEach(func(k, v []byte) error {
			var msg models.StoredEnvelope
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("envelope %s: %w", k, err)
			}
			snap.Envelopes[string(k)] = msg
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(encountersBucket).ForEach(func(k, v []byte) error {
			var enc models.Encounter
			if err := json.Unmarshal(v, &enc); err != nil {
				return fmt.Errorf("encounter %s: %w", k, err)
			}
			snap.Encounters[string(k)] = enc
			return nil
		})
	})
	if err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// save replaces both buckets in a single transaction.
func (b *boltBackend) save(snap snapshot) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := replaceBucket(tx, envelopesBucket, snap.Envelopes); err != nil {
			return err
		}
		return replaceBucket(tx, encountersBucket, snap.Encounters)
	})
}

func replaceBucket[V any](tx *bolt.Tx, name []byte, records map[string]V) error {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}
	bucket, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	for key, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (b *boltBackend) close() error {
	return b.db.Close()
}
