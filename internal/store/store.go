// Package store persists serialized sent messages in an embedded Badger
// database, keyed by the locally generated message id. It backs the
// optional GetEmail capability of delivery backends.
package store

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/productdevbook/unemail/internal/email"
	"github.com/productdevbook/unemail/internal/parser"
)

// defaultTTL keeps sent messages around for a week unless configured
// otherwise.
const defaultTTL = 7 * 24 * time.Hour

// Config configures the sent-message store.
type Config struct {
	// Dir is the Badger data directory.
	Dir string
	// TTL is how long a stored message stays retrievable.
	TTL time.Duration
}

// Store is a message-id keyed archive of serialized sent mail.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (creating if needed) the database at cfg.Dir. The caller
// must Close it.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Put records the serialized form of a sent message under its id.
func (s *Store) Put(id string, raw []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(id), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("storing message %s: %w", id, err)
	}
	return nil
}

// GetRaw returns the serialized message stored under id.
func (s *Store) GetRaw(id string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		// Values must be copied out of the transaction.
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}
	return raw, nil
}

// Get returns the stored message parsed back into send options.
func (s *Store) Get(id string) (*email.Options, error) {
	raw, err := s.GetRaw(id)
	if err != nil {
		return nil, err
	}
	return parser.Parse(raw)
}

// Cleanup runs Badger's value-log garbage collection. Expired messages
// are only reclaimed here, so call it periodically on long-lived
// processes.
func (s *Store) Cleanup() error {
	err := s.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close tears down the database.
func (s *Store) Close() error {
	return s.db.Close()
}
