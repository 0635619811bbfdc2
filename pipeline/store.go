package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var opsBucket = []byte("operations")

// Store persists operation stage transitions in a local bbolt file so the
// approve/create saga survives an interruption between its two independently
// observable transactions. A nil *Store is a valid no-op store.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the operation store at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open operation store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(opsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init operation store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes the operation's current state.
func (s *Store) Save(op *Operation) error {
	if s == nil || s.db == nil || op == nil {
		return nil
	}
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(opsBucket).Put([]byte(op.ID), raw)
	})
}

// Get loads one operation by id.
func (s *Store) Get(id string) (*Operation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("operation store not configured")
	}
	var op *Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(opsBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("operation %s not found", id)
		}
		op = new(Operation)
		return json.Unmarshal(raw, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Pending lists every persisted operation that has not reached a terminal
// stage, oldest first. Used on startup to report interrupted sagas.
func (s *Store) Pending() ([]*Operation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []*Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(opsBucket).ForEach(func(_, raw []byte) error {
			op := new(Operation)
			if err := json.Unmarshal(raw, op); err != nil {
				return err
			}
			if !op.Terminal() {
				out = append(out, op)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// Prune removes terminal operations older than the retention window.
func (s *Store) Prune(olderThan time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(opsBucket)
		var stale [][]byte
		err := bucket.ForEach(func(k, raw []byte) error {
			op := new(Operation)
			if err := json.Unmarshal(raw, op); err != nil {
				return err
			}
			if op.Terminal() && op.UpdatedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
