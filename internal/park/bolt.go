package park

import (
	"errors"
	"fmt"
	"time"

	"relaydesk/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketParked = []byte("parked")
)

// BoltStore parks records in a bbolt file so they survive a restart of the
// console. Each scope is a nested bucket keyed by sequence.
type BoltStore struct {
	db    *bbolt.DB
	limit int
}

func NewBoltStore(path string, limit int) (*BoltStore, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketParked)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db, limit: limit}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Park appends msgs to the scope and trims the oldest records beyond the
// limit.
func (s *BoltStore) Park(scope string, msgs []models.Message) error {
	if scope == "" {
		return errors.New("park scope is empty")
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketParked).CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return fmt.Errorf("failed to create scope bucket: %w", err)
		}

		for _, m := range msgs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec := fromModel(seq, m)
			data, err := rec.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := b.Put(rec.Key(), data); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}

		c := b.Cursor()
		extra := -s.limit
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			extra++
		}
		for k, _ := c.First(); k != nil && extra > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			extra--
		}
		return nil
	})
}

// Drain returns the parked records of scope, oldest first, and deletes them.
func (s *BoltStore) Drain(scope string) ([]models.Message, error) {
	var out []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		parked := tx.Bucket(bucketParked)
		b := parked.Bucket([]byte(scope))
		if b == nil {
			return nil
		}

		err := b.ForEach(func(k, v []byte) error {
			var rec DBMessage
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			out = append(out, rec.toModel())
			return nil
		})
		if err != nil {
			return err
		}
		return parked.DeleteBucket([]byte(scope))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scopes lists scopes that have parked records.
func (s *BoltStore) Scopes() ([]string, error) {
	var scopes []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketParked).ForEachBucket(func(k []byte) error {
			scopes = append(scopes, string(k))
			return nil
		})
	})
	return scopes, err
}
