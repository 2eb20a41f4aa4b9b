package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/boltdb/bolt"
)

// BoltStore is an implementation of Store whose backend is a Bolt database.
// Bolt serializes writers, which gives us per-user ordering for free.
type BoltStore bolt.DB

var (
	bucketName = []byte("keydata")

	errNoRecord = errors.New("no record")
)

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("could not ensure bucket %q exists: %w", bucketName, err)
		}
		return nil
	})
	return (*BoltStore)(db), err
}

func (s *BoltStore) Get(ctx context.Context, userID string) (value []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", userID, err)
	}
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(userID))
		if v == nil {
			return errNoRecord
		}
		// Only valid for the lifetime of the transaction.
		value = dup(v)
		return nil
	})
	if errors.Is(err, errNoRecord) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, unavailable("get", userID, err)
	}
	return value, nil
}

func (s *BoltStore) Set(ctx context.Context, userID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", userID, err)
	}
	err := (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(userID), dup(payload))
	})
	if err != nil {
		return unavailable("set", userID, err)
	}
	return nil
}

func (s *BoltStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", userID, err)
	}
	err := (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(userID)) == nil {
			return errNoRecord
		}
		return b.Delete([]byte(userID))
	})
	if errors.Is(err, errNoRecord) {
		return notFound(userID)
	}
	if err != nil {
		return unavailable("delete", userID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return (*bolt.DB)(s).Close()
}
