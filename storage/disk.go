package storage

import (
	"bytes"
	"context"
	"crypto/sha512"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// DiskStore implements Store with one file per user under a directory. Writes
// go through a temporary file and a rename, so readers see either the old or
// the new payload, never a partial one.
type DiskStore struct {
	dir   string
	locks shardedLocks
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Get(ctx context.Context, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", userID, err)
	}
	value, err := os.ReadFile(s.pathFor(userID))
	if os.IsNotExist(err) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, unavailable("get", userID, err)
	}
	return dup(value), nil
}

func (s *DiskStore) Set(ctx context.Context, userID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", userID, err)
	}
	valpath := s.pathFor(userID)
	if err := os.MkdirAll(filepath.Dir(valpath), 0700); err != nil {
		return unavailable("set", userID, fmt.Errorf("could not make dir for %q: %w", valpath, err))
	}
	unlock := s.locks.lock(userID)
	defer unlock()
	if err := atomic.WriteFile(valpath, bytes.NewReader(payload)); err != nil {
		return unavailable("set", userID, err)
	}
	return nil
}

func (s *DiskStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", userID, err)
	}
	unlock := s.locks.lock(userID)
	defer unlock()
	err := os.Remove(s.pathFor(userID))
	if os.IsNotExist(err) {
		return notFound(userID)
	}
	if err != nil {
		return unavailable("delete", userID, err)
	}
	return nil
}

func (s *DiskStore) pathFor(userID string) string {
	key := []byte(userID)
	// Prevent ENAMETOOLONG, while retaining low probability of clashes.
	if len(key) > sha512.Size {
		hash := sha512.Sum512(key)
		key = hash[:]
	}
	hex := fmt.Sprintf("%02x", key)
	if len(hex) < 2 {
		hex = "00" + hex
	}
	return filepath.Join(s.dir, hex[:2], hex)
}
