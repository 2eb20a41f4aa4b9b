package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store holds at most one opaque payload per user ID.
//
// Implementations must serialize operations on the same user ID, so that
// concurrent Set, Delete and Get calls observe a last-writer-wins order. They
// must never return slices aliasing memory passed to Set, nor retain slices
// returned by Get.
type Store interface {
	// Get should return ErrNotFound if there is no record for the user.
	Get(ctx context.Context, userID string) (payload []byte, err error)

	// Set creates or overwrites the record for the user.
	Set(ctx context.Context, userID string, payload []byte) (err error)

	// Delete should return ErrNotFound if there was no record for the user.
	Delete(ctx context.Context, userID string) (err error)
}

// Pinger is implemented by stores that can report on the health of the
// underlying medium.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	// ErrNotFound indicates there is no record for a user.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the storage medium failed or timed out. Errors
	// coming from drivers and SDKs are wrapped so that they match both
	// ErrUnavailable and the original error.
	ErrUnavailable = errors.New("backend unavailable")
)

func notFound(userID string) error {
	return fmt.Errorf("%.40q: %w", userID, ErrNotFound)
}

func unavailable(op string, userID string, err error) error {
	return fmt.Errorf("could not %s %.40q: %w: %w", op, userID, ErrUnavailable, err)
}

func dup(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
