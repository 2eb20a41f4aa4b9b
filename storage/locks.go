package storage

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const shardCount = 64

// shardedLocks hands out one of a fixed set of mutexes for a given user ID.
// Distinct users may share a shard, the same user always gets the same one.
type shardedLocks struct {
	mu [shardCount]sync.Mutex
}

func shardFor(userID string) uint64 {
	return xxh3.HashString(userID) % shardCount
}

func (l *shardedLocks) lock(userID string) (unlock func()) {
	m := &l.mu[shardFor(userID)]
	m.Lock()
	return m.Unlock
}
