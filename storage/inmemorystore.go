package storage

import (
	"context"
	"sync"
)

// InMemoryStore is a Store implementation powered by maps, to be used for
// testing or single-process deployments. Records are spread across shards by
// hash of the user ID, each shard guarded by its own mutex.
type InMemoryStore struct {
	shards [shardCount]memoryShard
}

type memoryShard struct {
	sync.Mutex
	m map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	var s InMemoryStore
	for i := range s.shards {
		s.shards[i].m = make(map[string][]byte)
	}
	return &s
}

func (s *InMemoryStore) shard(userID string) *memoryShard {
	return &s.shards[shardFor(userID)]
}

func (s *InMemoryStore) Get(_ context.Context, userID string) ([]byte, error) {
	sh := s.shard(userID)
	sh.Lock()
	value, ok := sh.m[userID]
	sh.Unlock()
	if !ok {
		return nil, notFound(userID)
	}
	return dup(value), nil
}

func (s *InMemoryStore) Set(_ context.Context, userID string, payload []byte) error {
	sh := s.shard(userID)
	sh.Lock()
	sh.m[userID] = dup(payload)
	sh.Unlock()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	sh := s.shard(userID)
	sh.Lock()
	defer sh.Unlock()
	if _, ok := sh.m[userID]; !ok {
		return notFound(userID)
	}
	delete(sh.m, userID)
	return nil
}
