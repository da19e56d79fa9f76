// Package syncutil holds keyed locking helpers shared by the detectors.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// DefaultShards is the shard count used by NewShardedMutex(0).
const DefaultShards = 256

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Memory stays bounded regardless of how many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
//
// Shards are one-slot channels so a waiter can give up when its context ends.
type ShardedMutex struct {
	shards []chan struct{}
	once   sync.Once
	n      int
}

// NewShardedMutex creates a mutex pool with n shards (DefaultShards if n <= 0).
func NewShardedMutex(n int) *ShardedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &ShardedMutex{n: n}
	m.init()
	return m
}

func (m *ShardedMutex) init() {
	m.once.Do(func() {
		if m.n <= 0 {
			m.n = DefaultShards
		}
		m.shards = make([]chan struct{}, m.n)
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (m *ShardedMutex) Lock(key string) func() {
	m.init()
	shard := m.shard(key)
	<-shard
	return func() { shard <- struct{}{} }
}

// LockContext acquires the mutex for key unless ctx ends first. On success
// the caller MUST call the returned unlock function.
func (m *ShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shard(key)
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ShardedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}
