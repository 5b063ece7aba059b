// Package memstore provides an in-process SnapshotStore and KeyStore,
// grounded on the teacher library's in-memory changeLogPartition bookkeeping
// (streams/change_log.go) but trimmed to a plain map, since there is no
// changelog topic to replay here. Suitable for tests and low-volume
// applications that accept losing state across restarts.
package memstore

import (
	"context"
	"sync"

	"github.com/johanmast/kafka-flow/flow"
)

// Store is a SnapshotStore[S] backed by a map guarded by a mutex. Safe for
// concurrent use across partitions.
type Store[S any] struct {
	mu    sync.RWMutex
	items map[string]S
}

// New creates an empty Store.
func New[S any]() *Store[S] {
	return &Store[S]{items: make(map[string]S)}
}

func (s *Store[S]) Get(_ context.Context, key flow.KafkaKey) (S, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key.Key]
	return v, ok, nil
}

func (s *Store[S]) Persist(_ context.Context, key flow.KafkaKey, state S) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key.Key] = state
	return nil
}

func (s *Store[S]) Delete(_ context.Context, key flow.KafkaKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key.Key)
	return nil
}

// Len returns the number of keys currently persisted. Useful for assertions
// in tests.
func (s *Store[S]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// KeyStore is a KeyStore backed by a map of partition -> set of keys.
type KeyStore struct {
	mu         sync.RWMutex
	partitions map[int32]map[string]flow.KafkaKey
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{partitions: make(map[int32]map[string]flow.KafkaKey)}
}

func (ks *KeyStore) List(_ context.Context, partition int32) ([]flow.KafkaKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	keys := ks.partitions[partition]
	out := make([]flow.KafkaKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, k)
	}
	return out, nil
}

func (ks *KeyStore) Add(_ context.Context, key flow.KafkaKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	partition := key.TopicPartition.Partition
	m, ok := ks.partitions[partition]
	if !ok {
		m = make(map[string]flow.KafkaKey)
		ks.partitions[partition] = m
	}
	m[key.Key] = key
	return nil
}

func (ks *KeyStore) Remove(_ context.Context, key flow.KafkaKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if m, ok := ks.partitions[key.TopicPartition.Partition]; ok {
		delete(m, key.Key)
	}
	return nil
}
