// Package pebblestore implements flow.SnapshotStore on top of an embedded
// Pebble LSM tree, one instance per partition, grounded on the kstreams
// pebble store backend (stores/pebble/pebble.go): a directory per partition
// under a shared state root, non-synchronous writes for throughput, and
// ErrNotFound translated to Get's (zero, false, nil) contract.
package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/johanmast/kafka-flow/flow"
)

// Store is a SnapshotStore[S] backed by a single Pebble database, suited to
// a single-writer deployment where one partition's keys never collide with
// another's encoded key prefix.
type Store[S any] struct {
	db    *pebble.DB
	codec flow.Codec[S]
	mu    sync.Mutex
}

// Open opens (creating if absent) a Pebble database rooted at dir.
func Open[S any](dir string, codec flow.Codec[S]) (*Store[S], error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", dir, err)
	}
	return &Store[S]{db: db, codec: codec}, nil
}

// Dir returns the on-disk directory a partition's Pebble database should
// live in, mirroring kstreams' "<stateDir>/<name>/partition-<n>" layout.
func Dir(stateDir, name string, partition int32) string {
	if stateDir == "" {
		stateDir = "/tmp/kafka-flow"
	}
	return fmt.Sprintf("%s/%s/partition-%d", stateDir, name, partition)
}

func (s *Store[S]) Get(_ context.Context, key flow.KafkaKey) (S, bool, error) {
	var zero S
	v, closer, err := s.db.Get([]byte(key.Key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("pebblestore: get %q: %w", key.Key, err)
	}
	defer closer.Close()
	state, err := s.codec.Decode(v)
	if err != nil {
		return zero, false, fmt.Errorf("pebblestore: decode %q: %w", key.Key, err)
	}
	return state, true, nil
}

func (s *Store[S]) Persist(_ context.Context, key flow.KafkaKey, state S) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, state); err != nil {
		return fmt.Errorf("pebblestore: encode %q: %w", key.Key, err)
	}
	if err := s.db.Set([]byte(key.Key), buf.Bytes(), &pebble.WriteOptions{Sync: false}); err != nil {
		return fmt.Errorf("pebblestore: set %q: %w", key.Key, err)
	}
	return nil
}

func (s *Store[S]) Delete(_ context.Context, key flow.KafkaKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete([]byte(key.Key), &pebble.WriteOptions{Sync: false}); err != nil {
		return fmt.Errorf("pebblestore: delete %q: %w", key.Key, err)
	}
	return nil
}

// Flush forces pending writes to stable storage, for use on partition revoke.
func (s *Store[S]) Flush() error {
	return s.db.Flush()
}

// Close flushes and closes the underlying database.
func (s *Store[S]) Close() error {
	if err := s.db.Flush(); err != nil {
		return err
	}
	return s.db.Close()
}

// KeyStore enumerates keys by iterating the Pebble database directly: since
// Pebble already stores every live key once (a tombstone removes it), the
// store itself is both the SnapshotStore and the KeyStore.
type KeyStore[S any] struct {
	store *Store[S]
}

// NewKeyStore wraps store as a flow.KeyStore. One Pebble database here holds
// exactly one partition's keys (Dir segregates partitions on disk), so List
// returns every key in the database, tagged with whatever partition argument
// it is called with.
func NewKeyStore[S any](store *Store[S]) *KeyStore[S] {
	return &KeyStore[S]{store: store}
}

func (ks *KeyStore[S]) List(_ context.Context, partition int32) ([]flow.KafkaKey, error) {
	iter, err := ks.store.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: new iterator: %w", err)
	}
	defer iter.Close()

	var keys []flow.KafkaKey
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, flow.KafkaKey{
			TopicPartition: flow.TopicPartition{Partition: partition},
			Key:            string(iter.Key()),
		})
	}
	return keys, iter.Error()
}

// Add is a no-op: Persist already makes the key durable in the database,
// which List enumerates directly.
func (ks *KeyStore[S]) Add(context.Context, flow.KafkaKey) error { return nil }

// Remove is a no-op for the same reason: Delete already removed the key.
func (ks *KeyStore[S]) Remove(context.Context, flow.KafkaKey) error { return nil }
