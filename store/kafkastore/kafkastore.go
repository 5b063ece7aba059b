// Package kafkastore implements flow.SnapshotStore and flow.KeyStore on top
// of a compacted Kafka topic, per spec.md §6's wire format: a tombstone
// (nil value) deletes a key, and the latest value per key, after compaction,
// is its current snapshot. Grounded on the teacher library's
// change_log.go/global_change_log.go/commit_log.go trio: a GlobalChangeLog-
// style bootstrap consumer replays the topic from its start to its current
// end offsets (listed at call time) into an in-memory cache, and SyncMarker
// writes the teacher's marker record (sendMarkerMessage/isMarkerRecord) to a
// partition before a commit; replay skips marker records.
package kafkastore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/johanmast/kafka-flow/flow"
)

var markHeaderKey = "kafkaflow__mark"
var markPlaceholder = []byte{1}

var log flow.Logger = flow.SimpleLogger(flow.LogLevelError)

// Store is a SnapshotStore[S]+KeyStore backed by changelogTopic, one of
// which should be created per application/group, with enough partitions to
// co-locate with the source topic it shadows (spec.md §6: "Cassandra/Kafka
// compacted topic" are the two reference backends; this package is the
// Kafka one).
type Store[S any] struct {
	client *kgo.Client
	admin  *kadm.Client
	topic  string
	codec  flow.Codec[S]

	mu             sync.RWMutex
	values         map[string]S
	present        map[string]bool
	keys           map[string]flow.KafkaKey
	lastOffsetSeen map[int32]int64
}

// New creates a Store against an already-connected client. The caller owns
// client's lifecycle (and must have configured it with acks=all and
// enable.idempotence=true, per spec.md §6, for the topic's producer side).
func New[S any](client *kgo.Client, topic string, codec flow.Codec[S]) *Store[S] {
	return &Store[S]{
		client:         client,
		admin:          kadm.NewClient(client),
		topic:          topic,
		codec:          codec,
		values:         make(map[string]S),
		present:        make(map[string]bool),
		keys:           make(map[string]flow.KafkaKey),
		lastOffsetSeen: make(map[int32]int64),
	}
}

// Bootstrap replays changelogTopic from wherever its consumer last stopped
// up to the topic's current log-end offsets, into the in-memory cache. The
// first call (before anything has been consumed) is a full from-start
// replay; every later call is an incremental catch-up, so it's safe — and
// intended, per TopicFlow.Assign — to call this again on every partition
// assignment, not only the process's first. Partitions already caught up to
// the current end offset are skipped entirely rather than polled, so a
// repeat call with nothing new to read returns immediately instead of
// blocking on a partition that will never produce another fetch. The caller
// is responsible for constructing s.client with kgo.ConsumePartitions
// assigning it changelogTopic starting AtStart(); this mirrors the teacher's
// newChangeLogGroupConsumer, which owns its consumer's partition assignment
// the same way.
func (s *Store[S]) Bootstrap(ctx context.Context) error {
	ends, err := s.admin.ListEndOffsets(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("kafkastore: list end offsets for %q: %w", s.topic, err)
	}
	offsets := ends.Offsets()
	targets := make(map[int32]int64)
	for _, o := range offsets[s.topic] {
		if o.Offset <= 0 || s.caughtUpTo(o.Partition, o.Offset) {
			continue
		}
		targets[o.Partition] = o.Offset
	}
	if len(targets) == 0 {
		return nil
	}
	return s.replayWithMarker(ctx, targets)
}

// caughtUpTo reports whether partition has already been consumed through
// endOffset (exclusive, matching ListEndOffsets' "next offset to be
// written" convention). A partition never consumed is never caught up.
func (s *Store[S]) caughtUpTo(partition int32, endOffset int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.lastOffsetSeen[partition]
	return ok && last+1 >= endOffset
}

// replayWithMarker consumes s.client directly (it must already be assigned
// the changelog's partitions via kgo.ConsumePartitions by the caller's
// cluster wiring) until every partition in targets has been seen up to its
// recorded end offset, applying each record to the cache as it arrives.
func (s *Store[S]) replayWithMarker(ctx context.Context, targets map[int32]int64) error {
	remaining := make(map[int32]int64, len(targets))
	for p, off := range targets {
		remaining[p] = off
	}
	for len(remaining) > 0 {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		fetches := s.client.PollFetches(fetchCtx)
		cancel()
		if fetches.IsClientClosed() {
			return fmt.Errorf("kafkastore: client closed during bootstrap")
		}
		for _, e := range fetches.Errors() {
			if e.Err != nil && e.Err != fetchCtx.Err() {
				return fmt.Errorf("kafkastore: bootstrap fetch error on %s/%d: %w", e.Topic, e.Partition, e.Err)
			}
		}
		fetches.EachRecord(func(r *kgo.Record) {
			s.mu.Lock()
			if last, ok := s.lastOffsetSeen[r.Partition]; !ok || r.Offset > last {
				s.lastOffsetSeen[r.Partition] = r.Offset
			}
			s.mu.Unlock()
			s.apply(r)
			if want, ok := remaining[r.Partition]; ok && r.Offset+1 >= want {
				delete(remaining, r.Partition)
			}
		})
	}
	return nil
}

func (s *Store[S]) apply(r *kgo.Record) {
	if isMarkerRecord(r) {
		return
	}
	key := string(r.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.keys[key]; !known {
		s.keys[key] = flow.KafkaKey{TopicPartition: flow.TopicPartition{Topic: s.topic, Partition: r.Partition}, Key: key}
	}
	if r.Value == nil {
		delete(s.values, key)
		s.present[key] = false
		return
	}
	state, err := s.codec.Decode(r.Value)
	if err != nil {
		log.Errorf("kafkastore: failed to decode value for key %q, dropping: %v", key, err)
		return
	}
	s.values[key] = state
	s.present[key] = true
}

// SyncMarker produces a unique marker record to each of partitions and
// blocks until the broker has answered every produce, returning the first
// produce error. It does not wait for the markers to be consumed back by
// Bootstrap's replay; Persist and Delete already update the cache once their
// own writes are acked. PartitionFlow calls it before scheduling a commit.
func (s *Store[S]) SyncMarker(ctx context.Context, partitions []int32) error {
	mark := []byte(uuid.NewString())
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	wg.Add(len(partitions))
	for _, p := range partitions {
		record := &kgo.Record{
			Topic:     s.topic,
			Partition: p,
			Key:       markKey,
			Value:     mark,
			Headers:   []kgo.RecordHeader{{Key: markHeaderKey, Value: markPlaceholder}},
		}
		s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			wg.Done()
		})
	}
	wg.Wait()
	if firstErr != nil {
		return fmt.Errorf("kafkastore: produce sync marker: %w", firstErr)
	}
	return nil
}

var markKey = []byte("kafkaflow__mark")

func isMarkerRecord(r *kgo.Record) bool {
	return len(r.Headers) == 1 && r.Headers[0].Key == markHeaderKey
}

// Get returns the cached state for key.
func (s *Store[S]) Get(_ context.Context, key flow.KafkaKey) (S, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key.Key]
	return v, ok, nil
}

// Persist writes state to the changelog, acked before returning, then
// updates the cache.
func (s *Store[S]) Persist(ctx context.Context, key flow.KafkaKey, state S) error {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, state); err != nil {
		return fmt.Errorf("kafkastore: encode key %q: %w", key.Key, err)
	}
	record := &kgo.Record{
		Topic:     s.topic,
		Partition: key.TopicPartition.Partition,
		Key:       []byte(key.Key),
		Value:     buf.Bytes(),
	}
	if err := s.produceSync(ctx, record); err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key.Key] = state
	s.present[key.Key] = true
	s.keys[key.Key] = key
	s.mu.Unlock()
	return nil
}

// Delete writes a tombstone (nil value) for key, then updates the cache.
func (s *Store[S]) Delete(ctx context.Context, key flow.KafkaKey) error {
	record := &kgo.Record{
		Topic:     s.topic,
		Partition: key.TopicPartition.Partition,
		Key:       []byte(key.Key),
		Value:     nil,
	}
	if err := s.produceSync(ctx, record); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.values, key.Key)
	s.present[key.Key] = false
	s.mu.Unlock()
	return nil
}

func (s *Store[S]) produceSync(ctx context.Context, record *kgo.Record) error {
	result := s.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

// KeyStore delegates to the same cache Store maintains, grouping by
// partition so EagerRecovery can list exactly the keys owned by a partition.
type KeyStore[S any] struct {
	store *Store[S]
}

// NewKeyStore wraps store as a flow.KeyStore.
func NewKeyStore[S any](store *Store[S]) *KeyStore[S] {
	return &KeyStore[S]{store: store}
}

func (ks *KeyStore[S]) List(_ context.Context, partition int32) ([]flow.KafkaKey, error) {
	ks.store.mu.RLock()
	defer ks.store.mu.RUnlock()
	out := make([]flow.KafkaKey, 0)
	for key, k := range ks.store.keys {
		if !ks.store.present[key] {
			continue
		}
		if k.TopicPartition.Partition != partition {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (ks *KeyStore[S]) Add(_ context.Context, key flow.KafkaKey) error {
	ks.store.mu.Lock()
	ks.store.keys[key.Key] = key
	ks.store.mu.Unlock()
	return nil
}

func (ks *KeyStore[S]) Remove(_ context.Context, key flow.KafkaKey) error {
	ks.store.mu.Lock()
	delete(ks.store.keys, key.Key)
	ks.store.mu.Unlock()
	return nil
}
