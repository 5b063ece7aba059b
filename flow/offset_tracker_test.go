package flow

import (
	"context"
	"testing"
	"time"
)

type fakeHeld struct {
	lastSeen  int64
	persisted int64
	has       bool
}

func (f fakeHeld) LastSeenOffset() int64          { return f.lastSeen }
func (f fakeHeld) PersistedOffset() (int64, bool) { return f.persisted, f.has }

func TestOffsetTracker_NoLiveKeysFallsBackToHighWatermark(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(100, time.Minute, clock)

	if safe := ot.SafeCommitOffset(nil); safe != 100 {
		t.Fatalf("safe = %d, want 100 before any record is processed", safe)
	}
	ot.NoteRecordProcessed(105)
	if safe := ot.SafeCommitOffset(nil); safe != 106 {
		t.Fatalf("safe = %d, want 106 after processing up to offset 105", safe)
	}
}

// Scenario 3 (spec §8): additional persist advances commit despite a
// laggier sibling key.
func TestOffsetTracker_AdditionalPersistAdvancesCommit(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(101, time.Minute, clock)

	for _, off := range []int64{101, 102, 103, 104, 105, 106} {
		ot.NoteRecordProcessed(off)
	}
	// key1 additionally persisted through offset 102 (key1:value2) and key2
	// through offset 104 (key2:value4); both have seen later records since.
	dirty := []heldOffset{
		fakeHeld{lastSeen: 103, persisted: 102, has: true},
		fakeHeld{lastSeen: 106, persisted: 104, has: true},
	}
	safe := ot.SafeCommitOffset(dirty)
	if safe != 103 {
		t.Fatalf("safe = %d, want 103 (one past key1's additionally-persisted offset)", safe)
	}
}

// Scenario 4 (spec §8): persist failure with ignorePersistErrors=true must
// not advance the safe offset past the last key still holding it back.
func TestOffsetTracker_PersistFailureHoldsBackCommit(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(101, time.Minute, clock)

	// key1's last durable state is offset 107 (its T=66 additional persist);
	// its later attempt to persist "value10" failed and was ignored, so
	// persistedOffset stays at 107 even though lastSeenOffset has moved past it.
	dirty := []heldOffset{
		fakeHeld{lastSeen: 126, persisted: 107, has: true},
	}
	safe := ot.SafeCommitOffset(dirty)
	if safe != 108 {
		t.Fatalf("safe = %d, want 108 (one past key1's last durable offset)", safe)
	}
}

// Scenario 5 (spec §8): a recovered-but-untouched key must not hold back
// the commit offset once another key in the partition catches up.
func TestOffsetTracker_EagerRecoveryDoesNotHoldBackCommit(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(500, time.Minute, clock)

	key1 := Recovered[string](testKey("key1"), "A", true, 500)
	key2 := Recovered[string](testKey("key2"), "B", true, 500)
	_ = key1
	_ = key2

	ot.NoteRecordProcessed(501)
	key3 := NewKeyState[string](testKey("key3"))
	key3.Apply(setFold, Record{Offset: 501, Value: []byte("C")})
	key3.Persist(context.Background(), noopStore[string]{}, clock.Now(), AdditionalPersist{}, false)

	// key1/key2 were recovered but never touched again this session, so they
	// must be excluded from the live-holds set passed in here.
	safe := ot.SafeCommitOffset(nil)
	if safe != 502 {
		t.Fatalf("safe = %d, want 502", safe)
	}
}

type noopStore[S any] struct{}

func (noopStore[S]) Get(context.Context, KafkaKey) (S, bool, error) {
	var zero S
	return zero, false, nil
}
func (noopStore[S]) Persist(context.Context, KafkaKey, S) error { return nil }
func (noopStore[S]) Delete(context.Context, KafkaKey) error     { return nil }

func TestOffsetTracker_ShouldCommit_FirstCommitFiresImmediately(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(100, time.Minute, clock)

	if !ot.ShouldCommit(101) {
		t.Fatal("expected the first commit after assignment to fire as soon as safe advances")
	}
	ot.RecordCommit(101)

	if ot.ShouldCommit(101) {
		t.Fatal("should not recommit the same offset")
	}
	if ot.ShouldCommit(102) {
		t.Fatal("second commit should be gated by commitInterval")
	}
	clock.Advance(time.Minute)
	if !ot.ShouldCommit(102) {
		t.Fatal("expected commit to be allowed once commitInterval elapses")
	}
}

func TestOffsetTracker_MonotonicCommits(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ot := NewOffsetTracker(0, 0, clock)

	ot.RecordCommit(10)
	if ot.ShouldCommit(5) {
		t.Fatal("must never schedule a commit offset lower than the last committed offset")
	}
}

// fakeKeyStore is a minimal in-memory flow.KeyStore for the end-to-end
// PartitionFlow test below. It can't live in a _test.go file outside
// package flow without importing store/memstore, which would import flow
// back and cycle.
type fakeKeyStore struct {
	byPartition map[int32]map[string]KafkaKey
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{byPartition: map[int32]map[string]KafkaKey{}}
}

func (ks *fakeKeyStore) List(_ context.Context, partition int32) ([]KafkaKey, error) {
	out := make([]KafkaKey, 0, len(ks.byPartition[partition]))
	for _, k := range ks.byPartition[partition] {
		out = append(out, k)
	}
	return out, nil
}

func (ks *fakeKeyStore) Add(_ context.Context, key KafkaKey) error {
	m, ok := ks.byPartition[key.TopicPartition.Partition]
	if !ok {
		m = map[string]KafkaKey{}
		ks.byPartition[key.TopicPartition.Partition] = m
	}
	m[key.Key] = key
	return nil
}

func (ks *fakeKeyStore) Remove(_ context.Context, key KafkaKey) error {
	delete(ks.byPartition[key.TopicPartition.Partition], key.Key)
	return nil
}

// TestPartitionFlow_Scenario3_AdditionalPersistAdvancesCommit runs spec.md
// §8 scenario 3's literal six-record batch through PartitionFlow itself,
// rather than asserting OffsetTracker's math in isolation against
// hand-built heldOffset values. Each record is delivered in its own
// ProcessBatch call, the way the broker actually delivers them one fetch at
// a time; PartitionFlow evaluates TimerFlow at the end of every call
// regardless of batch size (per spec.md §4.4's "fireEvery = 0 means
// evaluate after every batch"), so the additional persist triggered by
// key1:value2 and key2:value4 takes effect before the next same-key record
// (key1:value3, key2:value5) advances that key's state any further.
func TestPartitionFlow_Scenario3_AdditionalPersistAdvancesCommit(t *testing.T) {
	store := newFakeStore()
	keyStore := newFakeKeyStore()
	clock := NewVirtualClock(time.Unix(0, 0))

	fold := func(ec *EffectContext, _ string, _ bool, record Record) (string, bool, error) {
		v := string(record.Value)
		if v == "value2" || v == "value4" {
			ec.RequestAdditionalPersist()
		}
		return v, true, nil
	}

	var lastCommitted int64
	var commitCount int

	pf := NewPartitionFlow[string](PartitionFlowParams[string]{
		ApplicationID:  "app",
		GroupID:        "grp",
		TopicPartition: TopicPartition{Topic: "t", Partition: 0},
		Config:         Config{PersistEvery: time.Hour, CommitOffsetsInterval: 0},
		Clock:          clock,
		Fold:           fold,
		Store:          store,
		KeyStore:       keyStore,
		ScheduleCommit: func(_ TopicPartition, offset int64) {
			lastCommitted = offset
			commitCount++
		},
	})

	ctx := context.Background()
	if err := pf.Recover(ctx, 101); err != nil {
		t.Fatalf("recover: %v", err)
	}

	batch := []Record{
		{Offset: 101, Key: []byte("key1"), Value: []byte("value1")},
		{Offset: 102, Key: []byte("key1"), Value: []byte("value2")},
		{Offset: 103, Key: []byte("key1"), Value: []byte("value3")},
		{Offset: 104, Key: []byte("key2"), Value: []byte("value4")},
		{Offset: 105, Key: []byte("key2"), Value: []byte("value5")},
		{Offset: 106, Key: []byte("key2"), Value: []byte("value6")},
	}
	for _, record := range batch {
		record.TopicPartition = TopicPartition{Topic: "t", Partition: 0}
		if err := pf.ProcessBatch(ctx, []Record{record}); err != nil {
			t.Fatalf("process batch at offset %d: %v", record.Offset, err)
		}
	}

	if commitCount == 0 {
		t.Fatal("expected at least one scheduled commit")
	}
	if lastCommitted != 103 {
		t.Fatalf("committed offset = %d, want 103 (one past key1's additionally-persisted offset)", lastCommitted)
	}

	key1 := testKey("key1")
	v1, ok := store.values[key1.Key], store.present[key1.Key]
	if !ok || v1 != "value2" {
		t.Fatalf("store[key1] = %q, present=%v, want value2, true", v1, ok)
	}
	key2 := testKey("key2")
	v2, ok := store.values[key2.Key], store.present[key2.Key]
	if !ok || v2 != "value4" {
		t.Fatalf("store[key2] = %q, present=%v, want value4, true", v2, ok)
	}
}
