package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/johanmast/kafka-flow/flow"
	"github.com/johanmast/kafka-flow/store/memstore"
)

func upsertOrDelete(ec *flow.EffectContext, state string, hasState bool, record flow.Record) (string, bool, error) {
	if len(record.Value) == 0 {
		return "", false, nil
	}
	return string(record.Value), true, nil
}

func newTestPartitionFlow(t *testing.T, store *memstore.Store[string], keys *memstore.KeyStore, clock flow.Clock, cfg flow.Config) *flow.PartitionFlow[string] {
	t.Helper()
	pf := flow.NewPartitionFlow[string](flow.PartitionFlowParams[string]{
		ApplicationID:  "app",
		GroupID:        "grp",
		TopicPartition: flow.TopicPartition{Topic: "input", Partition: 0},
		Config:         cfg,
		Clock:          clock,
		Fold:           upsertOrDelete,
		Store:          store,
		KeyStore:       keys,
	})
	return pf
}

func records(partition int32, key string, offsets []int64, values []string) []flow.Record {
	out := make([]flow.Record, len(offsets))
	for i, off := range offsets {
		var v []byte
		if values[i] != "" {
			v = []byte(values[i])
		}
		out[i] = flow.Record{
			TopicPartition: flow.TopicPartition{Topic: "input", Partition: partition},
			Offset:         off,
			Key:            []byte(key),
			Value:          v,
		}
	}
	return out
}

// Scenario 1 (spec §8): basic roundtrip, single key, in-memory store, with a
// restart in between.
func TestPartitionFlow_BasicRoundtripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	cfg := flow.Config{PersistEvery: 0, FlushOnRevoke: true}
	clock := flow.NewVirtualClock(time.Unix(0, 0))

	pf := newTestPartitionFlow(t, store, keys, clock, cfg)
	if err := pf.Recover(ctx, 1); err != nil {
		t.Fatalf("recover: %v", err)
	}
	batch := records(0, "key0", []int64{1, 2, 3}, []string{"1", "2", "3"})
	if err := pf.ProcessBatch(ctx, batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	state, ok, err := store.Get(ctx, flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "input", Partition: 0}, []byte("key0")))
	if err != nil || !ok || state != "3" {
		t.Fatalf("state = %q, %v, %v, want 3, true, nil", state, ok, err)
	}

	// "restart": a fresh PartitionFlow recovers from the same store/keyStore.
	pf2 := newTestPartitionFlow(t, store, keys, clock, cfg)
	if err := pf2.Recover(ctx, 4); err != nil {
		t.Fatalf("recover after restart: %v", err)
	}
	batch2 := records(0, "key0", []int64{4, 5, 6}, []string{"4", "5", "6"})
	if err := pf2.ProcessBatch(ctx, batch2); err != nil {
		t.Fatalf("process batch after restart: %v", err)
	}
	state, ok, err = store.Get(ctx, flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "input", Partition: 0}, []byte("key0")))
	if err != nil || !ok || state != "6" {
		t.Fatalf("state = %q, %v, %v, want 6, true, nil after restart", state, ok, err)
	}
}

// Scenario 2 (spec §8): state deletion and re-creation, with deletion
// idempotence surviving a restart.
func TestPartitionFlow_DeletionAndRecreation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	cfg := flow.Config{PersistEvery: 0, FlushOnRevoke: true}
	clock := flow.NewVirtualClock(time.Unix(0, 0))

	pf := newTestPartitionFlow(t, store, keys, clock, cfg)
	pf.Recover(ctx, 1)
	pf.ProcessBatch(ctx, records(0, "key0", []int64{1, 2, 3}, []string{"1", "2", "3"}))

	key := flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "input", Partition: 0}, []byte("key0"))
	if err := pf.ProcessBatch(ctx, records(0, "key0", []int64{7}, []string{""})); err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("expected key0 to be deleted in the store")
	}
	if n := store.Len(); n != 0 {
		t.Fatalf("store.Len() = %d, want 0 after deletion", n)
	}

	pf2 := newTestPartitionFlow(t, store, keys, clock, cfg)
	if err := pf2.Recover(ctx, 8); err != nil {
		t.Fatalf("recover after deletion: %v", err)
	}
	if err := pf2.ProcessBatch(ctx, records(0, "key0", []int64{9}, []string{""})); err != nil {
		t.Fatalf("redundant delete batch: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("deletion is not idempotent: key reappeared")
	}
}

// Scenario 6 (spec §8): flush on revoke persists all dirty keys; the next
// assignment recovers identical state.
func TestPartitionFlow_FlushOnRevoke(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	// The key's first-ever persist happens on the first batch; PersistEvery
	// is set high so the second batch does not trigger another regular
	// persist, and only the revoke flush should write v2 to the store.
	cfg := flow.Config{PersistEvery: time.Hour, FlushOnRevoke: true}
	clock := flow.NewVirtualClock(time.Unix(0, 0))

	pf := newTestPartitionFlow(t, store, keys, clock, cfg)
	pf.Recover(ctx, 1)
	pf.ProcessBatch(ctx, records(0, "key0", []int64{1}, []string{"v1"}))
	pf.ProcessBatch(ctx, records(0, "key0", []int64{2}, []string{"v2"}))

	key := flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "input", Partition: 0}, []byte("key0"))
	if state, _, _ := store.Get(ctx, key); state != "v1" {
		t.Fatalf("state = %q, want v1: v2 should not be persisted before revoke", state)
	}

	pf.FlushOnRevoke(ctx)
	state, ok, err := store.Get(ctx, key)
	if err != nil || !ok || state != "v2" {
		t.Fatalf("state = %q, %v, %v, want v2, true, nil after flush on revoke", state, ok, err)
	}

	pf2 := newTestPartitionFlow(t, store, keys, clock, cfg)
	if err := pf2.Recover(ctx, 3); err != nil {
		t.Fatalf("recover after revoke: %v", err)
	}
}

func TestPartitionFlow_FoldFailureAbortsBatchAndSurfacesPartitionFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	clock := flow.NewVirtualClock(time.Unix(0, 0))

	pf := flow.NewPartitionFlow[string](flow.PartitionFlowParams[string]{
		ApplicationID:  "app",
		GroupID:        "grp",
		TopicPartition: flow.TopicPartition{Topic: "input", Partition: 0},
		Config:         flow.Config{PersistEvery: 0},
		Clock:          clock,
		Fold: func(ec *flow.EffectContext, state string, hasState bool, record flow.Record) (string, bool, error) {
			return state, hasState, context.DeadlineExceeded
		},
		Store:    store,
		KeyStore: keys,
		FoldErrorHandler: func(key flow.KafkaKey, err error) flow.ErrorResponse {
			return flow.FailPartition
		},
	})
	pf.Recover(ctx, 1)
	err := pf.ProcessBatch(ctx, records(0, "key0", []int64{1}, []string{"v"}))
	var failure *flow.PartitionFailure
	if err == nil {
		t.Fatal("expected ProcessBatch to return an error")
	}
	if !asPartitionFailure(err, &failure) {
		t.Fatalf("expected *flow.PartitionFailure, got %T: %v", err, err)
	}
	if failure.Response != flow.FailPartition {
		t.Fatalf("response = %v, want FailPartition", failure.Response)
	}
}

func asPartitionFailure(err error, target **flow.PartitionFailure) bool {
	if pf, ok := err.(*flow.PartitionFailure); ok {
		*target = pf
		return true
	}
	return false
}
