package flow

import (
	"context"
	"testing"
	"time"
)

func TestTimerFlow_EvaluatePersistsDueKeys(t *testing.T) {
	store := newFakeStore()
	clock := NewVirtualClock(time.Unix(0, 0))
	cfg := Config{PersistEvery: time.Minute}
	tf := NewTimerFlow[string](cfg, clock, nil)

	ks := NewKeyState[string](testKey("k0"))
	ks.Apply(setFold, Record{Offset: 1, Value: []byte("v")})
	keys := map[string]*KeyState[string]{"k0": ks}

	if err := tf.Evaluate(context.Background(), store, 0, keys); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), testKey("k0")); !ok {
		t.Fatal("expected first-ever persist to fire on the first Evaluate pass")
	}

	ks.Apply(setFold, Record{Offset: 2, Value: []byte("v2")})
	if err := tf.Evaluate(context.Background(), store, 0, keys); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if v, _, _ := store.Get(context.Background(), testKey("k0")); v != "v" {
		t.Fatalf("state = %q, want v (persistEvery has not elapsed yet)", v)
	}

	clock.Advance(time.Minute)
	if err := tf.Evaluate(context.Background(), store, 0, keys); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if v, _, _ := store.Get(context.Background(), testKey("k0")); v != "v2" {
		t.Fatalf("state = %q, want v2 after persistEvery elapses", v)
	}
}

func TestTimerFlow_EvaluateStopsOnFirstPersistError(t *testing.T) {
	store := newFakeStore()
	store.failOn["k0"] = true
	clock := NewVirtualClock(time.Unix(0, 0))
	cfg := Config{PersistEvery: time.Minute}
	tf := NewTimerFlow[string](cfg, clock, nil)

	ks := NewKeyState[string](testKey("k0"))
	ks.Apply(setFold, Record{Offset: 1, Value: []byte("v")})
	keys := map[string]*KeyState[string]{"k0": ks}

	err := tf.Evaluate(context.Background(), store, 0, keys)
	if err == nil {
		t.Fatal("expected Evaluate to propagate a persist failure when IgnorePersistErrors is unset")
	}
}

func TestTimerFlow_FlushDirtySwallowsErrors(t *testing.T) {
	store := newFakeStore()
	store.failOn["k0"] = true
	clock := NewVirtualClock(time.Unix(0, 0))
	cfg := Config{PersistEvery: time.Hour}
	tf := NewTimerFlow[string](cfg, clock, nil)

	ks := NewKeyState[string](testKey("k0"))
	ks.Apply(setFold, Record{Offset: 1, Value: []byte("v")})
	keys := map[string]*KeyState[string]{"k0": ks}

	tf.FlushDirty(context.Background(), store, 0, keys)
	if !ks.Dirty() {
		t.Fatal("key should remain dirty: its persist failed")
	}
}

func TestTimerFlow_FlushDirtySkipsCleanKeys(t *testing.T) {
	store := newFakeStore()
	clock := NewVirtualClock(time.Unix(0, 0))
	cfg := Config{PersistEvery: time.Hour}
	tf := NewTimerFlow[string](cfg, clock, nil)

	ks := NewKeyState[string](testKey("k0"))
	tf.FlushDirty(context.Background(), store, 0, map[string]*KeyState[string]{"k0": ks})
	if _, ok, _ := store.Get(context.Background(), testKey("k0")); ok {
		t.Fatal("expected no persist for a clean key with no unpersisted work")
	}
}
