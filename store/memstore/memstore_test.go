package memstore

import (
	"context"
	"testing"

	"github.com/johanmast/kafka-flow/flow"
)

func key(k string) flow.KafkaKey {
	return flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "t", Partition: 0}, []byte(k))
}

func TestStore_PersistGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New[string]()

	if _, ok, err := s.Get(ctx, key("k0")); err != nil || ok {
		t.Fatalf("get on empty store: ok=%v err=%v, want false, nil", ok, err)
	}
	if err := s.Persist(ctx, key("k0"), "v1"); err != nil {
		t.Fatalf("persist: %v", err)
	}
	v, ok, err := s.Get(ctx, key("k0"))
	if err != nil || !ok || v != "v1" {
		t.Fatalf("get after persist: v=%q ok=%v err=%v, want v1, true, nil", v, ok, err)
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}

	if err := s.Delete(ctx, key("k0")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.Get(ctx, key("k0")); err != nil || ok {
		t.Fatalf("get after delete: ok=%v err=%v, want false, nil", ok, err)
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0 after delete", n)
	}
}

func TestKeyStore_AddListRemove(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore()

	if err := ks.Add(ctx, key("k0")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ks.Add(ctx, key("k1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	listed, err := ks.List(ctx, 0)
	if err != nil || len(listed) != 2 {
		t.Fatalf("list = %v, %v, want 2 keys", listed, err)
	}

	if err := ks.Remove(ctx, key("k0")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	listed, err = ks.List(ctx, 0)
	if err != nil || len(listed) != 1 || listed[0].Key != "k1" {
		t.Fatalf("list after remove = %v, %v, want [k1]", listed, err)
	}
}

func TestKeyStore_ListIsolatedByPartition(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore()
	k0 := flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "t", Partition: 0}, []byte("k0"))
	k1 := flow.NewKafkaKey("app", "grp", flow.TopicPartition{Topic: "t", Partition: 1}, []byte("k0"))

	ks.Add(ctx, k0)
	ks.Add(ctx, k1)

	p0, _ := ks.List(ctx, 0)
	p1, _ := ks.List(ctx, 1)
	if len(p0) != 1 || len(p1) != 1 {
		t.Fatalf("expected one key per partition, got p0=%d p1=%d", len(p0), len(p1))
	}
}
