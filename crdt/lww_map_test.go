package crdt

import "testing"

func TestLWWMapPutAndGet(t *testing.T) {
	m := NewLWWMap("profile")
	m.Put("name", "alice", 100, "r1")

	value, ok := m.Get("name")
	if !ok || value != "alice" {
		t.Fatalf("expected alice present, got %v %v", value, ok)
	}
}

func TestLWWMapRemoveOutranksEarlierPut(t *testing.T) {
	m := NewLWWMap("profile")
	m.Put("name", "alice", 100, "r1")
	m.Remove("name", 200, "r1")

	if _, ok := m.Get("name"); ok {
		t.Fatal("expected key removed")
	}
}

func TestLWWMapPutAfterRemoveWins(t *testing.T) {
	m := NewLWWMap("profile")
	m.Put("name", "alice", 100, "r1")
	m.Remove("name", 200, "r1")
	m.Put("name", "bob", 300, "r1")

	value, ok := m.Get("name")
	if !ok || value != "bob" {
		t.Fatalf("expected bob present after later put, got %v %v", value, ok)
	}
}

func TestLWWMapExactTieIsAbsent(t *testing.T) {
	// Equal (timestamp, replica) for both add and remove stamps: neither
	// outranks the other, so the key reads as absent.
	m := NewLWWMap("profile")
	m.Put("name", "alice", 100, "r1")
	m.Remove("name", 100, "r1")

	if _, ok := m.Get("name"); ok {
		t.Fatal("expected exact (timestamp, replica) tie to resolve to absent")
	}
}

func TestLWWMapClearRemovesAllPresentKeys(t *testing.T) {
	m := NewLWWMap("profile")
	m.Put("name", "alice", 100, "r1")
	m.Put("age", 30, 100, "r1")
	m.Clear(200, "r1")

	if len(m.Keys()) != 0 {
		t.Fatalf("expected empty map after clear, got %v", m.Keys())
	}
}

func TestLWWMapMergeConverges(t *testing.T) {
	a := NewLWWMap("profile")
	a.Put("name", "alice", 100, "r1")

	b := NewLWWMap("profile")
	b.Put("name", "bob", 150, "r2")

	if err := a.Merge(b.Snapshot()); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	value, ok := a.Get("name")
	if !ok || value != "bob" {
		t.Fatalf("expected bob (higher timestamp) to win, got %v %v", value, ok)
	}

	if err := b.Merge(a.Snapshot()); err != nil {
		t.Fatalf("Merge back: %v", err)
	}
	bv, _ := b.Get("name")
	if bv != value {
		t.Fatalf("replicas failed to converge: %v != %v", value, bv)
	}
}
