package sqlitestore

import (
	"testing"

	"github.com/amaydixit11/meld/crdt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := crdt.NewORSet("members", nil)
	c.Add("alice", "tag1")

	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, typ, ok, err := s.Load("members")
	if err != nil || !ok {
		t.Fatalf("Load: %v %v", err, ok)
	}
	if typ != crdt.TypeORSet {
		t.Fatalf("expected ORSet, got %s", typ)
	}
	rebuilt, err := crdt.FromSnapshot(snap, nil)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if !rebuilt.(*crdt.ORSet).Contains("alice") {
		t.Fatal("expected alice present in rebuilt ORSet")
	}
}

func TestSQLiteStoreUpsertOverwrites(t *testing.T) {
	s := openTestStore(t)

	c := crdt.NewGCounter("views")
	c.Increment("r1", 1)
	s.Save(c)

	c.Increment("r1", 9)
	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, _, _, _ := s.Load("views")
	rebuilt, _ := crdt.FromSnapshot(snap, nil)
	if rebuilt.(*crdt.GCounter).Value() != 10 {
		t.Fatalf("expected upsert to overwrite to 10, got %d", rebuilt.(*crdt.GCounter).Value())
	}
}

func TestSQLiteStoreHasListRemoveClear(t *testing.T) {
	s := openTestStore(t)
	s.Save(crdt.NewGCounter("a"))
	s.Save(crdt.NewGCounter("b"))

	if has, _ := s.Has("a"); !has {
		t.Fatal("expected a present")
	}
	ids, _ := s.ListIds()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	removed, _ := s.Remove("a")
	if !removed {
		t.Fatal("expected remove to report true")
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ids, _ = s.ListIds()
	if len(ids) != 0 {
		t.Fatalf("expected empty store after clear, got %v", ids)
	}
}

func TestSQLiteStoreLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, _, ok, err := s.Load("missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing id")
	}
}

func TestSQLiteStoreStats(t *testing.T) {
	s := openTestStore(t)
	s.Save(crdt.NewGCounter("a"))
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCRDTs != 1 {
		t.Fatalf("expected 1 crdt, got %d", stats.TotalCRDTs)
	}
}
