package manager

import (
	"testing"
	"time"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/store/memstore"
	"github.com/amaydixit11/meld/transport/local"
)

func testFactory(id string, typ crdt.Type) (crdt.CRDT, error) {
	switch typ {
	case crdt.TypeGCounter:
		return crdt.NewGCounter(id), nil
	case crdt.TypeORSet:
		return crdt.NewORSet(id, nil), nil
	}
	return nil, &crdt.FactoryMissingError{Key: id}
}

func newTestManager(t *testing.T, bus *local.Bus, nodeID string) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	tr := local.New(bus, nodeID)
	m, err := New(Config{Store: st, Transport: tr, NodeID: nodeID, Factory: testFactory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, st
}

func TestManagerRegisterRejectsDuplicateId(t *testing.T) {
	bus := local.NewBus()
	m, _ := newTestManager(t, bus, "a")

	if err := m.Register(crdt.NewGCounter("views")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := m.Register(crdt.NewGCounter("views"))
	if _, ok := err.(*DuplicateId); !ok {
		t.Fatalf("expected DuplicateId, got %v", err)
	}
}

func TestManagerPerformOperationUnknownIdFails(t *testing.T) {
	bus := local.NewBus()
	m, _ := newTestManager(t, bus, "a")

	err := m.PerformOperation("missing", "increment", nil)
	if _, ok := err.(*NotFound); !ok {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestManagerPerformOperationAppliesPersistsAndPublishes(t *testing.T) {
	bus := local.NewBus()
	a, aStore := newTestManager(t, bus, "a")
	b, _ := newTestManager(t, bus, "b")

	if err := a.Register(crdt.NewGCounter("views")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := b.Register(crdt.NewGCounter("views")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ops := a.SubscribeOperations()
	defer ops.Close()
	bUpdates := b.SubscribeUpdates()
	defer bUpdates.Close()

	if err := a.PerformOperation("views", "increment", map[string]any{"amount": float64(3)}); err != nil {
		t.Fatalf("PerformOperation: %v", err)
	}

	c, _ := a.GetByID("views")
	if c.(*crdt.GCounter).Value() != 3 {
		t.Fatalf("expected local value 3, got %d", c.(*crdt.GCounter).Value())
	}

	snap, _, ok, err := aStore.Load("views")
	if err != nil || !ok {
		t.Fatalf("expected persisted snapshot, err=%v ok=%v", err, ok)
	}
	rebuilt, _ := crdt.FromSnapshot(snap, nil)
	if rebuilt.(*crdt.GCounter).Value() != 3 {
		t.Fatalf("expected persisted value 3, got %d", rebuilt.(*crdt.GCounter).Value())
	}

	select {
	case ev := <-ops.Events():
		if ev.Source != SourceLocal || ev.CRDTID != "views" {
			t.Fatalf("unexpected operation event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local operation event")
	}

	select {
	case ev := <-bUpdates.Events():
		if ev.Kind != UpdateApplied || ev.CRDTID != "views" {
			t.Fatalf("unexpected update event on b: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote dispatch on b")
	}

	bc, _ := b.GetByID("views")
	if bc.(*crdt.GCounter).Value() != 3 {
		t.Fatalf("expected b's replica to converge to 3, got %d", bc.(*crdt.GCounter).Value())
	}
}

func TestManagerSyncWithAddressedToSelfIsApplied(t *testing.T) {
	bus := local.NewBus()
	a, _ := newTestManager(t, bus, "a")
	b, _ := newTestManager(t, bus, "b")

	a.Register(crdt.NewORSet("tags", nil))
	gs := crdt.NewORSet("tags", nil)
	gs.Add("x", "tag1")
	b.Register(gs)

	syncEvents := b.SubscribeSync()
	defer syncEvents.Close()

	if err := b.SyncWith("a"); err != nil {
		t.Fatalf("SyncWith: %v", err)
	}

	ac, _ := a.GetByID("tags")
	deadline := time.Now().Add(time.Second)
	for !ac.(*crdt.ORSet).Contains("x") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !ac.(*crdt.ORSet).Contains("x") {
		t.Fatal("expected a to receive x via addressed sync")
	}

	select {
	case ev := <-syncEvents.Events():
		if ev.Tag != SyncPublished || ev.PeerID != "a" {
			t.Fatalf("unexpected sync event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish-side sync event")
	}
}

func TestManagerSyncWithAddressedToOtherPeerIsDropped(t *testing.T) {
	bus := local.NewBus()
	a, _ := newTestManager(t, bus, "a")
	c, _ := newTestManager(t, bus, "c")
	b, _ := newTestManager(t, bus, "b")

	gs := crdt.NewORSet("tags", nil)
	gs.Add("x", "tag1")
	a.Register(gs)
	c.Register(crdt.NewORSet("tags", nil))
	b.Register(crdt.NewORSet("tags", nil))

	if err := a.SyncWith("c"); err != nil {
		t.Fatalf("SyncWith: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	bc, _ := b.GetByID("tags")
	if bc.(*crdt.ORSet).Contains("x") {
		t.Fatal("expected b to be excluded from a sync addressed to c")
	}
}

func TestManagerForceSyncReachesAllPeers(t *testing.T) {
	bus := local.NewBus()
	a, _ := newTestManager(t, bus, "a")
	b, _ := newTestManager(t, bus, "b")
	c, _ := newTestManager(t, bus, "c")

	gc := crdt.NewGCounter("views")
	gc.Increment("a", 7)
	a.Register(gc)
	b.Register(crdt.NewGCounter("views"))
	c.Register(crdt.NewGCounter("views"))

	if err := a.ForceSync(); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bc, _ := b.GetByID("views")
		cc, _ := c.GetByID("views")
		if bc.(*crdt.GCounter).Value() == 7 && cc.(*crdt.GCounter).Value() == 7 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for force sync to reach both peers")
}

func TestManagerUnregisterDetachesWithoutDeletingStoredState(t *testing.T) {
	bus := local.NewBus()
	m, st := newTestManager(t, bus, "a")
	m.Register(crdt.NewGCounter("views"))

	removed, err := m.Unregister("views")
	if err != nil || !removed {
		t.Fatalf("Unregister: removed=%v err=%v", removed, err)
	}
	if _, ok := m.GetByID("views"); ok {
		t.Fatal("expected views to be detached")
	}
	if has, _ := st.Has("views"); !has {
		t.Fatal("expected unregister to leave persisted state intact")
	}
}

func TestManagerCloseIsIdempotentAndRejectsFurtherWork(t *testing.T) {
	bus := local.NewBus()
	st := memstore.New()
	tr := local.New(bus, "a")
	m, err := New(Config{Store: st, Transport: tr, NodeID: "a"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err = m.Register(crdt.NewGCounter("views"))
	if _, ok := err.(AlreadyClosed); !ok {
		t.Fatalf("expected AlreadyClosed, got %v", err)
	}
}

func TestManagerPerformOperationRGAInsertByIndex(t *testing.T) {
	bus := local.NewBus()
	a, _ := newTestManager(t, bus, "a")

	seq := crdt.NewRGA("doc", nil)
	if err := a.Register(seq); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := a.PerformOperation("doc", "insert", map[string]any{"index": 0, "value": "a"}); err != nil {
		t.Fatalf("PerformOperation insert at 0: %v", err)
	}
	if err := a.PerformOperation("doc", "insert", map[string]any{"index": 1, "value": "c"}); err != nil {
		t.Fatalf("PerformOperation insert at 1: %v", err)
	}
	if err := a.PerformOperation("doc", "insert", map[string]any{"index": 1, "value": "b"}); err != nil {
		t.Fatalf("PerformOperation insert at 1: %v", err)
	}

	c, _ := a.GetByID("doc")
	rga := c.(*crdt.RGA)
	if got := rga.Values(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected [a b c] via index-addressed inserts routed through the manager, got %v", got)
	}

	if err := a.PerformOperation("doc", "insert", map[string]any{"index": 10, "value": "z"}); err == nil {
		t.Fatal("expected OperationFailed for an out-of-range index")
	}
}

func TestManagerHydratesRegistryFromStoreOnStartup(t *testing.T) {
	st := memstore.New()
	gc := crdt.NewGCounter("views")
	gc.Increment("a", 5)
	st.Save(gc)

	bus := local.NewBus()
	tr := local.New(bus, "a")
	m, err := New(Config{Store: st, Transport: tr, NodeID: "a", Factory: testFactory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	c, ok := m.GetByID("views")
	if !ok {
		t.Fatal("expected views to be hydrated from the store")
	}
	if c.(*crdt.GCounter).Value() != 5 {
		t.Fatalf("expected hydrated value 5, got %d", c.(*crdt.GCounter).Value())
	}
}
