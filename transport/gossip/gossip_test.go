package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/transport"
)

func newLoopbackTransport(t *testing.T) *Transport {
	t.Helper()
	cfg := Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func connect(t *testing.T, a, b *Transport) {
	t.Helper()
	addrs := b.Host().Addrs()
	if len(addrs) == 0 {
		t.Fatal("peer b has no listen addresses")
	}
	pi := peer.AddrInfo{ID: b.Host().ID(), Addrs: addrs}
	if err := a.Connect(context.Background(), pi); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestGossipTransportPublishDeliversToConnectedPeer(t *testing.T) {
	a := newLoopbackTransport(t)
	b := newLoopbackTransport(t)
	connect(t, a, b)

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	op := crdt.NewOperation("counter", "increment", map[string]any{"amount": float64(1)}, a.NodeID(), 1, "op1")
	if err := a.Publish(context.Background(), transport.OperationEnvelope(op)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case in := <-sub.Events():
		if in.Envelope.Type != transport.EnvelopeOperation {
			t.Fatalf("expected operation envelope, got %s", in.Envelope.Type)
		}
		if in.Envelope.Operation.CRDTID != "counter" {
			t.Fatalf("expected crdt id counter, got %s", in.Envelope.Operation.CRDTID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivered envelope")
	}
}

func TestGossipTransportDirectedSyncTargetsOnlyThatPeer(t *testing.T) {
	a := newLoopbackTransport(t)
	b := newLoopbackTransport(t)
	connect(t, a, b)

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	states := map[string]crdt.Snapshot{"counter": {"type": "GCounter", "id": "counter"}}
	env := transport.SyncEnvelope(b.NodeID(), states)
	if err := a.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case in := <-sub.Events():
		if in.Envelope.Type != transport.EnvelopeSync {
			t.Fatalf("expected sync envelope, got %s", in.Envelope.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for directed sync envelope")
	}
}

func TestGossipTransportNodeIDIsStablePeerID(t *testing.T) {
	a := newLoopbackTransport(t)
	if a.NodeID() == "" {
		t.Fatal("expected non-empty node id")
	}
	if a.NodeID() != a.Host().ID().String() {
		t.Fatalf("expected NodeID to match host peer id")
	}
}

func TestGossipTransportCloseWithOpenSubscriptionDoesNotDeadlock(t *testing.T) {
	cfg := Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Intentionally left open: Close must close it itself, not deadlock
	// waiting for the caller to close it first.

	done := make(chan error, 1)
	go func() { done <- a.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close deadlocked with an open subscription")
	}
}

func TestGossipTransportCloseIsIdempotent(t *testing.T) {
	a := newLoopbackTransport(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
