package local

import (
	"context"
	"testing"
	"time"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/transport"
)

func TestLocalTransportFanOutToOtherNodes(t *testing.T) {
	bus := NewBus()
	a := New(bus, "a")
	b := New(bus, "b")
	c := New(bus, "c")

	subB, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subB.Close()
	subC, err := c.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer subC.Close()

	env := transport.OperationEnvelope(crdt.NewOperation("counter", "increment", nil, "a", 1, "op1"))
	if err := a.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case in := <-subB.Events():
		if in.NodeID != "a" {
			t.Fatalf("expected NodeID a, got %s", in.NodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on b")
	}

	select {
	case <-subC.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on c")
	}
}

func TestLocalTransportDoesNotDeliverToSelf(t *testing.T) {
	bus := NewBus()
	a := New(bus, "a")
	sub, err := a.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	a.Publish(context.Background(), transport.ForceSyncEnvelope(nil))

	select {
	case in := <-sub.Events():
		t.Fatalf("expected no self-delivery, got %+v", in)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalTransportOperationsFailAfterClose(t *testing.T) {
	bus := NewBus()
	a := New(bus, "a")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Publish(context.Background(), transport.ForceSyncEnvelope(nil)); err == nil {
		t.Fatal("expected error publishing after close")
	}
	if _, err := a.Subscribe(); err == nil {
		t.Fatal("expected error subscribing after close")
	}
}

func TestLocalTransportDropsWhenSubscriberBufferFull(t *testing.T) {
	bus := NewBus()
	a := New(bus, "a")
	b := New(bus, "b")

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		a.Publish(context.Background(), transport.ForceSyncEnvelope(nil))
	}

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
		default:
			if count != subscriberBuffer {
				t.Fatalf("expected exactly %d buffered events, got %d", subscriberBuffer, count)
			}
			return
		}
	}
}
