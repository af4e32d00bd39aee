// Package local is an in-process fan-out transport.Transport connecting any
// number of manager instances inside one process, grounded on the teacher's
// EventBus: a buffered per-subscriber channel with non-blocking, drop-on-full
// delivery.
package local

import (
	"context"
	"sync"

	"github.com/amaydixit11/meld/transport"
)

const subscriberBuffer = 100

// Bus is a shared in-process broadcast medium. Every Transport created with
// the same Bus sees every other Transport's publishes.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]string // subscription -> owning node id, for self-filtering
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]string)}
}

func (b *Bus) publish(fromNodeID string, env transport.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub, owner := range b.subs {
		if owner == fromNodeID {
			continue // a transport never delivers its own publishes back to itself
		}
		sub.send(transport.Inbound{NodeID: fromNodeID, Envelope: env})
	}
}

func (b *Bus) addSub(s *subscription, nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = nodeID
}

func (b *Bus) removeSub(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

type subscription struct {
	ch     chan transport.Inbound
	bus    *Bus
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Events() <-chan transport.Inbound { return s.ch }

func (s *subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.removeSub(s)
	close(s.ch)
}

func (s *subscription) send(in transport.Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- in:
	default:
		// buffer full, drop (non-blocking)
	}
}

// Transport is a transport.Transport backed by a shared Bus, identified by
// nodeID for addressing and self-filtering.
type Transport struct {
	bus    *Bus
	nodeID string

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// New creates a Transport with local replica id nodeID, attached to bus.
func New(bus *Bus, nodeID string) *Transport {
	return &Transport{bus: bus, nodeID: nodeID}
}

func (t *Transport) NodeID() string { return t.nodeID }

func (t *Transport) Publish(ctx context.Context, env transport.Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return &transport.Error{Op: "publish", Reason: errClosed{}}
	}
	t.bus.publish(t.nodeID, env)
	return nil
}

func (t *Transport) Subscribe() (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, &transport.Error{Op: "subscribe", Reason: errClosed{}}
	}
	sub := &subscription{ch: make(chan transport.Inbound, subscriberBuffer), bus: t.bus}
	t.bus.addSub(sub, t.nodeID)
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, sub := range t.subs {
		sub.Close()
	}
	t.subs = nil
	return nil
}

type errClosed struct{}

func (errClosed) Error() string { return "local: transport closed" }
