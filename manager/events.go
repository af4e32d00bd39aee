package manager

import "sync"

const subscriberBuffer = 100

// broadcaster is a generic, multi-subscriber, drop-on-full event stream,
// grounded on the teacher's EventBus: every Manager event stream (onUpdate,
// onOperation, onSync) is one instance of this shape carrying its own
// payload type.
type broadcaster[T any] struct {
	mu   sync.RWMutex
	subs []*subscriber[T]
}

func newBroadcaster[T any]() *broadcaster[T] { return &broadcaster[T]{} }

type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
	owner  *broadcaster[T]
}

// Events returns the channel to receive published values on. It is closed
// when the subscription is closed or the manager shuts down.
func (s *subscriber[T]) Events() <-chan T { return s.ch }

// Close stops the subscription, closing its channel. Idempotent.
func (s *subscriber[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.owner.remove(s)
	close(s.ch)
}

func (s *subscriber[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		// buffer full, drop: slow subscribers must not block publishers
	}
}

func (b *broadcaster[T]) subscribe() *subscriber[T] {
	sub := &subscriber[T]{ch: make(chan T, subscriberBuffer), owner: b}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

func (b *broadcaster[T]) remove(s *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(v)
	}
}

func (b *broadcaster[T]) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// UpdateKind classifies an UpdateEvent.
type UpdateKind string

const (
	UpdateRegistered   UpdateKind = "Registered"
	UpdateUnregistered UpdateKind = "Unregistered"
	UpdateApplied      UpdateKind = "Applied"
	UpdateMerged       UpdateKind = "Merged"
)

// UpdateEvent is published on registration, unregistration, applied
// operations, and merges.
type UpdateEvent struct {
	Kind   UpdateKind
	CRDTID string
}

// OperationSource distinguishes a locally originated operation from one
// replayed from a remote envelope.
type OperationSource string

const (
	SourceLocal  OperationSource = "Local"
	SourceRemote OperationSource = "Remote"
)

// OperationEvent is published every time an operation is applied, local or
// remote.
type OperationEvent struct {
	CRDTID string
	Name   string
	Source OperationSource
}

// SyncTag classifies a SyncEvent by which half of the sync exchange it
// reports and whether it was addressed or forced.
type SyncTag string

const (
	SyncPublished       SyncTag = "Published"
	SyncForcedPublished SyncTag = "ForcedPublished"
	SyncReceived        SyncTag = "Received"
	SyncForcedReceived  SyncTag = "ForcedReceived"
)

// SyncEvent is published every time the manager sends or receives a sync
// envelope.
type SyncEvent struct {
	PeerID string
	Count  int
	Tag    SyncTag
}
