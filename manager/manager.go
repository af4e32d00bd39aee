// Package manager is the coordination layer: it tracks registered CRDTs by
// id, routes local operations to the transport, dispatches inbound
// envelopes, and publishes event streams, grounded on the teacher's
// engine/store New/Close pairing and EventBus broadcast pattern.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/store"
	"github.com/amaydixit11/meld/transport"
)

// Subscription is an open event stream of type T. Late subscribers do not
// see events published before they subscribed.
type Subscription[T any] interface {
	Events() <-chan T
	Close()
}

type lifecycle int

const (
	lifecycleInitialised lifecycle = iota
	lifecycleClosed
)

// Logger receives diagnostic lines for errors the manager must not let
// propagate, such as a single bad inbound envelope.
type Logger interface {
	Printf(format string, v ...interface{})
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// Config configures a Manager.
type Config struct {
	Store     store.Store
	Transport transport.Transport

	// NodeID is this replica's id, stamped on every locally originated
	// operation and used to answer addressed crdt_sync envelopes.
	NodeID string

	// Factory reconstructs CRDTs by type, used for OR-Map inner values and
	// to hydrate CRDTs of the right variant from the store on startup. May
	// be nil; hydration and factory-dependent OR-Map operations are then
	// unavailable, matching the factory-less merge behaviour of §4.9.
	Factory crdt.Factory

	// Now overrides the manager's wall clock, for deterministic tests.
	// Defaults to time.Now.
	Now func() time.Time

	// Logger receives diagnostics for isolated per-envelope failures.
	// Defaults to a no-op.
	Logger Logger
}

// Manager is the coordination layer over a registry of CRDTs.
type Manager struct {
	store     store.Store
	transport transport.Transport
	nodeID    string
	factory   crdt.Factory
	now       func() time.Time
	logger    Logger

	mu       sync.RWMutex
	registry map[string]crdt.CRDT
	state    lifecycle

	sub transport.Subscription

	onUpdate    *broadcaster[UpdateEvent]
	onOperation *broadcaster[OperationEvent]
	onSync      *broadcaster[SyncEvent]

	dispatchDone chan struct{}
}

// New constructs an initialised Manager. If cfg.Factory is set, every id the
// store already holds is hydrated into the registry using the snapshot's
// recorded type.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("manager: Config.Store is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("manager: Config.Transport is required")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("manager: Config.NodeID is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	sub, err := cfg.Transport.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("manager: subscribe to transport: %w", err)
	}

	m := &Manager{
		store:       cfg.Store,
		transport:   cfg.Transport,
		nodeID:      cfg.NodeID,
		factory:     cfg.Factory,
		now:         now,
		logger:      logger,
		registry:    make(map[string]crdt.CRDT),
		sub:         sub,
		onUpdate:    newBroadcaster[UpdateEvent](),
		onOperation: newBroadcaster[OperationEvent](),
		onSync:      newBroadcaster[SyncEvent](),
		dispatchDone: make(chan struct{}),
	}

	if cfg.Factory != nil {
		if err := m.hydrate(); err != nil {
			sub.Close()
			return nil, fmt.Errorf("manager: hydrate from store: %w", err)
		}
	}

	go m.dispatchLoop()
	return m, nil
}

func (m *Manager) hydrate() error {
	ids, err := m.store.ListIds()
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, _, ok, err := m.store.Load(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c, err := crdt.FromSnapshot(snap, m.factory)
		if err != nil {
			return fmt.Errorf("id %q: %w", id, err)
		}
		m.registry[id] = c
	}
	return nil
}

func (m *Manager) checkOpen() error {
	if m.state == lifecycleClosed {
		return AlreadyClosed{}
	}
	return nil
}

// Register adds c to the registry, persists its snapshot, and emits a
// Registered update event. Fails with DuplicateId if c.ID() is already held.
func (m *Manager) Register(c crdt.CRDT) error {
	m.mu.Lock()
	if err := m.checkOpen(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, exists := m.registry[c.ID()]; exists {
		m.mu.Unlock()
		return &DuplicateId{ID: c.ID()}
	}
	m.registry[c.ID()] = c
	m.mu.Unlock()

	if err := m.store.Save(c); err != nil {
		return err
	}
	m.onUpdate.publish(UpdateEvent{Kind: UpdateRegistered, CRDTID: c.ID()})
	return nil
}

// Unregister detaches id from the registry without deleting persisted
// state. Returns whether anything was removed.
func (m *Manager) Unregister(id string) (bool, error) {
	m.mu.Lock()
	if err := m.checkOpen(); err != nil {
		m.mu.Unlock()
		return false, err
	}
	_, existed := m.registry[id]
	delete(m.registry, id)
	m.mu.Unlock()

	if existed {
		m.onUpdate.publish(UpdateEvent{Kind: UpdateUnregistered, CRDTID: id})
	}
	return existed, nil
}

// GetByID returns the registered CRDT for id, if any.
func (m *Manager) GetByID(id string) (crdt.CRDT, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.registry[id]
	return c, ok
}

// ListIds returns every registered id.
func (m *Manager) ListIds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.registry))
	for id := range m.registry {
		out = append(out, id)
	}
	return out
}

// ListAll returns every registered CRDT.
func (m *Manager) ListAll() []crdt.CRDT {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crdt.CRDT, 0, len(m.registry))
	for _, c := range m.registry {
		out = append(out, c)
	}
	return out
}

// SubscribeUpdates opens a stream of registration/unregistration/apply/merge
// events.
func (m *Manager) SubscribeUpdates() Subscription[UpdateEvent] { return m.onUpdate.subscribe() }

// SubscribeOperations opens a stream of every applied operation, local or
// remote.
func (m *Manager) SubscribeOperations() Subscription[OperationEvent] {
	return m.onOperation.subscribe()
}

// SubscribeSync opens a stream of every sync publication and reception.
func (m *Manager) SubscribeSync() Subscription[SyncEvent] { return m.onSync.subscribe() }

// Close is idempotent: it cancels the transport subscription, stops
// dispatch, closes the event streams, and stops accepting registrations.
// Closing the store and transport themselves remains the caller's
// responsibility.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == lifecycleClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = lifecycleClosed
	m.mu.Unlock()

	m.sub.Close()
	<-m.dispatchDone

	m.onUpdate.closeAll()
	m.onOperation.closeAll()
	m.onSync.closeAll()
	return nil
}

func (m *Manager) publishCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
