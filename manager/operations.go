package manager

import (
	"fmt"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/transport"
)

// PerformOperation looks up id (miss -> NotFound), builds an operation
// record stamped with the local replica id and current timestamp, applies
// it locally, persists the new snapshot, publishes a crdt_operation
// envelope, then emits operation and update events tagged Local. A local
// apply failure surfaces as OperationFailed wrapping the original cause.
func (m *Manager) PerformOperation(id, opName string, data map[string]any) error {
	m.mu.RLock()
	err := m.checkOpen()
	c, ok := m.registry[id]
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if !ok {
		return &NotFound{ID: id}
	}

	op, err := c.CreateOp(opName, data, m.nodeID, m.now().UnixMilli())
	if err != nil {
		return &OperationFailed{ID: id, Op: opName, Reason: err}
	}
	if err := c.ApplyOp(op); err != nil {
		return &OperationFailed{ID: id, Op: opName, Reason: err}
	}
	if err := m.store.Save(c); err != nil {
		return &OperationFailed{ID: id, Op: opName, Reason: err}
	}

	ctx, cancel := m.publishCtx()
	defer cancel()
	if err := m.transport.Publish(ctx, transport.OperationEnvelope(op)); err != nil {
		return &OperationFailed{ID: id, Op: opName, Reason: err}
	}

	m.onOperation.publish(OperationEvent{CRDTID: id, Name: opName, Source: SourceLocal})
	m.onUpdate.publish(UpdateEvent{Kind: UpdateApplied, CRDTID: id})
	return nil
}

// SyncWith publishes a crdt_sync envelope addressed to peerID, carrying
// snapshots of every registered CRDT.
func (m *Manager) SyncWith(peerID string) error {
	m.mu.RLock()
	if err := m.checkOpen(); err != nil {
		m.mu.RUnlock()
		return err
	}
	states := m.snapshotAll()
	m.mu.RUnlock()

	ctx, cancel := m.publishCtx()
	defer cancel()
	if err := m.transport.Publish(ctx, transport.SyncEnvelope(peerID, states)); err != nil {
		return fmt.Errorf("manager: sync with %q: %w", peerID, err)
	}
	m.onSync.publish(SyncEvent{PeerID: peerID, Count: len(states), Tag: SyncPublished})
	return nil
}

// ForceSync publishes a crdt_force_sync envelope carrying every registered
// CRDT's snapshot, broadcast to all peers.
func (m *Manager) ForceSync() error {
	m.mu.RLock()
	if err := m.checkOpen(); err != nil {
		m.mu.RUnlock()
		return err
	}
	states := m.snapshotAll()
	m.mu.RUnlock()

	ctx, cancel := m.publishCtx()
	defer cancel()
	if err := m.transport.Publish(ctx, transport.ForceSyncEnvelope(states)); err != nil {
		return fmt.Errorf("manager: force sync: %w", err)
	}
	m.onSync.publish(SyncEvent{PeerID: "", Count: len(states), Tag: SyncForcedPublished})
	return nil
}

// snapshotAll must be called with m.mu held (read or write).
func (m *Manager) snapshotAll() map[string]crdt.Snapshot {
	out := make(map[string]crdt.Snapshot, len(m.registry))
	for id, c := range m.registry {
		out[id] = c.Snapshot()
	}
	return out
}
