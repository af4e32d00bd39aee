package manager

import (
	"github.com/amaydixit11/meld/transport"
)

// dispatchLoop drains inbound envelopes in arrival order. Any per-envelope
// failure is isolated and logged; the manager never tears down on a single
// bad envelope.
func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)
	for in := range m.sub.Events() {
		m.dispatchOne(in)
	}
}

func (m *Manager) dispatchOne(in transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("manager: recovered from panic dispatching %s envelope from %s: %v", in.Envelope.Type, in.NodeID, r)
		}
	}()

	switch in.Envelope.Type {
	case transport.EnvelopeOperation:
		m.dispatchOperation(in)
	case transport.EnvelopeSync:
		m.dispatchSync(in, false)
	case transport.EnvelopeForceSync:
		m.dispatchSync(in, true)
	default:
		m.logger.Printf("manager: unknown envelope type %q from %s", in.Envelope.Type, in.NodeID)
	}
}

func (m *Manager) dispatchOperation(in transport.Inbound) {
	op := in.Envelope.Operation
	if op == nil {
		m.logger.Printf("manager: crdt_operation envelope from %s missing operation", in.NodeID)
		return
	}

	m.mu.RLock()
	c, ok := m.registry[op.CRDTID]
	m.mu.RUnlock()
	if !ok {
		return // unknown id: silent drop
	}

	if err := c.ApplyOp(*op); err != nil {
		m.logger.Printf("manager: apply remote op %q on %q from %s: %v", op.Name, op.CRDTID, in.NodeID, err)
		return
	}
	if err := m.store.Save(c); err != nil {
		m.logger.Printf("manager: persist %q after remote op: %v", op.CRDTID, err)
		return
	}

	m.onOperation.publish(OperationEvent{CRDTID: op.CRDTID, Name: op.Name, Source: SourceRemote})
	m.onUpdate.publish(UpdateEvent{Kind: UpdateApplied, CRDTID: op.CRDTID})
}

func (m *Manager) dispatchSync(in transport.Inbound, forced bool) {
	if !forced && in.Envelope.TargetPeer != "" && in.Envelope.TargetPeer != m.nodeID {
		return // addressed to someone else
	}

	touched := 0
	m.mu.RLock()
	for id, snap := range in.Envelope.States {
		c, ok := m.registry[id]
		if !ok {
			continue
		}
		if err := c.Merge(snap); err != nil {
			m.logger.Printf("manager: merge %q from %s: %v", id, in.NodeID, err)
			continue
		}
		if err := m.store.Save(c); err != nil {
			m.logger.Printf("manager: persist %q after merge: %v", id, err)
			continue
		}
		touched++
		m.onUpdate.publish(UpdateEvent{Kind: UpdateMerged, CRDTID: id})
	}
	m.mu.RUnlock()

	tag := SyncReceived
	if forced {
		tag = SyncForcedReceived
	}
	m.onSync.publish(SyncEvent{PeerID: in.NodeID, Count: touched, Tag: tag})
}
