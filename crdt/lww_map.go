package crdt

import "sync"

type lwwMapEntry struct {
	value         any
	addTs         int64
	addReplica    string
	removeTs      int64
	removeReplica string
}

// LWWMap is a last-writer-wins map. Each key independently tracks an
// add-stamp and a remove-stamp (timestamp, replica); a key is present iff
// its add-stamp outranks its remove-stamp under the same tie-break rule
// used by LWWRegister (§4.8, §4.6). An add-stamp equal to the remove-stamp
// (including equal replica id) is treated as absent: neither strictly
// outranks the other, so the key is not present.
type LWWMap struct {
	mu      sync.RWMutex
	id      string
	entries map[string]*lwwMapEntry
}

// NewLWWMap creates an empty LWW-Map.
func NewLWWMap(id string) *LWWMap {
	return &LWWMap{id: id, entries: map[string]*lwwMapEntry{}}
}

func (m *LWWMap) ID() string { return m.id }
func (m *LWWMap) Type() Type { return TypeLWWMap }

func (m *LWWMap) entry(key string) *lwwMapEntry {
	e, ok := m.entries[key]
	if !ok {
		e = &lwwMapEntry{}
		m.entries[key] = e
	}
	return e
}

func present(e *lwwMapEntry) bool {
	return e.addTs != 0 && outranks(e.addTs, e.addReplica, e.removeTs, e.removeReplica)
}

// Put writes value at key if (timestamp, replica) outranks the stored
// add-stamp.
func (m *LWWMap) Put(key string, value any, timestamp int64, replica string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key)
	if outranks(timestamp, replica, e.addTs, e.addReplica) {
		e.value = value
		e.addTs = timestamp
		e.addReplica = replica
	}
}

// Remove applies a tombstone at key if (timestamp, replica) outranks the
// stored remove-stamp.
func (m *LWWMap) Remove(key string, timestamp int64, replica string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key)
	if outranks(timestamp, replica, e.removeTs, e.removeReplica) {
		e.removeTs = timestamp
		e.removeReplica = replica
	}
}

// Clear applies a remove at (timestamp, replica) to every currently
// present key.
func (m *LWWMap) Clear(timestamp int64, replica string) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if present(e) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Remove(k, timestamp, replica)
	}
}

// Get returns key's current value and whether it is present.
func (m *LWWMap) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !present(e) {
		return nil, false
	}
	return e.value, true
}

// Keys returns every currently present key.
func (m *LWWMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if present(e) {
			out = append(out, k)
		}
	}
	return out
}

func (m *LWWMap) ApplyOp(op Operation) error {
	switch op.Name {
	case "put":
		rawKey, ok := op.Data["key"]
		if !ok {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: "missing \"key\""}
		}
		key, err := toString(rawKey)
		if err != nil {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: err.Error()}
		}
		value, ok := op.Data["value"]
		if !ok {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: "missing \"value\""}
		}
		ts := op.Timestamp
		if raw, ok := op.Data["timestamp"]; ok {
			ts, err = toInt64(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: err.Error()}
			}
		}
		m.Put(key, value, ts, op.OriginID)
		return nil
	case "remove":
		rawKey, ok := op.Data["key"]
		if !ok {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: "missing \"key\""}
		}
		key, err := toString(rawKey)
		if err != nil {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: err.Error()}
		}
		ts := op.Timestamp
		if raw, ok := op.Data["timestamp"]; ok {
			ts, err = toInt64(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeLWWMap, Op: op.Name, Reason: err.Error()}
			}
		}
		m.Remove(key, ts, op.OriginID)
		return nil
	case "clear":
		m.Clear(op.Timestamp, op.OriginID)
		return nil
	default:
		return &UnknownOperationError{Type: TypeLWWMap, Op: op.Name}
	}
}

func (m *LWWMap) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[string]any, len(m.entries))
	for k, e := range m.entries {
		entries[k] = map[string]any{
			"value":         e.value,
			"addTs":         e.addTs,
			"addReplica":    e.addReplica,
			"removeTs":      e.removeTs,
			"removeReplica": e.removeReplica,
		}
	}
	return Snapshot{
		"type":    string(TypeLWWMap),
		"id":      m.id,
		"entries": entries,
	}
}

func (m *LWWMap) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeLWWMap, m.id); err != nil {
		return err
	}
	raw, ok := snap["entries"]
	if !ok {
		return &InvalidPayloadError{Type: TypeLWWMap, Op: "merge", Reason: "snapshot missing \"entries\""}
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return &InvalidPayloadError{Type: TypeLWWMap, Op: "merge", Reason: "\"entries\" is not a map"}
	}
	for key, rawEntry := range entries {
		fields, ok := rawEntry.(map[string]any)
		if !ok {
			return &InvalidPayloadError{Type: TypeLWWMap, Op: "merge", Reason: "entry for key " + key + " is not a map"}
		}
		addTs, _ := toInt64(fields["addTs"])
		removeTs, _ := toInt64(fields["removeTs"])
		addReplica, _ := fields["addReplica"].(string)
		removeReplica, _ := fields["removeReplica"].(string)
		if addTs != 0 {
			m.Put(key, fields["value"], addTs, addReplica)
		}
		if removeTs != 0 {
			m.Remove(key, removeTs, removeReplica)
		}
	}
	return nil
}

func (m *LWWMap) Copy() CRDT {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := NewLWWMap(m.id)
	for k, e := range m.entries {
		cp := *e
		clone.entries[k] = &cp
	}
	return clone
}

func (m *LWWMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]*lwwMapEntry{}
}

func (m *LWWMap) Validate() error { return nil }

func (m *LWWMap) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	switch name {
	case "put", "remove", "clear":
	default:
		return Operation{}, &UnknownOperationError{Type: TypeLWWMap, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	if name != "clear" {
		if _, ok := data["timestamp"]; !ok {
			data["timestamp"] = timestampMillis
		}
	}
	return NewOperation(m.id, name, data, origin, timestampMillis, ""), nil
}
