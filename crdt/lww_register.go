package crdt

import "sync"

// LWWRegister is a last-writer-wins register: a single value tagged with
// the (timestamp, replica) of its last writer. A new write supersedes the
// stored value iff it has a strictly greater timestamp, or an equal
// timestamp and a lexicographically greater replica id (§4.6, §3 inv. 6).
// An initial timestamp of 0 means "never set".
type LWWRegister struct {
	mu        sync.RWMutex
	id        string
	value     any
	timestamp int64
	replica   string
}

// NewLWWRegister creates an unset LWW-Register.
func NewLWWRegister(id string) *LWWRegister {
	return &LWWRegister{id: id}
}

func (r *LWWRegister) ID() string { return r.id }
func (r *LWWRegister) Type() Type { return TypeLWWRegister }

// Value returns the current value, the timestamp it was set at, and
// whether the register has ever been set.
func (r *LWWRegister) Value() (any, int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.timestamp, r.timestamp != 0
}

// Set writes value at (timestamp, replica) if it outranks the current
// write.
func (r *LWWRegister) Set(value any, timestamp int64, replica string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timestamp == 0 || outranks(timestamp, replica, r.timestamp, r.replica) {
		r.value = value
		r.timestamp = timestamp
		r.replica = replica
	}
}

func (r *LWWRegister) ApplyOp(op Operation) error {
	if op.Name != "set" {
		return &UnknownOperationError{Type: TypeLWWRegister, Op: op.Name}
	}
	value, ok := op.Data["value"]
	if !ok {
		return &InvalidPayloadError{Type: TypeLWWRegister, Op: op.Name, Reason: "missing \"value\""}
	}
	timestamp := op.Timestamp
	if raw, ok := op.Data["timestamp"]; ok {
		v, err := toInt64(raw)
		if err != nil {
			return &InvalidPayloadError{Type: TypeLWWRegister, Op: op.Name, Reason: err.Error()}
		}
		timestamp = v
	}
	r.Set(value, timestamp, op.OriginID)
	return nil
}

func (r *LWWRegister) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		"type":      string(TypeLWWRegister),
		"id":        r.id,
		"value":     r.value,
		"timestamp": r.timestamp,
		"replica":   r.replica,
	}
}

func (r *LWWRegister) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeLWWRegister, r.id); err != nil {
		return err
	}
	rawTs, ok := snap["timestamp"]
	if !ok {
		return &InvalidPayloadError{Type: TypeLWWRegister, Op: "merge", Reason: "snapshot missing \"timestamp\""}
	}
	ts, err := toInt64(rawTs)
	if err != nil {
		return &InvalidPayloadError{Type: TypeLWWRegister, Op: "merge", Reason: err.Error()}
	}
	if ts == 0 {
		return nil // other replica has never set this register
	}
	replica, _ := snap["replica"].(string)
	r.Set(snap["value"], ts, replica)
	return nil
}

func (r *LWWRegister) Copy() CRDT {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &LWWRegister{id: r.id, value: r.value, timestamp: r.timestamp, replica: r.replica}
}

func (r *LWWRegister) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = nil
	r.timestamp = 0
	r.replica = ""
}

func (r *LWWRegister) Validate() error { return nil }

func (r *LWWRegister) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	if name != "set" {
		return Operation{}, &UnknownOperationError{Type: TypeLWWRegister, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = timestampMillis
	}
	return NewOperation(r.id, name, data, origin, timestampMillis, ""), nil
}
