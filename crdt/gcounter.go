package crdt

import "sync"

// GCounter is a state-based grow-only counter. Each replica owns one slot
// in the per-replica count map; the value is the sum of every slot. Merge
// takes the element-wise maximum, which makes the join idempotent,
// commutative, and associative, and keeps every slot monotonically
// non-decreasing.
type GCounter struct {
	mu     sync.RWMutex
	id     string
	counts map[string]int64
}

// NewGCounter creates an empty G-Counter with the given id.
func NewGCounter(id string) *GCounter {
	return &GCounter{id: id, counts: map[string]int64{}}
}

func (c *GCounter) ID() string   { return c.id }
func (c *GCounter) Type() Type   { return TypeGCounter }

// Value returns the sum of all per-replica counts.
func (c *GCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.counts {
		total += v
	}
	return total
}

// Increment adds amount to replica's slot. amount must be non-negative;
// zero is a no-op.
func (c *GCounter) Increment(replica string, amount int64) error {
	if amount < 0 {
		return &InvalidPayloadError{Type: TypeGCounter, Op: "increment", Reason: "amount must be >= 0"}
	}
	if amount == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[replica] += amount
	return nil
}

func (c *GCounter) ApplyOp(op Operation) error {
	if op.Name != "increment" {
		return &UnknownOperationError{Type: TypeGCounter, Op: op.Name}
	}
	amount := int64(1)
	if raw, ok := op.Data["amount"]; ok {
		v, err := toInt64(raw)
		if err != nil {
			return &InvalidPayloadError{Type: TypeGCounter, Op: op.Name, Reason: err.Error()}
		}
		amount = v
	}
	return c.Increment(op.OriginID, amount)
}

func (c *GCounter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		"type":   string(TypeGCounter),
		"id":     c.id,
		"counts": intMapToAny(c.counts),
	}
}

func (c *GCounter) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeGCounter, c.id); err != nil {
		return err
	}
	raw, ok := snap["counts"]
	if !ok {
		return &InvalidPayloadError{Type: TypeGCounter, Op: "merge", Reason: "snapshot missing \"counts\""}
	}
	other, err := toIntMap(raw)
	if err != nil {
		return &InvalidPayloadError{Type: TypeGCounter, Op: "merge", Reason: err.Error()}
	}
	for _, v := range other {
		if v < 0 {
			return &InvariantViolatedError{Type: TypeGCounter, ID: c.id, Reason: "snapshot carries a negative count"}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range other {
		if v > c.counts[k] {
			c.counts[k] = v
		}
	}
	return nil
}

func (c *GCounter) Copy() CRDT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &GCounter{id: c.id, counts: cloneIntMap(c.counts)}
}

func (c *GCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = map[string]int64{}
}

func (c *GCounter) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for replica, v := range c.counts {
		if v < 0 {
			return &InvariantViolatedError{Type: TypeGCounter, ID: c.id, Reason: "negative count for replica " + replica}
		}
	}
	return nil
}

func (c *GCounter) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	if name != "increment" {
		return Operation{}, &UnknownOperationError{Type: TypeGCounter, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["amount"]; !ok {
		data["amount"] = int64(1)
	}
	return NewOperation(c.id, name, data, origin, timestampMillis, ""), nil
}
