package crdt

import "sync"

// PNCounter is a state-based positive-negative counter: two independent
// G-Counters, P for increments and N for decrements. Value = sum(P) -
// sum(N). Merging takes the element-wise max of P and N separately.
type PNCounter struct {
	mu sync.RWMutex
	id string
	p  map[string]int64
	n  map[string]int64
}

// NewPNCounter creates an empty PN-Counter with the given id.
func NewPNCounter(id string) *PNCounter {
	return &PNCounter{id: id, p: map[string]int64{}, n: map[string]int64{}}
}

func (c *PNCounter) ID() string { return c.id }
func (c *PNCounter) Type() Type { return TypePNCounter }

// Value returns sum(P) - sum(N).
func (c *PNCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.p {
		total += v
	}
	for _, v := range c.n {
		total -= v
	}
	return total
}

// Increment adds amount (> 0) to replica's P slot.
func (c *PNCounter) Increment(replica string, amount int64) error {
	if amount <= 0 {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "increment", Reason: "amount must be > 0"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p[replica] += amount
	return nil
}

// Decrement adds amount (> 0) to replica's N slot.
func (c *PNCounter) Decrement(replica string, amount int64) error {
	if amount <= 0 {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "decrement", Reason: "amount must be > 0"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[replica] += amount
	return nil
}

func (c *PNCounter) ApplyOp(op Operation) error {
	switch op.Name {
	case "increment", "decrement":
	default:
		return &UnknownOperationError{Type: TypePNCounter, Op: op.Name}
	}
	raw, ok := op.Data["amount"]
	if !ok {
		return &InvalidPayloadError{Type: TypePNCounter, Op: op.Name, Reason: "missing \"amount\""}
	}
	amount, err := toInt64(raw)
	if err != nil {
		return &InvalidPayloadError{Type: TypePNCounter, Op: op.Name, Reason: err.Error()}
	}
	if op.Name == "increment" {
		return c.Increment(op.OriginID, amount)
	}
	return c.Decrement(op.OriginID, amount)
}

func (c *PNCounter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		"type": string(TypePNCounter),
		"id":   c.id,
		"p":    intMapToAny(c.p),
		"n":    intMapToAny(c.n),
	}
}

func (c *PNCounter) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypePNCounter, c.id); err != nil {
		return err
	}
	pRaw, ok := snap["p"]
	if !ok {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "merge", Reason: "snapshot missing \"p\""}
	}
	nRaw, ok := snap["n"]
	if !ok {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "merge", Reason: "snapshot missing \"n\""}
	}
	otherP, err := toIntMap(pRaw)
	if err != nil {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "merge", Reason: err.Error()}
	}
	otherN, err := toIntMap(nRaw)
	if err != nil {
		return &InvalidPayloadError{Type: TypePNCounter, Op: "merge", Reason: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range otherP {
		if v > c.p[k] {
			c.p[k] = v
		}
	}
	for k, v := range otherN {
		if v > c.n[k] {
			c.n[k] = v
		}
	}
	return nil
}

func (c *PNCounter) Copy() CRDT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &PNCounter{id: c.id, p: cloneIntMap(c.p), n: cloneIntMap(c.n)}
}

func (c *PNCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p = map[string]int64{}
	c.n = map[string]int64{}
}

func (c *PNCounter) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for replica, v := range c.p {
		if v < 0 {
			return &InvariantViolatedError{Type: TypePNCounter, ID: c.id, Reason: "negative P count for replica " + replica}
		}
	}
	for replica, v := range c.n {
		if v < 0 {
			return &InvariantViolatedError{Type: TypePNCounter, ID: c.id, Reason: "negative N count for replica " + replica}
		}
	}
	return nil
}

func (c *PNCounter) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	switch name {
	case "increment", "decrement":
	default:
		return Operation{}, &UnknownOperationError{Type: TypePNCounter, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	return NewOperation(c.id, name, data, origin, timestampMillis, ""), nil
}
