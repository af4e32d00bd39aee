package crdt

import (
	"sort"
	"sync"

	"github.com/amaydixit11/meld/idgen"
)

type rgaNode struct {
	uid       string
	parent    string // uid this node was inserted immediately after; "" is the root
	value     string
	tombstone bool
	timestamp int64
	replica   string
}

// RGA is a replicated growable array: a sequence CRDT where every element
// carries a unique id and an immutable reference to the element it was
// inserted after (§4.10). Deleted elements are tombstoned, never removed,
// so a concurrent insert anchored on a deleted element still has
// somewhere to attach. The full order is recomputed deterministically from
// the parent references and each node's (timestamp, replica, uid) —
// concurrent siblings inserted after the same element sort newest-first,
// ties broken by replica id and then uid, so every replica converges on the
// same order regardless of delivery order (§8 property 9).
type RGA struct {
	mu    sync.RWMutex
	id    string
	nodes map[string]*rgaNode
	tags  idgen.Source
}

// NewRGA creates an empty RGA sequence.
func NewRGA(id string, tagSource idgen.Source) *RGA {
	if tagSource == nil {
		tagSource = idgen.New()
	}
	return &RGA{id: id, nodes: map[string]*rgaNode{}, tags: tagSource}
}

func (a *RGA) ID() string { return a.id }
func (a *RGA) Type() Type { return TypeRGAArray }

func siblingLess(x, y *rgaNode) bool {
	if x.timestamp != y.timestamp {
		return x.timestamp > y.timestamp
	}
	if x.replica != y.replica {
		return x.replica > y.replica
	}
	return x.uid > y.uid
}

// order must be called with a.mu held (read or write). It returns every
// uid, including tombstoned ones, in the sequence's total order.
func (a *RGA) order() []string {
	children := map[string][]*rgaNode{}
	for _, n := range a.nodes {
		children[n.parent] = append(children[n.parent], n)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool { return siblingLess(list[i], list[j]) })
	}
	out := make([]string, 0, len(a.nodes))
	var walk func(parent string)
	walk = func(parent string) {
		for _, n := range children[parent] {
			out = append(out, n.uid)
			walk(n.uid)
		}
	}
	walk("")
	return out
}

// visible must be called with a.mu held. It returns the uids of non-deleted
// nodes in sequence order.
func (a *RGA) visible() []string {
	out := make([]string, 0, len(a.nodes))
	for _, uid := range a.order() {
		if n := a.nodes[uid]; n != nil && !n.tombstone {
			out = append(out, uid)
		}
	}
	return out
}

// InsertAfter creates a new element holding value, anchored immediately
// after afterUID ("" anchors at the head). uid, timestamp and replica are
// normally left zero/empty for local inserts, in which case they are
// generated from the injected idgen.Source; callers replaying a remote
// operation pass the already-resolved values through so every replica
// creates an identical node. Returns the uid used.
func (a *RGA) InsertAfter(afterUID, value, uid string, timestamp int64, replica string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if uid == "" {
		uid = a.tags.NextTag(a.id)
	}
	if timestamp == 0 {
		timestamp = a.tags.NowMillis()
	}
	if replica == "" {
		replica = a.id
	}
	a.nodes[uid] = &rgaNode{uid: uid, parent: afterUID, value: value, timestamp: timestamp, replica: replica}
	return uid
}

// anchorForIndex resolves a visible index to the uid it must be inserted
// after ("" for the head). Read-locks a.mu itself; callers must not hold it.
// The index is read under one RLock and the caller inserts under a separate
// Lock afterward, so a concurrent mutation between the two could shift what
// "index" means — benign under the single-writer-per-CRDT model (§5), where
// the manager is the only mutator and never calls this concurrently with
// itself.
func (a *RGA) anchorForIndex(index int) (string, error) {
	a.mu.RLock()
	visible := a.visible()
	a.mu.RUnlock()
	if index < 0 || index > len(visible) {
		return "", &OutOfRangeError{Index: index, Length: len(visible)}
	}
	if index == 0 {
		return "", nil
	}
	return visible[index-1], nil
}

// InsertAt is a convenience wrapper that resolves a visible-index position
// to an anchor uid and inserts there. index == Len() appends at the end.
func (a *RGA) InsertAt(index int, value string) (string, error) {
	anchor, err := a.anchorForIndex(index)
	if err != nil {
		return "", err
	}
	return a.InsertAfter(anchor, value, "", 0, ""), nil
}

// Delete tombstones uid. Deleting an already-deleted or unknown uid is a
// no-op, since tombstones are idempotent and merges may race with deletes
// of elements not yet observed.
func (a *RGA) Delete(uid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.nodes[uid]; ok {
		n.tombstone = true
	}
}

// DeleteAt tombstones the element currently at visible index.
func (a *RGA) DeleteAt(index int) error {
	a.mu.Lock()
	visible := a.visible()
	if index < 0 || index >= len(visible) {
		a.mu.Unlock()
		return &OutOfRangeError{Index: index, Length: len(visible)}
	}
	uid := visible[index]
	a.mu.Unlock()
	a.Delete(uid)
	return nil
}

// Values returns the current visible sequence, in order.
func (a *RGA) Values() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	visible := a.visible()
	out := make([]string, len(visible))
	for i, uid := range visible {
		out[i] = a.nodes[uid].value
	}
	return out
}

// Len returns the number of visible elements.
func (a *RGA) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.visible())
}

// InsertText is a convenience for character-sequence use (§4.10 note):
// it inserts every rune of s as its own element starting at index.
func (a *RGA) InsertText(index int, s string) error {
	for _, r := range s {
		uid, err := a.InsertAt(index, string(r))
		if err != nil {
			return err
		}
		index++
		_ = uid
	}
	return nil
}

// DeleteRange tombstones the count visible elements starting at index.
func (a *RGA) DeleteRange(index, count int) error {
	for i := 0; i < count; i++ {
		if err := a.DeleteAt(index); err != nil {
			return err
		}
	}
	return nil
}

func (a *RGA) ApplyOp(op Operation) error {
	switch op.Name {
	case "insert":
		rawValue, ok := op.Data["value"]
		if !ok {
			rawValue, ok = op.Data["element"]
		}
		if !ok {
			return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: "missing \"value\" or \"element\""}
		}
		value, err := toString(rawValue)
		if err != nil {
			return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
		}
		afterUID := ""
		if raw, ok := op.Data["afterUid"]; ok {
			afterUID, err = toString(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
			}
		}
		uid := ""
		if raw, ok := op.Data["uid"]; ok {
			uid, err = toString(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
			}
		}
		replica := op.OriginID
		if raw, ok := op.Data["replica"]; ok {
			replica, err = toString(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
			}
		}
		ts := op.Timestamp
		if raw, ok := op.Data["timestamp"]; ok {
			ts, err = toInt64(raw)
			if err != nil {
				return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
			}
		}
		a.InsertAfter(afterUID, value, uid, ts, replica)
		return nil
	case "delete":
		rawUID, ok := op.Data["uid"]
		if !ok {
			return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: "missing \"uid\""}
		}
		uid, err := toString(rawUID)
		if err != nil {
			return &InvalidPayloadError{Type: TypeRGAArray, Op: op.Name, Reason: err.Error()}
		}
		a.Delete(uid)
		return nil
	default:
		return &UnknownOperationError{Type: TypeRGAArray, Op: op.Name}
	}
}

func (a *RGA) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	nodes := make(map[string]any, len(a.nodes))
	for uid, n := range a.nodes {
		nodes[uid] = map[string]any{
			"parent":    n.parent,
			"value":     n.value,
			"tombstone": n.tombstone,
			"timestamp": n.timestamp,
			"replica":   n.replica,
		}
	}
	return Snapshot{
		"type":  string(TypeRGAArray),
		"id":    a.id,
		"nodes": nodes,
	}
}

func (a *RGA) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeRGAArray, a.id); err != nil {
		return err
	}
	raw, ok := snap["nodes"]
	if !ok {
		return &InvalidPayloadError{Type: TypeRGAArray, Op: "merge", Reason: "snapshot missing \"nodes\""}
	}
	nodes, ok := raw.(map[string]any)
	if !ok {
		return &InvalidPayloadError{Type: TypeRGAArray, Op: "merge", Reason: "\"nodes\" is not a map"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for uid, rawNode := range nodes {
		fields, ok := rawNode.(map[string]any)
		if !ok {
			return &InvalidPayloadError{Type: TypeRGAArray, Op: "merge", Reason: "node " + uid + " is not a map"}
		}
		value, _ := fields["value"].(string)
		parent, _ := fields["parent"].(string)
		replica, _ := fields["replica"].(string)
		timestamp, _ := toInt64(fields["timestamp"])
		tombstone, _ := fields["tombstone"].(bool)

		n, exists := a.nodes[uid]
		if !exists {
			n = &rgaNode{uid: uid, parent: parent, value: value, timestamp: timestamp, replica: replica}
			a.nodes[uid] = n
		}
		if tombstone {
			n.tombstone = true
		}
	}
	return nil
}

func (a *RGA) Copy() CRDT {
	a.mu.RLock()
	defer a.mu.RUnlock()
	clone := NewRGA(a.id, a.tags)
	for uid, n := range a.nodes {
		cp := *n
		clone.nodes[uid] = &cp
	}
	return clone
}

func (a *RGA) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes = map[string]*rgaNode{}
}

// Validate checks that every non-root parent reference points at a known
// node (§3 inv. 5): no element is anchored on a node the sequence has
// never seen.
func (a *RGA) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for uid, n := range a.nodes {
		if n.parent == "" {
			continue
		}
		if _, ok := a.nodes[n.parent]; !ok {
			return &InvariantViolatedError{Type: TypeRGAArray, ID: a.id, Reason: "node " + uid + " is anchored on unknown parent " + n.parent}
		}
	}
	return nil
}

// CreateOp resolves §4.10's visible-index addressing ("insert {index,
// element, uid?}", "delete {index?, uid?}"; ApplyOp reads the inserted
// element from "value" or "element") to the uid-based form ApplyOp
// understands ("afterUid"/"uid") before the operation leaves this replica.
// An insert's timestamp is raised above every node already held, so the new
// element sorts ahead of existing siblings at its anchor.
// A visible index is only meaningful against the node set that resolved
// it; broadcasting the raw index would have every remote replica resolve
// it against their own (possibly different) node set, breaking
// convergence, so the anchor/target uid is fixed here, synchronously,
// while the receiver still holds the node set the caller meant.
func (a *RGA) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	switch name {
	case "insert":
		if data == nil {
			data = map[string]any{}
		}
		if _, ok := data["afterUid"]; !ok {
			if rawIndex, ok := data["index"]; ok {
				index, err := toInt(rawIndex)
				if err != nil {
					return Operation{}, &InvalidPayloadError{Type: TypeRGAArray, Op: name, Reason: err.Error()}
				}
				anchor, err := a.anchorForIndex(index)
				if err != nil {
					return Operation{}, err
				}
				data["afterUid"] = anchor
				delete(data, "index")
			}
		}
		if _, ok := data["timestamp"]; !ok {
			ts := timestampMillis
			a.mu.RLock()
			for _, n := range a.nodes {
				if n.timestamp >= ts {
					ts = n.timestamp + 1
				}
			}
			a.mu.RUnlock()
			data["timestamp"] = ts
		}
		if _, ok := data["replica"]; !ok {
			data["replica"] = origin
		}
	case "delete":
		if data == nil {
			data = map[string]any{}
		}
		if _, ok := data["uid"]; !ok {
			rawIndex, ok := data["index"]
			if !ok {
				return Operation{}, &InvalidPayloadError{Type: TypeRGAArray, Op: name, Reason: "missing \"uid\" or \"index\""}
			}
			index, err := toInt(rawIndex)
			if err != nil {
				return Operation{}, &InvalidPayloadError{Type: TypeRGAArray, Op: name, Reason: err.Error()}
			}
			a.mu.RLock()
			visible := a.visible()
			a.mu.RUnlock()
			if index < 0 || index >= len(visible) {
				return Operation{}, &OutOfRangeError{Index: index, Length: len(visible)}
			}
			data["uid"] = visible[index]
			delete(data, "index")
		}
	default:
		return Operation{}, &UnknownOperationError{Type: TypeRGAArray, Op: name}
	}
	return NewOperation(a.id, name, data, origin, timestampMillis, ""), nil
}
