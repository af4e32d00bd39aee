package crdt

import (
	"sync"

	"github.com/amaydixit11/meld/idgen"
)

// ORMap is an observed-remove map: presence works exactly like ORSet over
// the map's keys, but each present key also owns an inner CRDT that is
// itself merged recursively on convergence (§4.9).
type ORMap struct {
	mu      sync.RWMutex
	id      string
	adds    map[string]map[string]struct{} // key -> tags
	removed map[string]struct{}            // tags
	values  map[string]CRDT                // key -> owned inner CRDT
	factory Factory
	tags    idgen.Source
}

// NewORMap creates an empty OR-Map. factory may be nil, in which case
// add() fails with FactoryMissingError until one is configured via
// SetFactory.
func NewORMap(id string, factory Factory, tagSource idgen.Source) *ORMap {
	if tagSource == nil {
		tagSource = idgen.New()
	}
	return &ORMap{
		id:      id,
		adds:    map[string]map[string]struct{}{},
		removed: map[string]struct{}{},
		values:  map[string]CRDT{},
		factory: factory,
		tags:    tagSource,
	}
}

func (m *ORMap) ID() string { return m.id }
func (m *ORMap) Type() Type { return TypeORMap }

// SetFactory configures (or replaces) the CRDT factory used to construct
// inner values.
func (m *ORMap) SetFactory(factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factory = factory
}

func (m *ORMap) present(key string) bool {
	for t := range m.adds[key] {
		if _, gone := m.removed[t]; !gone {
			return true
		}
	}
	return false
}

// Add creates the inner CRDT of crdtType/crdtId for key via the configured
// factory and records a tag for observed-remove presence tracking.
// Returns FactoryMissingError if no factory is configured.
func (m *ORMap) Add(key string, crdtType Type, crdtID string, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.factory == nil {
		return &FactoryMissingError{Key: key}
	}
	inner, err := m.factory(crdtID, crdtType)
	if err != nil {
		return &InvalidPayloadError{Type: TypeORMap, Op: "add", Reason: err.Error()}
	}
	if tag == "" {
		tag = m.tags.NextTag(m.id)
	}
	if m.adds[key] == nil {
		m.adds[key] = map[string]struct{}{}
	}
	m.adds[key][tag] = struct{}{}
	if _, exists := m.values[key]; !exists {
		m.values[key] = inner
	}
	return nil
}

// Remove marks tag (or, if empty, every currently observed tag for key) as
// removed.
func (m *ORMap) Remove(key, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tag != "" {
		m.removed[tag] = struct{}{}
		return
	}
	for t := range m.adds[key] {
		m.removed[t] = struct{}{}
	}
}

// UpdateValue forwards innerOp to key's inner CRDT if key is present;
// otherwise it is a no-op.
func (m *ORMap) UpdateValue(key string, innerOp Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present(key) {
		return nil
	}
	inner, ok := m.values[key]
	if !ok {
		return nil
	}
	return inner.ApplyOp(innerOp)
}

// Get returns key's inner CRDT and whether key is present. The CRDT is nil
// for a present key whose inner value has not been constructed (its tags
// arrived through a merge without a factory).
func (m *ORMap) Get(key string) (CRDT, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.present(key) {
		return nil, false
	}
	return m.values[key], true
}

// Keys returns every currently present key.
func (m *ORMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adds))
	for k := range m.adds {
		if m.present(k) {
			out = append(out, k)
		}
	}
	return out
}

func (m *ORMap) ApplyOp(op Operation) error {
	switch op.Name {
	case "add":
		rawKey, ok := op.Data["key"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "missing \"key\""}
		}
		key, err := toString(rawKey)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
		}
		rawType, ok := op.Data["crdtType"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "missing \"crdtType\""}
		}
		typeStr, err := toString(rawType)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
		}
		crdtID := key
		if rawID, ok := op.Data["crdtId"]; ok {
			crdtID, err = toString(rawID)
			if err != nil {
				return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
			}
		}
		tag := ""
		if rawTag, ok := op.Data["tag"]; ok {
			tag, err = toString(rawTag)
			if err != nil {
				return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
			}
		}
		return m.Add(key, Type(typeStr), crdtID, tag)
	case "remove":
		rawKey, ok := op.Data["key"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "missing \"key\""}
		}
		key, err := toString(rawKey)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
		}
		tag := ""
		if rawTag, ok := op.Data["tag"]; ok {
			tag, err = toString(rawTag)
			if err != nil {
				return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
			}
		}
		m.Remove(key, tag)
		return nil
	case "updateValue":
		rawKey, ok := op.Data["key"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "missing \"key\""}
		}
		key, err := toString(rawKey)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: err.Error()}
		}
		rawInner, ok := op.Data["valueOperation"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "missing \"valueOperation\""}
		}
		innerOp, ok := rawInner.(Operation)
		if !ok {
			fields, ok := rawInner.(map[string]any)
			if !ok {
				return &InvalidPayloadError{Type: TypeORMap, Op: op.Name, Reason: "\"valueOperation\" has the wrong shape"}
			}
			innerOp = decodeOperation(fields)
		}
		return m.UpdateValue(key, innerOp)
	default:
		return &UnknownOperationError{Type: TypeORMap, Op: op.Name}
	}
}

func decodeOperation(fields map[string]any) Operation {
	op := Operation{}
	if v, ok := fields["operation"].(string); ok {
		op.Name = v
	}
	if v, ok := fields["data"].(map[string]any); ok {
		op.Data = v
	} else {
		op.Data = map[string]any{}
	}
	if v, ok := fields["nodeId"].(string); ok {
		op.OriginID = v
	}
	if v, ok := fields["timestamp"]; ok {
		ts, _ := toInt64(v)
		op.Timestamp = ts
	}
	return op
}

func (m *ORMap) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]any, len(m.adds))
	for k, tags := range m.adds {
		tagList := make([]string, 0, len(tags))
		for t := range tags {
			tagList = append(tagList, t)
		}
		keys[k] = tagList
	}
	removed := make([]string, 0, len(m.removed))
	for t := range m.removed {
		removed = append(removed, t)
	}
	values := make(map[string]any, len(m.values))
	for k, v := range m.values {
		values[k] = map[string]any(v.Snapshot())
	}
	return Snapshot{
		"type":        string(TypeORMap),
		"id":          m.id,
		"keys":        keys,
		"removedTags": removed,
		"values":      values,
	}
}

func (m *ORMap) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeORMap, m.id); err != nil {
		return err
	}
	rawKeys, ok := snap["keys"]
	if !ok {
		return &InvalidPayloadError{Type: TypeORMap, Op: "merge", Reason: "snapshot missing \"keys\""}
	}
	keysMap, ok := rawKeys.(map[string]any)
	if !ok {
		return &InvalidPayloadError{Type: TypeORMap, Op: "merge", Reason: "\"keys\" is not a map"}
	}
	rawRemoved, ok := snap["removedTags"]
	if !ok {
		return &InvalidPayloadError{Type: TypeORMap, Op: "merge", Reason: "snapshot missing \"removedTags\""}
	}
	removed, err := toStringSlice(rawRemoved)
	if err != nil {
		return &InvalidPayloadError{Type: TypeORMap, Op: "merge", Reason: err.Error()}
	}
	rawValues, _ := snap["values"].(map[string]any)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, rawTags := range keysMap {
		tags, err := toStringSlice(rawTags)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORMap, Op: "merge", Reason: err.Error()}
		}
		if m.adds[k] == nil {
			m.adds[k] = map[string]struct{}{}
		}
		for _, t := range tags {
			m.adds[k][t] = struct{}{}
		}
	}
	for _, t := range removed {
		m.removed[t] = struct{}{}
	}

	for k, rawInner := range rawValues {
		innerSnapMap, ok := rawInner.(map[string]any)
		if !ok {
			continue
		}
		innerSnap := Snapshot(innerSnapMap)
		if existing, ok := m.values[k]; ok {
			if err := existing.Merge(innerSnap); err != nil {
				return err
			}
			continue
		}
		if m.factory == nil {
			continue // §7: factory-less merge skips constructing the value, tags still merged above
		}
		typ, id, err := snapshotTypeID(innerSnap)
		if err != nil {
			continue
		}
		inner, err := m.factory(id, typ)
		if err != nil {
			continue
		}
		if err := inner.Merge(innerSnap); err != nil {
			return err
		}
		m.values[k] = inner
	}
	return nil
}

func (m *ORMap) Copy() CRDT {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := NewORMap(m.id, m.factory, m.tags)
	for k, tags := range m.adds {
		cp := make(map[string]struct{}, len(tags))
		for t := range tags {
			cp[t] = struct{}{}
		}
		clone.adds[k] = cp
	}
	for t := range m.removed {
		clone.removed[t] = struct{}{}
	}
	for k, v := range m.values {
		clone.values[k] = v.Copy()
	}
	return clone
}

func (m *ORMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds = map[string]map[string]struct{}{}
	m.removed = map[string]struct{}{}
	m.values = map[string]CRDT{}
}

// Validate checks both ORSet-style tombstone hygiene and, per §9.3, that
// every key with a value entry also has at least one tag recorded.
func (m *ORMap) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	known := map[string]struct{}{}
	for _, tags := range m.adds {
		for t := range tags {
			known[t] = struct{}{}
		}
	}
	for t := range m.removed {
		if _, ok := known[t]; !ok {
			return &InvariantViolatedError{Type: TypeORMap, ID: m.id, Reason: "removed tag " + t + " was never added"}
		}
	}
	for k := range m.values {
		if _, ok := m.adds[k]; !ok {
			return &InvariantViolatedError{Type: TypeORMap, ID: m.id, Reason: "key " + k + " has a value but no tags"}
		}
	}
	return nil
}

func (m *ORMap) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	switch name {
	case "add", "remove", "updateValue":
	default:
		return Operation{}, &UnknownOperationError{Type: TypeORMap, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	return NewOperation(m.id, name, data, origin, timestampMillis, ""), nil
}
