package crdt

import (
	"sync"

	"github.com/amaydixit11/meld/idgen"
)

// ORSet is an observed-remove set. Every add creates a unique tag; remove
// marks specific tags as removed. An element is present iff it has at
// least one tag that has not been removed — a remove can only affect tags
// it has observed, which is what lets concurrent adds survive a concurrent
// remove of the same element (§8 property 6).
type ORSet struct {
	mu      sync.RWMutex
	id      string
	adds    map[string]map[string]struct{} // element -> tags
	removed map[string]struct{}            // tags
	tags    idgen.Source
}

// NewORSet creates an empty OR-Set. A nil tagSource uses the real-time
// default.
func NewORSet(id string, tagSource idgen.Source) *ORSet {
	if tagSource == nil {
		tagSource = idgen.New()
	}
	return &ORSet{
		id:      id,
		adds:    map[string]map[string]struct{}{},
		removed: map[string]struct{}{},
		tags:    tagSource,
	}
}

func (s *ORSet) ID() string { return s.id }
func (s *ORSet) Type() Type { return TypeORSet }

// Add records element under tag, generating one via the injected
// idgen.Source if tag is empty. Returns the tag used.
func (s *ORSet) Add(element, tag string) string {
	if tag == "" {
		tag = s.tags.NextTag(s.id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adds[element] == nil {
		s.adds[element] = map[string]struct{}{}
	}
	s.adds[element][tag] = struct{}{}
	return tag
}

// Remove marks tag removed. If tag is empty, every currently
// non-removed tag associated with element is marked removed.
func (s *ORSet) Remove(element, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag != "" {
		s.removed[tag] = struct{}{}
		return
	}
	for t := range s.adds[element] {
		s.removed[t] = struct{}{}
	}
}

// Contains reports whether element has at least one non-removed tag.
func (s *ORSet) Contains(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for t := range s.adds[element] {
		if _, gone := s.removed[t]; !gone {
			return true
		}
	}
	return false
}

// Elements returns every element with at least one non-removed tag.
func (s *ORSet) Elements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.adds))
	for el, tags := range s.adds {
		for t := range tags {
			if _, gone := s.removed[t]; !gone {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

func (s *ORSet) ApplyOp(op Operation) error {
	switch op.Name {
	case "add":
		raw, ok := op.Data["element"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: "missing \"element\""}
		}
		element, err := toString(raw)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: err.Error()}
		}
		tag := ""
		if rawTag, ok := op.Data["tag"]; ok {
			tag, err = toString(rawTag)
			if err != nil {
				return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: err.Error()}
			}
		}
		s.Add(element, tag)
		return nil
	case "remove":
		raw, ok := op.Data["element"]
		if !ok {
			return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: "missing \"element\""}
		}
		element, err := toString(raw)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: err.Error()}
		}
		tag := ""
		if rawTag, ok := op.Data["tag"]; ok {
			tag, err = toString(rawTag)
			if err != nil {
				return &InvalidPayloadError{Type: TypeORSet, Op: op.Name, Reason: err.Error()}
			}
		}
		s.Remove(element, tag)
		return nil
	default:
		return &UnknownOperationError{Type: TypeORSet, Op: op.Name}
	}
}

func (s *ORSet) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	elements := make(map[string]any, len(s.adds))
	for el, tags := range s.adds {
		tagList := make([]string, 0, len(tags))
		for t := range tags {
			tagList = append(tagList, t)
		}
		elements[el] = tagList
	}
	removed := make([]string, 0, len(s.removed))
	for t := range s.removed {
		removed = append(removed, t)
	}
	return Snapshot{
		"type":        string(TypeORSet),
		"id":          s.id,
		"elements":    elements,
		"removedTags": removed,
	}
}

func (s *ORSet) Merge(snap Snapshot) error {
	if err := checkTypeID(snap, TypeORSet, s.id); err != nil {
		return err
	}
	rawElements, ok := snap["elements"]
	if !ok {
		return &InvalidPayloadError{Type: TypeORSet, Op: "merge", Reason: "snapshot missing \"elements\""}
	}
	elementsMap, ok := rawElements.(map[string]any)
	if !ok {
		return &InvalidPayloadError{Type: TypeORSet, Op: "merge", Reason: "\"elements\" is not a map"}
	}
	rawRemoved, ok := snap["removedTags"]
	if !ok {
		return &InvalidPayloadError{Type: TypeORSet, Op: "merge", Reason: "snapshot missing \"removedTags\""}
	}
	removed, err := toStringSlice(rawRemoved)
	if err != nil {
		return &InvalidPayloadError{Type: TypeORSet, Op: "merge", Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for el, rawTags := range elementsMap {
		tags, err := toStringSlice(rawTags)
		if err != nil {
			return &InvalidPayloadError{Type: TypeORSet, Op: "merge", Reason: err.Error()}
		}
		if s.adds[el] == nil {
			s.adds[el] = map[string]struct{}{}
		}
		for _, t := range tags {
			s.adds[el][t] = struct{}{}
		}
	}
	for _, t := range removed {
		s.removed[t] = struct{}{}
	}
	return nil
}

func (s *ORSet) Copy() CRDT {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := NewORSet(s.id, s.tags)
	for el, tags := range s.adds {
		cp := make(map[string]struct{}, len(tags))
		for t := range tags {
			cp[t] = struct{}{}
		}
		clone.adds[el] = cp
	}
	for t := range s.removed {
		clone.removed[t] = struct{}{}
	}
	return clone
}

func (s *ORSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = map[string]map[string]struct{}{}
	s.removed = map[string]struct{}{}
}

// Validate checks that every removed tag was observed as an add (§3 inv.
// 3): no orphan tombstones.
func (s *ORSet) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := map[string]struct{}{}
	for _, tags := range s.adds {
		for t := range tags {
			known[t] = struct{}{}
		}
	}
	for t := range s.removed {
		if _, ok := known[t]; !ok {
			return &InvariantViolatedError{Type: TypeORSet, ID: s.id, Reason: "removed tag " + t + " was never added"}
		}
	}
	return nil
}

func (s *ORSet) CreateOp(name string, data map[string]any, origin string, timestampMillis int64) (Operation, error) {
	switch name {
	case "add", "remove":
	default:
		return Operation{}, &UnknownOperationError{Type: TypeORSet, Op: name}
	}
	if data == nil {
		data = map[string]any{}
	}
	return NewOperation(s.id, name, data, origin, timestampMillis, ""), nil
}
