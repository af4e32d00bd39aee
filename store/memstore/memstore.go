// Package memstore is an in-process, mutex-guarded implementation of the
// state store contract, used as the default store for tests and
// single-process composition.
package memstore

import (
	"sync"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/store"
)

type record struct {
	snapshot crdt.Snapshot
	typ      crdt.Type
}

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	data   map[string]record
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: map[string]record{}}
}

func (s *Store) Save(c crdt.CRDT) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &store.StoreError{Op: "save", Key: c.ID(), Reason: store.ErrClosed{}}
	}
	s.data[c.ID()] = record{snapshot: c.Snapshot(), typ: c.Type()}
	return nil
}

func (s *Store) Load(id string) (crdt.Snapshot, crdt.Type, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", false, &store.StoreError{Op: "load", Key: id, Reason: store.ErrClosed{}}
	}
	rec, ok := s.data[id]
	if !ok {
		return nil, "", false, nil
	}
	return rec.snapshot, rec.typ, true, nil
}

func (s *Store) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, &store.StoreError{Op: "has", Key: id, Reason: store.ErrClosed{}}
	}
	_, ok := s.data[id]
	return ok, nil
}

func (s *Store) ListIds() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &store.StoreError{Op: "listIds", Reason: store.ErrClosed{}}
	}
	out := make([]string, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, &store.StoreError{Op: "remove", Key: id, Reason: store.ErrClosed{}}
	}
	_, ok := s.data[id]
	delete(s.data, id)
	return ok, nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &store.StoreError{Op: "clear", Reason: store.ErrClosed{}}
	}
	s.data = map[string]record{}
	return nil
}

func (s *Store) Stats() (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Stats{}, &store.StoreError{Op: "stats", Reason: store.ErrClosed{}}
	}
	var size int64
	for _, rec := range s.data {
		size += estimateSize(rec.snapshot)
	}
	return store.Stats{TotalCRDTs: len(s.data), SizeBytes: size}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// estimateSize is a rough, allocation-free stand-in for a byte count: memstore
// never serialises, so there is no wire size to report exactly.
func estimateSize(snap crdt.Snapshot) int64 {
	return int64(len(snap)) * 64
}
