// Package store defines the state store contract (§6): atomic per-key
// persistence of CRDT snapshots, consumed by the manager to survive
// restarts and to hydrate its registry on startup.
package store

import (
	"fmt"

	"github.com/amaydixit11/meld/crdt"
)

// Stats summarises a store's contents for introspection.
type Stats struct {
	TotalCRDTs int
	SizeBytes  int64
}

// Store is the persistence contract the manager is built against. Every
// operation may fail with a StoreError wrapping the underlying cause; Save
// is atomic per key, and Close makes every later call fail.
type Store interface {
	// Save serialises crdt's snapshot and stores it under crdt.ID().
	Save(c crdt.CRDT) error

	// Load returns the stored snapshot for id, and the CRDT type it was
	// saved under, or ok == false if no snapshot is stored for id.
	Load(id string) (snap crdt.Snapshot, typ crdt.Type, ok bool, err error)

	// Has reports whether a snapshot is stored for id.
	Has(id string) (bool, error)

	// ListIds returns every id with a stored snapshot.
	ListIds() ([]string, error)

	// Remove deletes id's stored snapshot. Returns whether anything was
	// removed.
	Remove(id string) (bool, error)

	// Clear deletes every stored snapshot.
	Clear() error

	// Stats reports aggregate store statistics.
	Stats() (Stats, error)

	// Close releases the store's resources. Idempotent.
	Close() error
}

// StoreError wraps a store-layer failure with the operation and key that
// triggered it.
type StoreError struct {
	Op     string
	Key    string
	Reason error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Reason)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Reason)
}

func (e *StoreError) Unwrap() error { return e.Reason }

// ErrClosed is the reason memstore wraps in a StoreError for every call
// made after Close.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "store: closed" }
