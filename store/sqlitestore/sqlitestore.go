// Package sqlitestore implements the state store contract on SQLite, one
// row per CRDT id holding its serialised JSON snapshot plus a type column
// for introspection, adapted from the teacher's internal/storage/sqlite
// package (transaction-per-write, upsert-on-conflict, schema-on-open).
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amaydixit11/meld/crdt"
	"github.com/amaydixit11/meld/store"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed store.Store. path may be ":memory:".
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) a SQLite-backed store at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS crdt_snapshots (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_crdt_snapshots_type ON crdt_snapshots(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Save(c crdt.CRDT) error {
	payload, err := json.Marshal(c.Snapshot())
	if err != nil {
		return &store.StoreError{Op: "save", Key: c.ID(), Reason: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &store.StoreError{Op: "save", Key: c.ID(), Reason: err}
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO crdt_snapshots (id, type, snapshot, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, c.ID(), string(c.Type()), payload)
	if err != nil {
		return &store.StoreError{Op: "save", Key: c.ID(), Reason: err}
	}
	if err := tx.Commit(); err != nil {
		return &store.StoreError{Op: "save", Key: c.ID(), Reason: err}
	}
	return nil
}

func (s *Store) Load(id string) (crdt.Snapshot, crdt.Type, bool, error) {
	var typeStr string
	var payload []byte
	err := s.db.QueryRow(
		"SELECT type, snapshot FROM crdt_snapshots WHERE id = ?", id,
	).Scan(&typeStr, &payload)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, &store.StoreError{Op: "load", Key: id, Reason: err}
	}
	var snap crdt.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, "", false, &store.StoreError{Op: "load", Key: id, Reason: err}
	}
	return snap, crdt.Type(typeStr), true, nil
}

func (s *Store) Has(id string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM crdt_snapshots WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, &store.StoreError{Op: "has", Key: id, Reason: err}
	}
	return count > 0, nil
}

func (s *Store) ListIds() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM crdt_snapshots")
	if err != nil {
		return nil, &store.StoreError{Op: "listIds", Reason: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &store.StoreError{Op: "listIds", Reason: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Remove(id string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM crdt_snapshots WHERE id = ?", id)
	if err != nil {
		return false, &store.StoreError{Op: "remove", Key: id, Reason: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, &store.StoreError{Op: "remove", Key: id, Reason: err}
	}
	return rows > 0, nil
}

func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM crdt_snapshots"); err != nil {
		return &store.StoreError{Op: "clear", Reason: err}
	}
	return nil
}

func (s *Store) Stats() (store.Stats, error) {
	var count int
	var size sql.NullInt64
	err := s.db.QueryRow(
		"SELECT COUNT(1), SUM(LENGTH(snapshot)) FROM crdt_snapshots",
	).Scan(&count, &size)
	if err != nil {
		return store.Stats{}, &store.StoreError{Op: "stats", Reason: err}
	}
	return store.Stats{TotalCRDTs: count, SizeBytes: size.Int64}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
