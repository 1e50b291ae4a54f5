package rag

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vectors (
	position    INTEGER PRIMARY KEY,
	document_id TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	title       TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	model       TEXT NOT NULL,
	vector      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id, chunk_index);
`

const upsertMeta = `INSERT INTO index_meta(key, value) VALUES(?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// indexStore persists index entries in a single SQLite file.
type indexStore struct {
	db *sql.DB
}

func openIndexStore(path string) (*indexStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	// a single writer connection keeps file mutations ordered
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &indexStore{db: db}, nil
}

func (s *indexStore) Close() error { return s.db.Close() }

type indexMeta struct {
	model   string
	dims    int
	nextPos int64
	version uint64
}

func (s *indexStore) meta(ctx context.Context) (indexMeta, error) {
	var m indexMeta
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return m, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return m, err
		}
		switch k {
		case "model":
			m.model = v
		case "dims":
			m.dims, _ = strconv.Atoi(v)
		case "next_position":
			m.nextPos, _ = strconv.ParseInt(v, 10, 64)
		case "version":
			m.version, _ = strconv.ParseUint(v, 10, 64)
		}
	}
	return m, rows.Err()
}

func (s *indexStore) setMeta(ctx context.Context, model string, dims int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertMeta, "model", model); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertMeta, "dims", strconv.Itoa(dims)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *indexStore) load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, document_id, owner_id, title, chunk_index, text, model, vector
		FROM vectors ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.Position, &e.DocumentID, &e.OwnerID, &e.Title, &e.ChunkIndex, &e.Text, &e.Model, &blob); err != nil {
			return nil, err
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("position %d: %w", e.Position, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// replace deletes the rows matching documentID (every row when documentID is
// empty), inserts entries and records the next free position and the index
// version, in one transaction.
func (s *indexStore) replace(ctx context.Context, documentID string, entries []Entry, nextPos int64, version uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if documentID == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM vectors`)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM vectors WHERE document_id = ?`, documentID)
	}
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vectors(position, document_id, owner_id, title, chunk_index, text, model, vector)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Position, e.DocumentID, e.OwnerID, e.Title, e.ChunkIndex, e.Text, e.Model, encodeVector(e.Vector)); err != nil {
				return err
			}
		}
	}
	if _, err := tx.ExecContext(ctx, upsertMeta, "next_position", strconv.FormatInt(nextPos, 10)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertMeta, "version", strconv.FormatUint(version, 10)); err != nil {
		return err
	}
	return tx.Commit()
}
