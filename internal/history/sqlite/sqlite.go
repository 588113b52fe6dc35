// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package sqlite implements history.Store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"slices"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quill-dev/quill/internal/history"
	"github.com/quill-dev/quill/internal/provider"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store implements history.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// conversation_turns table.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "migrating history tables")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT UNIQUE NOT NULL,
	identity   TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_identity_created
	ON conversation_turns(identity, created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, turn history.Turn) error {
	if turn.ID == "" {
		return quillerr.Errorf(quillerr.CodeInputInvalid, "history turn id must not be empty")
	}
	if !turn.Role.Valid() {
		return quillerr.Errorf(quillerr.CodeInputInvalid, "invalid history turn role %q", turn.Role)
	}

	const q = `INSERT INTO conversation_turns (id, identity, role, content, created_at)
VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		turn.ID,
		turn.Identity,
		string(turn.Role),
		turn.Content,
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeInternal, "appending turn %s", turn.ID)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, identity string, limit int) ([]history.Turn, error) {
	if limit <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "history limit must be positive, got %d", limit)
	}

	// Newest rows first, then reversed so callers get chronological order.
	const q = `SELECT id, role, content, created_at FROM conversation_turns
WHERE identity = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, identity, limit)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "querying turns for %s", identity)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]history.Turn, 0, limit)
	for rows.Next() {
		var (
			t          history.Turn
			role       string
			createdStr string
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &createdStr); err != nil {
			return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "scanning turn")
		}
		t.Identity = identity
		t.Role = provider.MessageRole(role)
		t.CreatedAt, err = parseTime(createdStr)
		if err != nil {
			return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "parsing created_at of %s", t.ID)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeInternal, "iterating turns")
	}

	slices.Reverse(turns)
	return turns, nil
}
