// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package sqlitevec implements index.Index backed by SQLite with the
// sqlite-vec extension's vec0 virtual table.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quill-dev/quill/internal/index"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

func init() {
	sqlite_vec.Auto()

	index.RegisterBackend("sqlite", func(cfg index.Config) (index.Index, error) {
		return Open(cfg.Path, cfg.Dimension)
	})
}

// Compile-time interface check.
var _ index.Index = (*Index)(nil)

// Index stores vectors in a vec0 virtual table with cosine distance and
// document rows in a companion table. Safe for concurrent use; SQLite
// serializes writers via WAL + busy timeout.
type Index struct {
	db        *sql.DB
	dimension int
}

// Open opens (or creates) a SQLite database at dbPath and initialises the
// vector and document tables. The schema is created on first use, so a
// search against a fresh database is valid and returns nothing.
func Open(dbPath string, dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigInvalid,
			"vector index dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "pinging sqlite db")
	}

	if err := migrate(db, dimension); err != nil {
		_ = db.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "migrating index tables")
	}

	return &Index{db: db, dimension: dimension}, nil
}

func migrate(db *sql.DB, dimension int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		dimension)
	if _, err := db.Exec(vecDDL); err != nil {
		return err
	}

	const docDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`
	_, err := db.Exec(docDDL)
	return err
}

func (ix *Index) Upsert(ctx context.Context, doc index.Document) error {
	if err := doc.Validate(ix.dimension); err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(doc.Embedding)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "serializing embedding")
	}

	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "marshalling metadata")
	}

	now := time.Now()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, doc.ID); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "deleting existing vector %s", doc.ID)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, embedding) VALUES (?, ?)`, doc.ID, blob); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "inserting vector %s", doc.ID)
	}

	// created_at is write-once: re-upserts refresh everything else.
	const docQ = `INSERT INTO documents(id, content, metadata, embedding, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	content = excluded.content,
	metadata = excluded.metadata,
	embedding = excluded.embedding,
	updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, docQ,
		doc.ID, doc.Content, string(metaJSON), blob, formatTime(createdAt), formatTime(now),
	); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "upserting document %s", doc.ID)
	}

	if err := tx.Commit(); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "committing upsert of %s", doc.ID)
	}
	return nil
}

func (ix *Index) Search(ctx context.Context, vector []float32, k int, minScore float64) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid, "search k must be positive, got %d", k)
	}
	if len(vector) != ix.dimension {
		return nil, quillerr.Errorf(quillerr.CodeInputInvalid,
			"query vector has %d dimensions, index expects %d", len(vector), ix.dimension)
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "serializing query vector")
	}

	const q = `SELECT v.id, v.distance, d.content, d.metadata, d.embedding, d.created_at, d.updated_at
FROM vectors v
JOIN documents d ON d.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := ix.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	results := make([]index.SearchResult, 0, k)
	for rows.Next() {
		var (
			id, content, metaStr, createdStr, updatedStr string
			distance                                     float64
			embBlob                                      []byte
		)
		if err := rows.Scan(&id, &distance, &content, &metaStr, &embBlob, &createdStr, &updatedStr); err != nil {
			return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "scanning search result")
		}

		doc, err := buildDocument(id, content, metaStr, embBlob, createdStr, updatedStr)
		if err != nil {
			return nil, err
		}

		// vec0 reports cosine distance in [0,2]; similarity = 1 - distance.
		score := 1 - distance
		if score < minScore {
			continue
		}
		results = append(results, index.SearchResult{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "iterating search results")
	}

	// vec0 orders by distance only; exact ties between documents need the
	// recency tie-break applied here for deterministic output.
	slices.SortFunc(results, compareResults)

	return results, nil
}

func (ix *Index) Get(ctx context.Context, id string) (index.Document, error) {
	const q = `SELECT content, metadata, embedding, created_at, updated_at FROM documents WHERE id = ?`

	var (
		content, metaStr, createdStr, updatedStr string
		embBlob                                  []byte
	)
	err := ix.db.QueryRowContext(ctx, q, id).Scan(&content, &metaStr, &embBlob, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return index.Document{}, quillerr.Errorf(quillerr.CodeDocumentNotFound, "document %s not found", id)
		}
		return index.Document{}, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "getting document %s", id)
	}

	return buildDocument(id, content, metaStr, embBlob, createdStr, updatedStr)
}

func (ix *Index) Delete(ctx context.Context, id string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "deleting vector %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "deleting document %s", id)
	}

	if err := tx.Commit(); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure, "committing delete of %s", id)
	}
	return nil
}

// Close closes the underlying database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func buildDocument(id, content, metaStr string, embBlob []byte, createdStr, updatedStr string) (index.Document, error) {
	metadata := map[string]string{}
	if metaStr != "" && metaStr != "{}" {
		if err := json.Unmarshal([]byte(metaStr), &metadata); err != nil {
			return index.Document{}, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure,
				"unmarshalling metadata of %s", id)
		}
	}

	createdAt, err := parseTime(createdStr)
	if err != nil {
		return index.Document{}, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure,
			"parsing created_at of %s", id)
	}
	updatedAt, err := parseTime(updatedStr)
	if err != nil {
		return index.Document{}, quillerr.Wrapf(err, quillerr.CodeIndexUpstreamFailure,
			"parsing updated_at of %s", id)
	}

	return index.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: deserializeFloat32(embBlob),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func compareResults(a, b index.SearchResult) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	switch {
	case a.Document.CreatedAt.After(b.Document.CreatedAt):
		return -1
	case a.Document.CreatedAt.Before(b.Document.CreatedAt):
		return 1
	}
	return 0
}

// deserializeFloat32 reverses sqlite_vec.SerializeFloat32's raw
// little-endian float32 layout.
func deserializeFloat32(blob []byte) []float32 {
	out := make([]float32, 0, len(blob)/4)
	for i := 0; i+4 <= len(blob); i += 4 {
		bits := binary.LittleEndian.Uint32(blob[i : i+4])
		out = append(out, math.Float32frombits(bits))
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
