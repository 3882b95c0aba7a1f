// Package sqlite provides the default persistent vector store. Vectors are
// stored as little-endian float32 blobs next to their chunk metadata and
// scored in-process with cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"wikirag/internal/domain"
	"wikirag/internal/vectorstore"
)

// Store is a SQLite-backed vector index. One database file is one index
// instance; its embedding schema is pinned in the index_meta table so a
// model or dimensionality change is detected at startup instead of silently
// corrupting similarity ranking.
type Store struct {
	db     *sql.DB
	schema vectorstore.Schema
}

// NewStore opens or creates a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates the tables and pins the embedding schema. An existing index
// built with a different model or dimension fails with ErrSchemaMismatch.
func (s *Store) Init(ctx context.Context, schema vectorstore.Schema) error {
	if schema.Model == "" || schema.Dimension <= 0 {
		return fmt.Errorf("store schema incomplete: %w", domain.ErrValidation)
	}
	const ddl = `
	CREATE TABLE IF NOT EXISTS index_meta (
		id        INTEGER PRIMARY KEY CHECK (id = 1),
		model     TEXT    NOT NULL,
		dimension INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entries (
		chunk_id    TEXT    PRIMARY KEY,
		source_id   TEXT    NOT NULL,
		position    INTEGER NOT NULL,
		text        TEXT    NOT NULL,
		token_count INTEGER NOT NULL,
		title       TEXT    NOT NULL DEFAULT '',
		url         TEXT    NOT NULL DEFAULT '',
		vector      BLOB    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source_id);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate index db: %w", err)
	}

	var model string
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT model, dimension FROM index_meta WHERE id = 1`).Scan(&model, &dim)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO index_meta (id, model, dimension) VALUES (1, ?, ?)`,
			schema.Model, schema.Dimension); err != nil {
			return fmt.Errorf("pin index schema: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read index schema: %w", err)
	case model != schema.Model || dim != schema.Dimension:
		return fmt.Errorf("index built with %s/%d, got %s/%d: %w",
			model, dim, schema.Model, schema.Dimension, domain.ErrSchemaMismatch)
	}
	s.schema = schema
	return nil
}

// Upsert writes entries in one transaction so a concurrent search sees
// either none or all of them.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != s.schema.Dimension {
			return fmt.Errorf("vector for %s has dimension %d, index expects %d: %w",
				e.Chunk.ChunkID, len(e.Vector), s.schema.Dimension, domain.ErrSchemaMismatch)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (chunk_id, source_id, position, text, token_count, title, url, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			source_id = excluded.source_id,
			position = excluded.position,
			text = excluded.text,
			token_count = excluded.token_count,
			title = excluded.title,
			url = excluded.url,
			vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		c := e.Chunk
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.SourceID, c.Position, c.Text,
			c.TokenCount, c.Title, c.URL, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("upsert %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

// DeleteBySource removes every entry of a document.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	return nil
}

// Search scans all entries and ranks them by cosine similarity in-process.
// A query vector whose dimension differs from the pinned schema is a schema
// mismatch, even on a store that was opened without Init.
func (s *Store) Search(ctx context.Context, vector []float32, k int, minScore float64) ([]domain.RetrievalResult, error) {
	schema, err := s.pinnedSchema(ctx)
	if err != nil {
		return nil, err
	}
	if schema.Dimension == 0 {
		return nil, nil
	}
	if len(vector) != schema.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d: %w",
			len(vector), schema.Dimension, domain.ErrSchemaMismatch)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, source_id, position, text, token_count, title, url, vector FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	defer rows.Close()

	var hits []domain.RetrievalResult
	for rows.Next() {
		var c domain.Chunk
		var blob []byte
		if err := rows.Scan(&c.ChunkID, &c.SourceID, &c.Position, &c.Text,
			&c.TokenCount, &c.Title, &c.URL, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		hits = append(hits, domain.RetrievalResult{
			Chunk: c,
			Score: vectorstore.Cosine(vector, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	return vectorstore.RankResults(hits, k, minScore), nil
}

// Clear removes every entry and the schema pin, so a rebuild may switch to
// a different embedding model. A database that was never initialized is
// already empty.
func (s *Store) Clear(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'entries'`).Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("clear index schema: %w", err)
	}
	s.schema = vectorstore.Schema{}
	return nil
}

// pinnedSchema returns the schema the index was built with, reading it from
// index_meta when the store was opened without Init. A never-initialized
// database yields a zero schema.
func (s *Store) pinnedSchema(ctx context.Context) (vectorstore.Schema, error) {
	if s.schema.Dimension > 0 {
		return s.schema, nil
	}
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'index_meta'`).Scan(&name)
	if err == sql.ErrNoRows {
		return vectorstore.Schema{}, nil
	}
	if err != nil {
		return vectorstore.Schema{}, fmt.Errorf("read index schema: %w", err)
	}
	var model string
	var dim int
	err = s.db.QueryRowContext(ctx, `SELECT model, dimension FROM index_meta WHERE id = 1`).Scan(&model, &dim)
	if err == sql.ErrNoRows {
		return vectorstore.Schema{}, nil
	}
	if err != nil {
		return vectorstore.Schema{}, fmt.Errorf("read index schema: %w", err)
	}
	s.schema = vectorstore.Schema{Model: model, Dimension: dim}
	return s.schema, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
