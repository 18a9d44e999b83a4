package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
)

// Store implements core.VectorStore on Postgres + pgvector. Each collection
// is a table with an embedding column of fixed dimensionality; similarity is
// cosine distance (<=>), which matches how the embeddings are produced.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]bool
}

var _ core.VectorStore = (*Store)(nil)

// collection names come from a fixed set, but keep the identifier check
// anyway since names end up spliced into DDL.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func New(pool *sql.DB) *Store {
	return &Store{db: pool, ensured: make(map[string]bool)}
}

// EnsureCollection creates the collection table if it is absent. Safe to call
// repeatedly and from multiple processes.
func (s *Store) EnsureCollection(ctx context.Context, name string, dims int) error {
	if !identRe.MatchString(name) {
		return &core.StorageError{Op: "ensure", Err: fmt.Errorf("invalid collection name %q", name)}
	}
	if dims <= 0 {
		return &core.StorageError{Op: "ensure", Err: fmt.Errorf("invalid dims %d", dims)}
	}

	s.mu.Lock()
	done := s.ensured[name]
	s.mu.Unlock()
	if done {
		return nil
	}

	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id uuid PRIMARY KEY,
				session_id text NOT NULL,
				source_filename text NOT NULL,
				media_kind text NOT NULL,
				chunk_index int NOT NULL,
				total_chunks int NOT NULL,
				content_hint text,
				processed_at timestamptz NOT NULL,
				text text NOT NULL,
				embedding vector(%d) NOT NULL
			)`, name, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id)`, name, name),
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &core.StorageError{Op: "ensure " + name, Err: err}
		}
	}

	s.mu.Lock()
	s.ensured[name] = true
	s.mu.Unlock()
	return nil
}

// Upsert inserts all chunks in a single transaction. Every chunk must carry a
// session id; retrieval correctness depends on it.
func (s *Store) Upsert(ctx context.Context, name string, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !identRe.MatchString(name) {
		return &core.StorageError{Op: "upsert", Err: fmt.Errorf("invalid collection name %q", name)}
	}
	for i := range chunks {
		if chunks[i].Metadata.SessionID == "" {
			return &core.StorageError{Op: "upsert " + name, Err: fmt.Errorf("chunk %d has empty session id", i)}
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return &core.StorageError{Op: "upsert " + name, Err: err}
	}

	q := fmt.Sprintf(`
		INSERT INTO %s
			(id, session_id, source_filename, media_kind, chunk_index, total_chunks, content_hint, processed_at, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, name)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return &core.StorageError{Op: "upsert " + name, Err: err}
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		m := &ch.Metadata
		processedAt := m.ProcessedAt
		if processedAt.IsZero() {
			processedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), m.SessionID, m.SourceFilename, string(m.MediaKind),
			m.ChunkIndex, m.TotalChunks, m.ContentHint, processedAt, ch.Text,
			pgvector.NewVector(ch.Embedding),
		); err != nil {
			_ = tx.Rollback()
			return &core.StorageError{Op: "upsert " + name, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &core.StorageError{Op: "upsert " + name, Err: err}
	}
	return nil
}

// Search returns the k chunks nearest to queryVec, best first. A non-empty
// sessionID restricts results to that session at the collection level.
func (s *Store) Search(ctx context.Context, name string, queryVec []float32, k int, sessionID string) ([]models.ScoredChunk, error) {
	if !identRe.MatchString(name) {
		return nil, &core.StorageError{Op: "search", Err: fmt.Errorf("invalid collection name %q", name)}
	}
	if k <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(queryVec)

	var (
		rows *sql.Rows
		err  error
	)
	if sessionID != "" {
		q := fmt.Sprintf(`
			SELECT session_id, source_filename, media_kind, chunk_index, total_chunks, content_hint, processed_at, text,
			       embedding <=> $1 AS distance
			FROM %s
			WHERE session_id = $2
			ORDER BY embedding <=> $1
			LIMIT $3
		`, name)
		rows, err = s.db.QueryContext(ctx, q, vec, sessionID, k)
	} else {
		q := fmt.Sprintf(`
			SELECT session_id, source_filename, media_kind, chunk_index, total_chunks, content_hint, processed_at, text,
			       embedding <=> $1 AS distance
			FROM %s
			ORDER BY embedding <=> $1
			LIMIT $2
		`, name)
		rows, err = s.db.QueryContext(ctx, q, vec, k)
	}
	if err != nil {
		return nil, &core.StorageError{Op: "search " + name, Err: err}
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			sc       models.ScoredChunk
			kind     string
			hint     sql.NullString
			distance float64
		)
		m := &sc.Metadata
		if err := rows.Scan(
			&m.SessionID, &m.SourceFilename, &kind, &m.ChunkIndex, &m.TotalChunks,
			&hint, &m.ProcessedAt, &sc.Text, &distance,
		); err != nil {
			return nil, &core.StorageError{Op: "search " + name, Err: err}
		}
		m.MediaKind = models.MediaKind(kind)
		m.ContentHint = hint.String
		// cosine distance in [0,2]; flip so bigger is better.
		sc.Score = float32(1 - distance)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "search " + name, Err: err}
	}
	return out, nil
}
