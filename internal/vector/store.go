// Package vector persists chunk embeddings in Postgres behind pgvector.
// The table is keyed by the chunk's content hash, so re-upserting after a
// re-run touches the same rows instead of growing the table.
package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New connects to Postgres and makes sure the embeddings table exists.
// dim is the embedding dimensionality; the vector column is declared with it.
func New(ctx context.Context, databaseURL string, dim int) (*Store, error) {
	// The vector extension must exist before RegisterTypes can look up its
	// type OIDs, so it is created on a throwaway connection first.
	if err := ensureExtension(ctx, databaseURL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, dim: dim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func ensureExtension(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			message_hash text PRIMARY KEY,
			chat_id      text NOT NULL,
			model        text NOT NULL,
			embedding    vector(%d) NOT NULL,
			updated_at   timestamptz NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS chunk_embeddings_chat_id_idx ON chunk_embeddings (chat_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure embeddings schema: %w", err)
		}
	}
	return nil
}

// Record is one chunk embedding row.
type Record struct {
	MessageHash string
	ChatID      string
	Model       string
	Embedding   []float32
}

// Upsert writes a batch of embeddings in one transaction. Conflicting hashes
// overwrite the existing row, so repeating a batch is harmless.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO chunk_embeddings (message_hash, chat_id, model, embedding, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (message_hash) DO UPDATE
			SET chat_id = EXCLUDED.chat_id,
			    model = EXCLUDED.model,
			    embedding = EXCLUDED.embedding,
			    updated_at = now()`,
			r.MessageHash, r.ChatID, r.Model, pgvector.NewVector(r.Embedding),
		)
	}
	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("upsert embedding: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close upsert batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Fetch loads embeddings for the given hashes. Missing hashes are simply
// absent from the result.
func (s *Store) Fetch(ctx context.Context, hashes []string) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_hash, embedding FROM chunk_embeddings
		WHERE message_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(hashes))
	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[hash] = vec.Slice()
	}
	return out, rows.Err()
}

// FetchAll streams every stored embedding to fn, for whole-corpus passes
// like clustering and positioning.
func (s *Store) FetchAll(ctx context.Context, fn func(hash string, embedding []float32) error) error {
	rows, err := s.pool.Query(ctx, `SELECT message_hash, embedding FROM chunk_embeddings ORDER BY message_hash`)
	if err != nil {
		return fmt.Errorf("fetch all embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		if err := fn(hash, vec.Slice()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunk_embeddings`).Scan(&n)
	return n, err
}
