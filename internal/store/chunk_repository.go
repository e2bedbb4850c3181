package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Chunk is one indexed unit of guidance text with provenance.
type Chunk struct {
	ID      int64
	Source  string
	Content string
	Words   int
}

// TermStat reports the frequency of a term within one chunk.
type TermStat struct {
	Term    string
	ChunkID int64
	Freq    int
}

// ChunkRepository handles guidance chunks and their inverted term index.
type ChunkRepository struct {
	store *Store
}

// NewChunkRepository creates a ChunkRepository backed by the store.
func NewChunkRepository(s *Store) *ChunkRepository {
	return &ChunkRepository{store: s}
}

// Replace atomically clears the index and inserts the given chunks with
// their term frequencies. Used by ingestion so re-ingesting a directory
// never leaves a mixed index behind.
func (r *ChunkRepository) Replace(ctx context.Context, chunks []Chunk, terms map[int][]TermStat) error {
	return r.store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM terms`); err != nil {
			return fmt.Errorf("clearing terms: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return fmt.Errorf("clearing chunks: %w", err)
		}
		for i, c := range chunks {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (source, content, word_count) VALUES (?, ?, ?)`,
				c.Source, c.Content, c.Words)
			if err != nil {
				return fmt.Errorf("inserting chunk %q: %w", c.Source, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading chunk id: %w", err)
			}
			for _, ts := range terms[i] {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO terms (term, chunk_id, freq) VALUES (?, ?, ?)`,
					ts.Term, id, ts.Freq); err != nil {
					return fmt.Errorf("inserting term %q: %w", ts.Term, err)
				}
			}
		}
		return nil
	})
}

// Count returns the number of indexed chunks.
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// TermStats returns all (term, chunk, freq) rows for the given query terms.
func (r *ChunkRepository) TermStats(ctx context.Context, queryTerms []string) ([]TermStat, error) {
	if len(queryTerms) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(queryTerms))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(queryTerms))
	for i, t := range queryTerms {
		args[i] = t
	}

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT term, chunk_id, freq FROM terms WHERE term IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying term stats: %w", err)
	}
	defer rows.Close()

	var stats []TermStat
	for rows.Next() {
		var ts TermStat
		if err := rows.Scan(&ts.Term, &ts.ChunkID, &ts.Freq); err != nil {
			return nil, fmt.Errorf("scanning term stat: %w", err)
		}
		stats = append(stats, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating term stats: %w", err)
	}
	return stats, nil
}

// Get retrieves chunks by ID, preserving the order of ids.
func (r *ChunkRepository) Get(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id, source, content, word_count FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Content, &c.Words); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
