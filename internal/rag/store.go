package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// SearchResult is one retrieved chunk with its similarity score.
type SearchResult struct {
	ChunkID       types.ID      `json:"chunk_id"`
	DocumentID    types.ID      `json:"document_id"`
	DocumentTitle string        `json:"document_title"`
	Content       string        `json:"content"`
	Metadata      ChunkMetadata `json:"metadata"`
	Score         float64       `json:"score"`
}

// Store persists and searches document chunk embeddings in pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a vector store over the shared pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ReplaceChunks deletes a document's chunks and inserts the new set with
// their embeddings in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, documentID types.ID, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM chat.document_chunks WHERE document_id = $1`, documentID); err != nil {
		return errors.Wrap(err, "failed to clear old chunks")
	}

	for i, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return errors.Wrap(err, "failed to marshal chunk metadata")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat.document_chunks (id, document_id, chunk_index, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			types.NewID(), documentID, chunk.Index, chunk.Content, meta,
			pgvector.NewVector(embeddings[i]),
		); err != nil {
			return errors.Wrap(err, "failed to insert chunk")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// DeleteChunks removes all chunks for a document
func (s *Store) DeleteChunks(ctx context.Context, documentID types.ID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chat.document_chunks WHERE document_id = $1`, documentID); err != nil {
		return errors.Wrap(err, "failed to delete chunks")
	}
	return nil
}

// Search runs an ivfflat nearest-neighbor query over indexed documents.
// When cancerTypeID is set, only chunks from documents tagged with that
// cancer type or with no tag (general documents) are considered. Distance
// maps to score as 1/(1+distance).
func (s *Store) Search(ctx context.Context, embedding []float32, cancerTypeID *types.ID, limit int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.BadRequest("query embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire connection")
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, errors.Wrap(err, "failed to set ivfflat probes")
	}

	query := `
		SELECT c.id, c.document_id, d.title, c.content, c.metadata,
			(c.embedding <-> $1::vector) AS distance
		FROM chat.document_chunks c
		JOIN chat.documents d ON d.id = c.document_id
		WHERE d.indexed`
	args := []any{pgvector.NewVector(embedding)}

	if cancerTypeID != nil {
		query += ` AND (d.cancer_type_id IS NULL OR d.cancer_type_id = $2)`
		args = append(args, *cancerTypeID)
	}

	query += fmt.Sprintf(`
		ORDER BY c.embedding <-> $1::vector
		LIMIT %d`, limit)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search chunks")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var item SearchResult
		var meta []byte
		var distance float64
		if err := rows.Scan(&item.ChunkID, &item.DocumentID, &item.DocumentTitle,
			&item.Content, &meta, &distance); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &item.Metadata)
		}
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}
	return results, rows.Err()
}
