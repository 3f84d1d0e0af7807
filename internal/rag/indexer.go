package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Indexer turns document files into searchable chunk embeddings.
type Indexer struct {
	store    *Store
	embedder Embedder
	chunker  *Chunker
}

// NewIndexer creates an indexer
func NewIndexer(store *Store, embedder Embedder, chunker *Chunker) *Indexer {
	return &Indexer{store: store, embedder: embedder, chunker: chunker}
}

// Embedding batches are capped to keep request sizes reasonable.
const embedBatchSize = 64

// IndexResult summarizes one indexing run.
type IndexResult struct {
	ChunkCount int
	FileHash   string
	Unchanged  bool
}

// IndexFile extracts, chunks, embeds, and stores a document file. The
// previous chunks for the document are replaced atomically. prevHash is the
// hash recorded at the last successful indexing run ("" when never indexed);
// an unchanged file skips extraction and embedding entirely.
func (ix *Indexer) IndexFile(ctx context.Context, documentID types.ID, path string, prevHash string) (*IndexResult, error) {
	hash, err := FileHash(path)
	if err != nil {
		return nil, err
	}
	if prevHash != "" && hash == prevHash {
		return &IndexResult{FileHash: hash, Unchanged: true}, nil
	}

	text, err := ExtractText(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract document text")
	}

	chunks := ix.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, errors.BadRequest("document contains no extractable text")
	}

	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		batch, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed chunks")
		}
		embeddings = append(embeddings, batch...)
	}

	if err := ix.store.ReplaceChunks(ctx, documentID, chunks, embeddings); err != nil {
		return nil, err
	}

	return &IndexResult{ChunkCount: len(chunks), FileHash: hash}, nil
}

// RemoveDocument drops a document's chunks from the vector store.
func (ix *Indexer) RemoveDocument(ctx context.Context, documentID types.ID) error {
	return ix.store.DeleteChunks(ctx, documentID)
}

// FileHash returns the sha256 of a file's contents as hex.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
