package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oncoportal/platform/internal/shared/types"
)

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return []float32{1, 0, 0}, nil
}

func TestIndexFileSkipsUnchangedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.txt")
	if err := os.WriteFile(path, []byte("Chemotherapy is delivered in cycles."), 0o600); err != nil {
		t.Fatal(err)
	}

	hash, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}

	embedder := &countingEmbedder{}
	ix := NewIndexer(nil, embedder, NewChunker(500, 50))

	result, err := ix.IndexFile(context.Background(), types.NewID(), path, hash)
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if !result.Unchanged {
		t.Error("matching hash should report the document unchanged")
	}
	if result.FileHash != hash {
		t.Errorf("file hash = %q, want %q", result.FileHash, hash)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder called %d times for an unchanged document", embedder.calls)
	}
}

func TestFileHashStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("same content"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same content"), 0o600); err != nil {
		t.Fatal(err)
	}

	ha, err := FileHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := FileHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("identical content hashed differently: %q vs %q", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ha))
	}
}
