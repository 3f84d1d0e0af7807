package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkerSplit(t *testing.T) {
	c := NewChunker(800, 200)

	t.Run("empty input", func(t *testing.T) {
		if got := c.Split(""); got != nil {
			t.Errorf("expected no chunks, got %d", len(got))
		}
		if got := c.Split("   \n\n  "); got != nil {
			t.Errorf("expected no chunks for whitespace, got %d", len(got))
		}
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := c.Split("Chemotherapy uses drugs to destroy cancer cells.")
		if len(chunks) != 1 {
			t.Fatalf("expected 1 chunk, got %d", len(chunks))
		}
		if chunks[0].Index != 0 {
			t.Errorf("index = %d, want 0", chunks[0].Index)
		}
		if chunks[0].Metadata.ContextBefore != "" || chunks[0].Metadata.ContextAfter != "" {
			t.Error("single chunk should have no neighbor context")
		}
	})

	t.Run("long text respects size limit", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 100; i++ {
			sb.WriteString("Radiation therapy targets tumors with high-energy beams. ")
		}
		chunks := c.Split(sb.String())

		if len(chunks) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(chunks))
		}
		for _, chunk := range chunks {
			if len(chunk.Content) > c.Size+c.Overlap+1 {
				t.Errorf("chunk %d has %d chars, exceeds limit", chunk.Index, len(chunk.Content))
			}
		}
	})

	t.Run("neighbor context recorded", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 100; i++ {
			sb.WriteString("Immunotherapy helps the immune system fight cancer. ")
		}
		chunks := c.Split(sb.String())
		if len(chunks) < 3 {
			t.Skip("need at least 3 chunks")
		}

		mid := chunks[1]
		if mid.Metadata.ContextBefore == "" {
			t.Error("middle chunk should have context_before")
		}
		if mid.Metadata.ContextAfter == "" {
			t.Error("middle chunk should have context_after")
		}
		if len(mid.Metadata.ContextBefore) > neighborContextChars {
			t.Errorf("context_before too long: %d", len(mid.Metadata.ContextBefore))
		}
	})

	t.Run("paragraphs preferred over mid-sentence breaks", func(t *testing.T) {
		para := strings.Repeat("First paragraph sentence. ", 20)
		text := para + "\n\n" + strings.Repeat("Second paragraph sentence. ", 20)
		chunks := c.Split(text)

		for _, chunk := range chunks {
			if strings.HasPrefix(chunk.Content, " ") {
				t.Errorf("chunk %d starts with whitespace", chunk.Index)
			}
		}
	})

	t.Run("sequential indexes", func(t *testing.T) {
		chunks := c.Split(strings.Repeat("Palliative care improves quality of life. ", 120))
		for i, chunk := range chunks {
			if chunk.Index != i {
				t.Errorf("chunk at position %d has index %d", i, chunk.Index)
			}
		}
	})
}

func TestChunkerCharacterFallback(t *testing.T) {
	c := NewChunker(100, 20)

	// No separators at all: one long token.
	chunks := c.Split(strings.Repeat("x", 950))
	if len(chunks) == 0 {
		t.Fatal("expected chunks from character fallback")
	}
	for _, chunk := range chunks {
		if len(chunk.Content) > c.Size+c.Overlap+1 {
			t.Errorf("fallback chunk has %d chars", len(chunk.Content))
		}
	}
}

func TestChunkerFallbackKeepsRunesIntact(t *testing.T) {
	c := NewChunker(10, 2)

	// One unbroken run of 3-byte runes forces the character fallback; every
	// cut must land on a rune boundary.
	chunks := c.Split(strings.Repeat("漢", 20))
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if !utf8.ValidString(chunk.Content) {
			t.Errorf("chunk %d is not valid UTF-8: %q", chunk.Index, chunk.Content)
		}
		if !utf8.ValidString(chunk.Metadata.ContextBefore) || !utf8.ValidString(chunk.Metadata.ContextAfter) {
			t.Errorf("chunk %d neighbor context is not valid UTF-8", chunk.Index)
		}
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\r\nb", "a\nb"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"  a  \n", "a"},
		{"line  \t\nnext", "line\nnext"},
	}

	for _, tt := range tests {
		if got := normalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("normalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
