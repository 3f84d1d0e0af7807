package rag

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one retrievable unit of a source document.
type Chunk struct {
	Index    int
	Content  string
	Metadata ChunkMetadata
}

// ChunkMetadata carries retrieval context recorded at split time.
type ChunkMetadata struct {
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
	CharCount     int    `json:"char_count"`
}

// Chunker splits document text into overlapping chunks, preferring to break
// at paragraph, line, and sentence boundaries before falling back to words
// and raw characters.
type Chunker struct {
	Size    int
	Overlap int
}

// Separator precedence for the recursive splitter.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

const neighborContextChars = 100

// NewChunker creates a chunker. Size and overlap must be positive with
// overlap < size; callers pass configured values (defaults 800/200).
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split chunks the text and records neighbor context in each chunk's
// metadata.
func (c *Chunker) Split(text string) []Chunk {
	text = normalizeWhitespace(text)
	if text == "" {
		return nil
	}

	pieces := c.split(text, chunkSeparators)
	merged := c.mergeWithOverlap(pieces)

	chunks := make([]Chunk, len(merged))
	for i, content := range merged {
		meta := ChunkMetadata{CharCount: len(content)}
		if i > 0 {
			meta.ContextBefore = tail(merged[i-1], neighborContextChars)
		}
		if i < len(merged)-1 {
			meta.ContextAfter = head(merged[i+1], neighborContextChars)
		}
		chunks[i] = Chunk{Index: i, Content: content, Metadata: meta}
	}
	return chunks
}

// split recursively divides text at the coarsest separator that produces
// pieces no larger than the chunk size.
func (c *Chunker) split(text string, separators []string) []string {
	if len(text) <= c.Size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	if sep == "" {
		// Character-level fallback for pathological inputs. Cuts land on
		// rune boundaries so multi-byte text stays valid UTF-8.
		var out []string
		for len(text) > c.Size {
			cut := c.Size
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
			out = append(out, text[:cut])
			text = text[cut:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	var out []string
	parts := strings.Split(text, sep)
	for i, part := range parts {
		if sep == ". " && i < len(parts)-1 {
			// Keep the sentence terminator on the piece.
			part = strings.TrimSpace(part) + "."
		}
		if strings.TrimSpace(part) == "" {
			continue
		}
		if len(part) <= c.Size {
			out = append(out, part)
		} else {
			out = append(out, c.split(part, rest)...)
		}
	}
	return out
}

// mergeWithOverlap packs pieces into chunks up to the size limit, carrying
// an overlap window from the end of each chunk into the next.
func (c *Chunker) mergeWithOverlap(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, content)
		}
		current.Reset()
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece)+1 > c.Size {
			overlap := tail(current.String(), c.Overlap)
			flush()
			current.WriteString(overlap)
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(piece)
	}
	flush()

	return chunks
}

// normalizeWhitespace collapses runs of blank lines and trims trailing
// spaces, preserving paragraph breaks.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// tail returns at most n trailing bytes of s, cut on a rune boundary and
// without splitting a word.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	cut := s[start:]
	if i := strings.IndexByte(cut, ' '); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return cut
}

// head returns at most n leading bytes of s, cut on a rune boundary and
// without splitting a word.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := n
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
