// Package pipeline turns a tenant's raw sources into a published, queryable
// version: extract, normalize, chunk, embed, index, publish.
package pipeline

import (
	"fmt"
)

// Chunker slices text into fixed-size character windows with overlap.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker with the given window size and overlap, both
// in characters. Overlap must be smaller than size or the window would never
// advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the chunk texts for text. Empty text yields no chunks; text
// no longer than the window yields one. The last chunk is always the tail of
// the text, and each window starts overlap characters before the previous
// window's end.
func (c *Chunker) Split(text string) []string {
	if len(text) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			return chunks
		}
		start = end - c.overlap
	}
}
