package pipeline

import (
	"strings"
	"testing"
)

func TestNewChunkerRejectsBadWindow(t *testing.T) {
	if _, err := NewChunker(0, 0); err == nil {
		t.Error("size 0 accepted")
	}
	if _, err := NewChunker(800, 800); err == nil {
		t.Error("overlap == size accepted")
	}
	if _, err := NewChunker(800, 900); err == nil {
		t.Error("overlap > size accepted")
	}
	if _, err := NewChunker(800, -1); err == nil {
		t.Error("negative overlap accepted")
	}
}

func TestSplitEmpty(t *testing.T) {
	c, _ := NewChunker(800, 200)
	if got := c.Split(""); len(got) != 0 {
		t.Errorf("empty text produced %d chunks", len(got))
	}
}

func TestSplitShortText(t *testing.T) {
	c, _ := NewChunker(800, 200)
	text := strings.Repeat("a", 180)
	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Error("single chunk must equal the text")
	}
}

func TestSplitExactWindow(t *testing.T) {
	c, _ := NewChunker(800, 200)
	chunks := c.Split(strings.Repeat("a", 800))
	if len(chunks) != 1 {
		t.Errorf("got %d chunks, want 1", len(chunks))
	}
}

func TestSplitWindowAdvance(t *testing.T) {
	c, _ := NewChunker(800, 200)
	text := strings.Repeat("a", 801)
	chunks := c.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != 800 {
		t.Errorf("first chunk length %d", len(chunks[0]))
	}
	// Second window starts at 600 and runs to the end.
	if len(chunks[1]) != 201 {
		t.Errorf("second chunk length %d, want 201", len(chunks[1]))
	}
}

func TestSplitChunkCount(t *testing.T) {
	// For length T > L the chunk count is ceil((T-O)/(L-O)).
	c, _ := NewChunker(800, 200)
	tests := []struct {
		length int
		want   int
	}{
		{1, 1},
		{800, 1},
		{1400, 2},
		{1401, 3},
		{2000, 3},
		{5000, 8},
	}
	for _, tt := range tests {
		chunks := c.Split(strings.Repeat("x", tt.length))
		if len(chunks) != tt.want {
			t.Errorf("length %d: got %d chunks, want %d", tt.length, len(chunks), tt.want)
		}
	}
}

func TestSplitLastChunkIsTail(t *testing.T) {
	c, _ := NewChunker(10, 3)
	text := "abcdefghijklmnopqrstuvwxy"
	chunks := c.Split(text)
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Errorf("last chunk %q is not the tail of the text", last)
	}
	// Consecutive chunks share exactly the overlap.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if prev[len(prev)-3:] != chunks[i][:3] {
			t.Errorf("chunks %d and %d do not overlap by 3", i-1, i)
		}
	}
}
