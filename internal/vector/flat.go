// Package vector provides a flat Euclidean nearest-neighbor index with
// binary persistence.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Result is a single search hit. Ordinal is the vector's position in
// insertion order; an Ordinal of -1 marks a padding entry emitted when k
// exceeds the index size.
type Result struct {
	Ordinal  int
	Distance float32
}

// Flat is an exhaustive-search index over squared Euclidean distance.
// Vectors are addressed by insertion ordinal; callers keep their own
// ordinal-to-key mapping.
type Flat struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlat creates an empty index with the given dimension.
func NewFlat(dimensions int) (*Flat, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Flat{dimensions: dimensions}, nil
}

// Add appends vectors in order. Every vector must match the index dimension.
func (f *Flat) Add(vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		if len(v) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), f.dimensions)
		}
		vec := make([]float32, f.dimensions)
		copy(vec, v)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

// Search returns the k nearest vectors by squared Euclidean distance,
// ascending. When k exceeds the index size, the remaining entries are padded
// with ordinal -1 so the result always has exactly k entries.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	scored := make([]Result, len(f.vectors))
	for i, vec := range f.vectors {
		var dist float64
		for j := 0; j < f.dimensions; j++ {
			d := float64(query[j] - vec[j])
			dist += d * d
		}
		scored[i] = Result{Ordinal: i, Distance: float32(dist)}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})

	out := make([]Result, k)
	for i := 0; i < k; i++ {
		if i < len(scored) {
			out[i] = scored[i]
		} else {
			out[i] = Result{Ordinal: -1, Distance: math.MaxFloat32}
		}
	}
	return out, nil
}

// Count returns the number of vectors in the index.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dimensions returns the vector dimension.
func (f *Flat) Dimensions() int {
	return f.dimensions
}

// Save persists the index to path. Directory is created if needed.
// Format: dimensions (uint32 LE), count (uint32 LE), then count*dimensions
// float32 values in insertion order.
func (f *Flat) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer out.Close()
	if err := binary.Write(out, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, vec := range f.vectors {
		if _, err := out.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads an index artifact from path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Flat, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer in.Close()

	var dims, n uint32
	if err := binary.Read(in, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if dims == 0 {
		return nil, fmt.Errorf("index file has zero dimensions")
	}
	if err := binary.Read(in, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}

	f := &Flat{dimensions: int(dims)}
	buf := make([]byte, int(dims)*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		f.vectors = append(f.vectors, bytesToFloat32Slice(buf))
	}
	return f, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
