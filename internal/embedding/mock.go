package embedding

import (
	"context"
	"math"
)

// MockGateway is a deterministic gateway for tests. The same text always
// yields the same unit-length vector of the configured dimension, and every
// model key used is recorded so tests can assert on model pinning.
type MockGateway struct {
	dimensions int
	defaultKey string
	// UsedKeys records each model key passed to EmbedBatch, in order.
	UsedKeys []string
	// Fail, when set, is returned by EmbedBatch without producing vectors.
	Fail error
}

// NewMockGateway returns a gateway producing deterministic embeddings of the
// given dimension, resolving defaults to defaultKey.
func NewMockGateway(dimensions int, defaultKey string) *MockGateway {
	if dimensions <= 0 {
		dimensions = 16
	}
	if defaultKey == "" {
		defaultKey = DefaultOpenAIModel
	}
	return &MockGateway{dimensions: dimensions, defaultKey: defaultKey}
}

// DefaultModelKey returns the configured default key.
func (g *MockGateway) DefaultModelKey() (string, error) {
	return g.defaultKey, nil
}

// EmbedBatch returns one deterministic vector per text.
func (g *MockGateway) EmbedBatch(ctx context.Context, modelKey string, texts []string) ([][]float32, error) {
	g.UsedKeys = append(g.UsedKeys, modelKey)
	if g.Fail != nil {
		return nil, g.Fail
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = g.embed(text)
	}
	return vectors, nil
}

func (g *MockGateway) embed(text string) []float32 {
	h := hashString(text)
	emb := make([]float32, g.dimensions)
	for i := 0; i < g.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(uint64(i)+1)))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb
}

// hashString is FNV-1a over the text bytes.
func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
