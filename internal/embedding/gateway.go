// Package embedding provides the embedding gateway: model-key resolution and
// batched text-to-vector translation against a remote provider.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// DefaultOpenAIModel is the model used when no explicit key is configured.
const DefaultOpenAIModel = "openai:text-embedding-3-small"

// Gateway translates a model key and a text batch into fixed-dimension
// vectors. Implementations never substitute another model or fabricate
// vectors: a misconfigured or uncredentialed provider fails with ConfigError.
type Gateway interface {
	// EmbedBatch embeds texts with the exact model named by modelKey
	// ("provider:model-name"). All returned vectors have the same dimension.
	EmbedBatch(ctx context.Context, modelKey string, texts []string) ([][]float32, error)
	// DefaultModelKey returns the preferred model key given available
	// configuration, or ConfigError when no usable backend is configured.
	DefaultModelKey() (string, error)
}

// ConfigError reports missing credentials or model misconfiguration. It is
// fatal at the call site; callers must not fall back to another model.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// ModelMismatchError reports an embedding dimension disagreement between the
// index and a produced vector. It always surfaces; vectors are never
// truncated or padded to fit.
type ModelMismatchError struct {
	Want int
	Got  int
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// SplitModelKey splits "provider:model-name" into its parts. The model part
// is empty when the key has no colon.
func SplitModelKey(key string) (provider, model string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// Embed is a convenience wrapper embedding a single text.
func Embed(ctx context.Context, g Gateway, modelKey, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, modelKey, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
