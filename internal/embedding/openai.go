package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OpenAIGateway is an embeddings client for the OpenAI API (and compatible
// servers). It implements Gateway for model keys in the "openai:" family.
type OpenAIGateway struct {
	baseURL  string
	apiKey   string
	override string
	client   *http.Client
}

// OpenAIConfig configures the OpenAI embeddings gateway.
type OpenAIConfig struct {
	BaseURL string
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string
	// ModelKey, when set, overrides default model resolution. It must be an
	// "openai:" key; DefaultModelKey fails otherwise.
	ModelKey string
	Timeout  time.Duration
}

// NewOpenAIGateway creates the gateway. A missing API key is not an error
// here: it surfaces as ConfigError when a model key is resolved or used, so
// that an unconfigured process can still serve non-embedding requests.
func NewOpenAIGateway(cfg OpenAIConfig) *OpenAIGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &OpenAIGateway{
		baseURL:  cfg.BaseURL,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		override: cfg.ModelKey,
		client:   &http.Client{Timeout: t},
	}
}

// DefaultModelKey resolves the preferred model key. An explicit override must
// name an OpenAI model; otherwise the stock model is returned when
// credentials are present.
func (g *OpenAIGateway) DefaultModelKey() (string, error) {
	if g.override != "" {
		if provider, _ := SplitModelKey(g.override); provider != "openai" {
			return "", &ConfigError{Msg: fmt.Sprintf("embedding model key %q must be an openai: key when embeddings are configured as OpenAI-only", g.override)}
		}
		return g.override, nil
	}
	if g.apiKey == "" {
		return "", &ConfigError{Msg: "OPENAI_API_KEY not set: this deployment requires OpenAI embeddings"}
	}
	return DefaultOpenAIModel, nil
}

// EmbedBatch embeds texts in one request with the named model.
func (g *OpenAIGateway) EmbedBatch(ctx context.Context, modelKey string, texts []string) ([][]float32, error) {
	provider, model := SplitModelKey(modelKey)
	if provider != "openai" || model == "" {
		return nil, &ConfigError{Msg: fmt.Sprintf("unsupported embedding model key %q: only openai: keys are supported", modelKey)}
	}
	if g.apiKey == "" {
		return nil, &ConfigError{Msg: "OPENAI_API_KEY not set for openai embedding model"}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}{Input: texts, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings returned %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	dims := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dims {
			return nil, &ModelMismatchError{Want: dims, Got: len(v)}
		}
	}
	return vectors, nil
}
