package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
)

// RetrievalError reports missing, empty, or inconsistent retrieval artifacts
// for a tenant. It indicates required maintenance (a rebuild), not a
// transient condition, so it always surfaces to the caller.
type RetrievalError struct {
	Tenant string
	Reason string
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for tenant %q: %s", e.Tenant, e.Reason)
}

// Engine answers questions against a tenant's published version. The read
// path takes no locks: it resolves the published version once and every
// artifact it touches belongs to that immutable version.
type Engine struct {
	layout    *store.Layout
	gateway   embedding.Gateway
	completer llm.Completer
	log       *zap.Logger
}

// NewEngine wires a query engine over the layout, embedding gateway, and
// completion client.
func NewEngine(layout *store.Layout, gateway embedding.Gateway, completer llm.Completer, log *zap.Logger) *Engine {
	return &Engine{layout: layout, gateway: gateway, completer: completer, log: log}
}

// Answer runs a grounded query for tenant. A topK of 0 falls back to 5 and
// negative values clamp to 1; the effective k never exceeds the index size.
func (e *Engine) Answer(ctx context.Context, tenant, question string, topK int) (models.QueryResponse, error) {
	var resp models.QueryResponse

	version, err := e.layout.CurrentVersion(tenant)
	if err != nil {
		return resp, &RetrievalError{Tenant: tenant, Reason: "rebuild required"}
	}

	index, err := vector.Load(version.IndexPath())
	if err != nil {
		return resp, &RetrievalError{Tenant: tenant, Reason: "rebuild required"}
	}
	if index.Count() == 0 {
		return resp, &RetrievalError{Tenant: tenant, Reason: "empty index"}
	}

	st, err := store.Open(version.DBPath())
	if err != nil {
		return resp, &RetrievalError{Tenant: tenant, Reason: "rebuild required"}
	}
	defer st.Close()

	keys, err := st.VectorKeys(ctx)
	if err != nil {
		return resp, err
	}
	if len(keys) != index.Count() {
		return resp, &RetrievalError{Tenant: tenant, Reason: "out of sync"}
	}

	modelKey, err := st.EmbeddingModel(ctx)
	if err != nil {
		return resp, err
	}
	if modelKey == "" {
		// Version predates model pinning; fall back to the configured default.
		modelKey, err = e.gateway.DefaultModelKey()
		if err != nil {
			return resp, err
		}
	}

	queryVec, err := embedding.Embed(ctx, e.gateway, modelKey, question)
	if err != nil {
		return resp, err
	}
	if len(queryVec) != index.Dimensions() {
		return resp, &embedding.ModelMismatchError{Want: index.Dimensions(), Got: len(queryVec)}
	}

	// Unset means the default of 5; an explicit negative request clamps to 1.
	k := topK
	if k == 0 {
		k = 5
	}
	if k < 1 {
		k = 1
	}
	if k > index.Count() {
		k = index.Count()
	}

	results, err := index.Search(queryVec, k)
	if err != nil {
		return resp, err
	}

	var chunks, sources []string
	for _, r := range results {
		if r.Ordinal < 0 {
			continue
		}
		chunk, ok, err := st.Chunk(ctx, keys[r.Ordinal])
		if err != nil {
			return resp, err
		}
		if !ok {
			return resp, &RetrievalError{Tenant: tenant, Reason: "out of sync"}
		}
		chunks = append(chunks, chunk.Text)
		sources = append(sources, keys[r.Ordinal])
	}

	if len(chunks) == 0 {
		resp.Answer = llm.UnavailableAnswer
		resp.Sources = []string{}
		return resp, nil
	}

	contextText := strings.Join(chunks, "\n\n")
	answer, err := e.completer.Complete(ctx, question, contextText)
	if err != nil {
		// Context was retrieved, so an unavailable completion is a system
		// failure, not a "not available" answer.
		return resp, err
	}

	grounded := GroundAnswer(answer, chunks)
	if grounded == "" {
		grounded = llm.UnavailableAnswer
	}

	e.log.Debug("query answered",
		zap.String("tenant", tenant),
		zap.Int("hits", len(chunks)),
		zap.String("model", modelKey))

	resp.Answer = grounded
	resp.Sources = sources
	return resp, nil
}
