package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/store"
)

// stubCompleter returns a scripted answer and records the context it was
// given.
type stubCompleter struct {
	answer      string
	err         error
	lastContext string
}

func (s *stubCompleter) Complete(ctx context.Context, question, contextText string) (string, error) {
	s.lastContext = contextText
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type fixture struct {
	layout    *store.Layout
	builder   *pipeline.Builder
	gateway   *embedding.MockGateway
	completer *stubCompleter
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := store.NewLayout(t.TempDir())
	chunker, err := pipeline.NewChunker(800, 200)
	if err != nil {
		t.Fatal(err)
	}
	gateway := embedding.NewMockGateway(16, "openai:text-embedding-3-small")
	completer := &stubCompleter{answer: "ok"}
	return &fixture{
		layout:    layout,
		builder:   pipeline.NewBuilder(layout, chunker, gateway, zap.NewNop()),
		gateway:   gateway,
		completer: completer,
		engine:    NewEngine(layout, gateway, completer, zap.NewNop()),
	}
}

func (f *fixture) buildTenant(t *testing.T, tenant, text string) {
	t.Helper()
	if err := f.layout.EnsureTenant(tenant); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(f.layout.DocsDir(tenant), "doc.txt")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.builder.Build(context.Background(), tenant); err != nil {
		t.Fatal(err)
	}
}

func TestAnswerUnbuiltTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Answer(context.Background(), "nobody", "anything here", 5)
	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if re.Reason != "rebuild required" {
		t.Errorf("reason = %q", re.Reason)
	}
}

func TestAnswerTopKClamp(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", strings.Repeat("Acme repairs heating systems. ", 70))

	resp, err := f.engine.Answer(context.Background(), "acme", "What does Acme repair?", 20)
	if err != nil {
		t.Fatal(err)
	}
	version, _ := f.layout.CurrentVersion("acme")
	st, _ := store.Open(version.DBPath())
	defer st.Close()
	count, _ := st.CountVectors(context.Background())
	if count >= 20 {
		t.Fatalf("fixture too large: %d vectors", count)
	}
	if len(resp.Sources) != count {
		t.Errorf("got %d sources, want clamp to index size %d", len(resp.Sources), count)
	}
	for i, src := range resp.Sources {
		if !strings.HasPrefix(src, "chunk_") {
			t.Errorf("sources[%d] = %q, want a chunk key", i, src)
		}
	}
}

func TestAnswerNegativeTopK(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", strings.Repeat("Acme repairs heating systems. ", 70))

	resp, err := f.engine.Answer(context.Background(), "acme", "What does Acme repair?", -3)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("got %d sources, want negative top_k clamped to 1", len(resp.Sources))
	}
}

func TestAnswerOutOfSync(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", strings.Repeat("Plenty of corpus text to span several chunks. ", 70))

	version, err := f.layout.CurrentVersion("acme")
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(version.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	count, _ := st.CountVectors(ctx)
	if count < 3 {
		t.Fatalf("fixture too small: %d vectors", count)
	}
	keys := make([]string, 2)
	for i := range keys {
		keys[i] = store.ChunkKey(i)
	}
	if err := st.SetVectorKeys(ctx, keys); err != nil {
		t.Fatal(err)
	}
	st.Close()

	_, err = f.engine.Answer(ctx, "acme", "What is in the corpus?", 3)
	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if re.Reason != "out of sync" {
		t.Errorf("reason = %q", re.Reason)
	}
}

func TestAnswerEndToEnd(t *testing.T) {
	f := newFixture(t)
	doc := "Acme provides plumbing installation, emergency repairs, and annual " +
		"maintenance plans for homes and small offices across the metro area today."
	f.buildTenant(t, "acme", doc)

	f.completer.answer = "Acme provides plumbing installation and repairs. Penguins live in Antarctica zzqx."
	resp, err := f.engine.Answer(context.Background(), "acme", "What services does Acme provide?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != store.ChunkKey(0) {
		t.Fatalf("sources = %v, want [%s]", resp.Sources, store.ChunkKey(0))
	}
	if !strings.Contains(f.completer.lastContext, "plumbing installation") {
		t.Errorf("context = %q, want the single chunk's text", f.completer.lastContext)
	}
	if resp.Answer != "Acme provides plumbing installation and repairs." {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestAnswerAllSentencesUngrounded(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", "Industrial valve calibration fitting gaskets.")

	f.completer.answer = "Penguins waddle. Zebras graze."
	resp, err := f.engine.Answer(context.Background(), "acme", "What does the shop calibrate?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != llm.UnavailableAnswer {
		t.Errorf("answer = %q, want sentinel", resp.Answer)
	}
	if len(resp.Sources) == 0 {
		t.Error("sources should still carry the retrieved chunks")
	}
}

func TestAnswerCompletionFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", "Some indexed corpus text about welding services.")

	f.completer.err = fmt.Errorf("timeout: %w", llm.ErrCompletionUnavailable)
	_, err := f.engine.Answer(context.Background(), "acme", "What about welding?", 3)
	if !errors.Is(err, llm.ErrCompletionUnavailable) {
		t.Fatalf("got %v, want completion failure to surface", err)
	}
}

func TestAnswerUsesPinnedModel(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", "Corpus text pinned to one embedding model.")
	f.gateway.UsedKeys = nil

	if _, err := f.engine.Answer(context.Background(), "acme", "What is pinned?", 3); err != nil {
		t.Fatal(err)
	}
	if len(f.gateway.UsedKeys) != 1 || f.gateway.UsedKeys[0] != "openai:text-embedding-3-small" {
		t.Errorf("query embedded with keys %v", f.gateway.UsedKeys)
	}
}

func TestAnswerDefaultTopK(t *testing.T) {
	f := newFixture(t)
	f.buildTenant(t, "acme", "Short corpus fits one chunk easily.")

	resp, err := f.engine.Answer(context.Background(), "acme", "What fits?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("got %d sources", len(resp.Sources))
	}
}
