package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.Layout, *embedding.MockGateway) {
	t.Helper()
	layout := store.NewLayout(t.TempDir())
	chunker, err := NewChunker(800, 200)
	if err != nil {
		t.Fatal(err)
	}
	gateway := embedding.NewMockGateway(16, "openai:text-embedding-3-small")
	return NewBuilder(layout, chunker, gateway, zap.NewNop()), layout, gateway
}

func writeDoc(t *testing.T, layout *store.Layout, tenant, name, text string) {
	t.Helper()
	if err := layout.EnsureTenant(tenant); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(layout.DocsDir(tenant), name), []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildInvariant(t *testing.T) {
	ctx := context.Background()
	b, layout, _ := newTestBuilder(t)
	writeDoc(t, layout, "acme", "about.txt", strings.Repeat("Acme ships widgets. ", 120))

	result, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if result.ChunkCount == 0 || !result.Indexed {
		t.Fatalf("result = %+v", result)
	}

	version, err := layout.CurrentVersion("acme")
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(version.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	chunks, _ := st.CountChunks(ctx)
	vectors, _ := st.CountVectors(ctx)
	keys, err := st.VectorKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chunks != result.ChunkCount || vectors != chunks || len(keys) != chunks {
		t.Errorf("chunks=%d vectors=%d keys=%d, want all %d", chunks, vectors, len(keys), result.ChunkCount)
	}

	model, err := st.EmbeddingModel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if model != "openai:text-embedding-3-small" {
		t.Errorf("pinned model = %q", model)
	}
	if !version.HasIndex() {
		t.Error("published version has no index artifact")
	}
	if _, err := os.Stat(version.ChunkFilePath(0)); err != nil {
		t.Errorf("chunk file missing: %v", err)
	}
	if _, err := os.Stat(version.ParsedTextPath()); err != nil {
		t.Errorf("parsed text missing: %v", err)
	}
}

func TestBuildIdempotent(t *testing.T) {
	ctx := context.Background()
	b, layout, _ := newTestBuilder(t)
	writeDoc(t, layout, "acme", "about.txt", strings.Repeat("Stable corpus text. ", 200))

	first, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	firstTexts := chunkTexts(t, layout, "acme", first.ChunkCount)

	second, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if second.ChunkCount != first.ChunkCount {
		t.Fatalf("chunk count changed: %d then %d", first.ChunkCount, second.ChunkCount)
	}
	secondTexts := chunkTexts(t, layout, "acme", second.ChunkCount)
	for i := range firstTexts {
		if firstTexts[i] != secondTexts[i] {
			t.Errorf("chunk %d text changed between identical builds", i)
		}
	}
	if second.VersionID == first.VersionID {
		t.Error("rebuild reused the version id")
	}
}

func chunkTexts(t *testing.T, layout *store.Layout, tenant string, n int) []string {
	t.Helper()
	version, err := layout.CurrentVersion(tenant)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(version.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	texts := make([]string, n)
	for i := 0; i < n; i++ {
		chunk, ok, err := st.Chunk(context.Background(), store.ChunkKey(i))
		if err != nil || !ok {
			t.Fatalf("chunk %d: ok=%v err=%v", i, ok, err)
		}
		texts[i] = chunk.Text
	}
	return texts
}

func TestShrinkingRebuildLeavesNoStaleKeys(t *testing.T) {
	ctx := context.Background()
	b, layout, _ := newTestBuilder(t)
	writeDoc(t, layout, "acme", "big.txt", strings.Repeat("Lots of text here. ", 300))

	first, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if first.ChunkCount < 2 {
		t.Fatalf("want a multi-chunk corpus, got %d chunks", first.ChunkCount)
	}

	// Replace the corpus with something that fits in one chunk.
	if err := os.WriteFile(filepath.Join(layout.DocsDir("acme"), "big.txt"), []byte("Tiny corpus."), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if second.ChunkCount != 1 {
		t.Fatalf("shrunk corpus produced %d chunks", second.ChunkCount)
	}

	version, _ := layout.CurrentVersion("acme")
	st, err := store.Open(version.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	keys, err := st.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range keys {
		if key == store.ChunkKey(1) || key == "vector_1" {
			t.Errorf("stale key %q survived shrinking rebuild", key)
		}
	}
	chunks, _ := st.CountChunks(ctx)
	vectors, _ := st.CountVectors(ctx)
	if chunks != 1 || vectors != 1 {
		t.Errorf("chunks=%d vectors=%d, want 1 and 1", chunks, vectors)
	}
}

func TestFailedEmbedKeepsPublishedVersion(t *testing.T) {
	ctx := context.Background()
	b, layout, gateway := newTestBuilder(t)
	writeDoc(t, layout, "acme", "about.txt", "Acme repairs bicycles and sells parts.")

	first, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}

	gateway.Fail = errors.New("provider down")
	if _, err := b.Build(ctx, "acme"); err == nil {
		t.Fatal("build succeeded despite embedding failure")
	}

	version, err := layout.CurrentVersion("acme")
	if err != nil {
		t.Fatalf("published version lost: %v", err)
	}
	if version.ID() != first.VersionID {
		t.Errorf("published version changed to %s after failed build", version.ID())
	}
	st, err := store.Open(version.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	chunk, ok, err := st.Chunk(ctx, store.ChunkKey(0))
	if err != nil || !ok {
		t.Fatalf("prior version unreadable: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(chunk.Text, "bicycles") {
		t.Errorf("prior chunk text = %q", chunk.Text)
	}
}

func TestBuildEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	b, layout, _ := newTestBuilder(t)
	if err := layout.EnsureTenant("empty"); err != nil {
		t.Fatal(err)
	}

	result, err := b.Build(ctx, "empty")
	if err != nil {
		t.Fatal(err)
	}
	// Metadata JSON alone still normalizes to non-empty text, so one chunk.
	if result.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", result.ChunkCount)
	}
}

func TestBuildRejectsInvalidTenant(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	if _, err := b.Build(context.Background(), "../escape"); err == nil {
		t.Error("invalid tenant name accepted")
	}
}

func TestBuildSkipsUnsupportedAndCorruptFiles(t *testing.T) {
	ctx := context.Background()
	b, layout, _ := newTestBuilder(t)
	writeDoc(t, layout, "acme", "good.txt", "Acme installs solar panels.")
	writeDoc(t, layout, "acme", "broken.pdf", "not a pdf at all")
	writeDoc(t, layout, "acme", "ignored.exe", "binary junk")

	result, err := b.Build(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	version, _ := layout.CurrentVersion("acme")
	data, err := os.ReadFile(version.ParsedTextPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "solar panels") {
		t.Error("good document text missing from parsed blob")
	}
	if strings.Contains(string(data), "binary junk") {
		t.Error("unsupported file leaked into parsed blob")
	}
	if result.ChunkCount == 0 {
		t.Error("no chunks produced")
	}
}
