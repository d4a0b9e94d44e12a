package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Result summarizes a completed build.
type Result struct {
	Tenant     string
	VersionID  string
	ChunkCount int
	Indexed    bool
}

// Builder runs full rebuilds for tenants. Each build stages a fresh version,
// writes every artifact into it, and publishes atomically, so queries only
// ever see a complete prior or current version. Builds for the same tenant
// are serialized; different tenants build independently.
type Builder struct {
	layout    *store.Layout
	extractor *extract.Extractor
	chunker   *Chunker
	gateway   embedding.Gateway
	log       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBuilder wires a builder over the given layout and embedding gateway.
func NewBuilder(layout *store.Layout, chunker *Chunker, gateway embedding.Gateway, log *zap.Logger) *Builder {
	return &Builder{
		layout:    layout,
		extractor: extract.NewExtractor(),
		chunker:   chunker,
		gateway:   gateway,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (b *Builder) tenantLock(tenant string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[tenant]
	if !ok {
		l = &sync.Mutex{}
		b.locks[tenant] = l
	}
	return l
}

// Build runs a full rebuild for tenant. On failure the previously published
// version, if any, is left untouched and remains queryable.
func (b *Builder) Build(ctx context.Context, tenant string) (*Result, error) {
	if !store.ValidTenantName(tenant) {
		return nil, fmt.Errorf("invalid tenant name %q", tenant)
	}
	lock := b.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	version, err := b.layout.StageVersion(tenant)
	if err != nil {
		return nil, err
	}
	result, err := b.buildVersion(ctx, tenant, version)
	if err != nil {
		b.layout.Discard(version)
		return nil, err
	}
	if err := b.layout.Publish(version); err != nil {
		b.layout.Discard(version)
		return nil, err
	}
	b.log.Info("build published",
		zap.String("tenant", tenant),
		zap.String("version", version.ID()),
		zap.Int("chunks", result.ChunkCount),
		zap.Bool("indexed", result.Indexed))
	return result, nil
}

func (b *Builder) buildVersion(ctx context.Context, tenant string, version *store.Version) (*Result, error) {
	meta := b.loadMetadata(tenant)
	docsText := b.extractDocuments(tenant)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	normalized := utils.NormalizeWhitespace(string(metaJSON) + "\n" + docsText)

	if err := os.WriteFile(version.ParsedTextPath(), []byte(normalized), 0644); err != nil {
		return nil, fmt.Errorf("write parsed text: %w", err)
	}

	st, err := store.Open(version.DBPath())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if err := st.PurgeBuildKeys(ctx); err != nil {
		return nil, err
	}
	if err := st.SetProviderMetadata(ctx, meta); err != nil {
		return nil, err
	}
	if err := st.SetRawText(ctx, normalized); err != nil {
		return nil, err
	}

	texts := b.chunker.Split(normalized)
	keys := make([]string, 0, len(texts))
	for i, text := range texts {
		chunk := models.Chunk{ID: i, Text: text}
		if err := st.SetChunk(ctx, chunk); err != nil {
			return nil, err
		}
		if err := writeChunkFile(version.ChunkFilePath(i), chunk); err != nil {
			return nil, err
		}
		keys = append(keys, store.ChunkKey(i))
	}

	indexed := false
	if len(texts) > 0 {
		if err := b.embedAndIndex(ctx, st, version, texts); err != nil {
			return nil, err
		}
		indexed = true
	}
	if err := st.SetVectorKeys(ctx, keys); err != nil {
		return nil, err
	}

	return &Result{
		Tenant:     tenant,
		VersionID:  version.ID(),
		ChunkCount: len(texts),
		Indexed:    indexed,
	}, nil
}

// embedAndIndex embeds every chunk, persists the vectors, and writes the
// index artifact. Any embedding failure aborts the build.
func (b *Builder) embedAndIndex(ctx context.Context, st *store.Store, version *store.Version, texts []string) error {
	modelKey, err := b.gateway.DefaultModelKey()
	if err != nil {
		return err
	}
	vectors, err := b.gateway.EmbedBatch(ctx, modelKey, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embed %d chunks: got %d vectors", len(texts), len(vectors))
	}

	dims := len(vectors[0])
	for _, vec := range vectors {
		if len(vec) != dims {
			return &embedding.ModelMismatchError{Want: dims, Got: len(vec)}
		}
	}

	if err := st.SetEmbeddingModel(ctx, modelKey); err != nil {
		return err
	}
	for i, vec := range vectors {
		if err := st.SetVector(ctx, i, vec); err != nil {
			return err
		}
	}

	index, err := vectorIndex(dims, vectors)
	if err != nil {
		return err
	}
	return index.Save(version.IndexPath())
}

// loadMetadata reads the tenant's metadata workbook. A missing or unreadable
// workbook is not fatal: the build proceeds with empty metadata.
func (b *Builder) loadMetadata(tenant string) models.TenantMetadata {
	path := b.layout.MetadataWorkbook(tenant)
	meta, err := extract.ParseMetadataWorkbook(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("metadata workbook unreadable, building without it",
				zap.String("tenant", tenant),
				zap.Error(err))
		}
		return models.TenantMetadata{}
	}
	return meta
}

// extractDocuments reads every supported document in the tenant's docs
// directory in name order. Per-document failures are skipped with a warning.
func (b *Builder) extractDocuments(tenant string) string {
	dir := b.layout.DocsDir(tenant)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !b.extractor.Supported(strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		text, err := b.extractor.Extract(filepath.Join(dir, name))
		if err != nil {
			b.log.Warn("skipping unreadable document",
				zap.String("tenant", tenant),
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

func vectorIndex(dims int, vectors [][]float32) (*vector.Flat, error) {
	index, err := vector.NewFlat(dims)
	if err != nil {
		return nil, err
	}
	if err := index.Add(vectors); err != nil {
		return nil, err
	}
	return index, nil
}

func writeChunkFile(path string, chunk models.Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write chunk file: %w", err)
	}
	return nil
}
