// Package main is the Kotae CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/directory"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/tenantmap"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kotae server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "rebuild":
		runRebuild()
	case "query":
		runQuery()
	case "assign-client":
		runAssignClient()
	case "assign-index":
		runAssignIndex()
	case "providers":
		runProviders()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: kotae <command> [flags]

Commands:
  server         Start the HTTP API server
  rebuild        Rebuild a provider's index from its uploaded sources
  query          Answer a question for a client without going through HTTP
  assign-client  Bind a client ID to a provider (by name or index)
  assign-index   Bind a provider to a numeric index
  providers      List known providers
  status         Show per-provider index state
  version        Print version
  help           Show this help
`)
}

// components bundles everything the subcommands wire up from config.
type components struct {
	Layout    *store.Layout
	Gateway   embedding.Gateway
	Completer llm.Completer
	Builder   *pipeline.Builder
	Engine    *query.Engine
	Indexes   tenantmap.Backend
	Directory *directory.Directory
}

func (c *components) Close() {
	if c.Directory != nil {
		_ = c.Directory.Close()
	}
	if pg, ok := c.Indexes.(*tenantmap.Postgres); ok {
		_ = pg.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	layout := store.NewLayout(cfg.Data.BaseDir)

	gateway := embedding.NewOpenAIGateway(embedding.OpenAIConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		ModelKey:  cfg.Embedding.ModelKey,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	completer := llm.NewOpenAIChat(llm.OpenAIChatConfig{
		BaseURL:   cfg.Completion.BaseURL,
		APIKeyEnv: cfg.Completion.APIKeyEnv,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
		Timeout:   time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
	})

	chunker, err := pipeline.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	var indexes tenantmap.Backend
	switch cfg.TenantMap.Backend {
	case "postgres":
		pg, err := tenantmap.NewPostgres(context.Background(), cfg.TenantMap.DSN)
		if err != nil {
			return nil, fmt.Errorf("tenant map backend: %w", err)
		}
		indexes = pg
	default:
		indexes = tenantmap.NewLocal(cfg.TenantMap.Path)
	}

	dir, err := directory.Open(filepath.Join(cfg.Data.BaseDir, "clients.sqlite"), indexes)
	if err != nil {
		return nil, err
	}

	return &components{
		Layout:    layout,
		Gateway:   gateway,
		Completer: completer,
		Builder:   pipeline.NewBuilder(layout, chunker, gateway, logger),
		Engine:    query.NewEngine(layout, gateway, completer, logger),
		Indexes:   indexes,
		Directory: dir,
	}, nil
}

// setup is the common subcommand preamble: parse flags, load config, build
// the logger and components.
func setup(fs *flag.FlagSet, args []string) (*config.Config, *zap.Logger, *components) {
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, comps
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cfg, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var tenantWatch server.TenantWatcher
	if cfg.Watch.Enabled {
		opts := []watcher.Option{}
		if cfg.Watch.DebounceMillis > 0 {
			opts = append(opts, watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond))
		}
		watch := watcher.NewWatcher(comps.Layout, func(tenant string) {
			if _, err := comps.Builder.Build(context.Background(), tenant); err != nil {
				logger.Warn("watch rebuild failed", zap.String("tenant", tenant), zap.Error(err))
			}
		}, logger, opts...)
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watch.Stop()
		tenantWatch = watch
	}

	srv := server.NewServer(comps.Engine, comps.Builder, comps.Layout, comps.Directory, &cfg.Server, logger, tenantWatch)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	provider := fs.String("provider", "", "provider name to rebuild (required)")
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	if *provider == "" {
		fmt.Println("rebuild: -provider is required")
		os.Exit(1)
	}
	result, err := comps.Builder.Build(context.Background(), *provider)
	if err != nil {
		logger.Fatal("Rebuild failed", zap.String("provider", *provider), zap.Error(err))
	}
	fmt.Printf("Rebuilt %s: %d chunks, version %s\n", result.Tenant, result.ChunkCount, result.VersionID)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	clientID := fs.Int64("client", 0, "client ID (required)")
	topK := fs.Int("top-k", 5, "number of chunks to retrieve")
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *clientID < 1 || question == "" {
		fmt.Println("query: -client and a question are required")
		os.Exit(1)
	}

	ctx := context.Background()
	tenant, ok, err := comps.Directory.Resolve(ctx, *clientID)
	if err != nil {
		logger.Fatal("Client resolution failed", zap.Error(err))
	}
	if !ok {
		fmt.Printf("Client %d has no assigned provider\n", *clientID)
		os.Exit(1)
	}
	resp, err := comps.Engine.Answer(ctx, tenant, question, *topK)
	if err != nil {
		logger.Fatal("Query failed", zap.String("provider", tenant), zap.Error(err))
	}
	fmt.Printf("Answer: %s\n\nSources (%d):\n", resp.Answer, len(resp.Sources))
	for i, src := range resp.Sources {
		fmt.Printf("  [%d] %s\n", i+1, utils.Truncate(src, 120))
	}
}

func runAssignClient() {
	fs := flag.NewFlagSet("assign-client", flag.ExitOnError)
	clientID := fs.Int64("client", 0, "client ID (required)")
	provider := fs.String("provider", "", "provider name")
	index := fs.Int("index", -1, "provider index (alternative to -provider)")
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	if *clientID < 1 {
		fmt.Println("assign-client: -client is required")
		os.Exit(1)
	}
	ctx := context.Background()
	var err error
	switch {
	case *provider != "":
		err = comps.Directory.Assign(ctx, *clientID, *provider)
	case *index >= 0:
		err = comps.Directory.AssignIndex(ctx, *clientID, *index)
	default:
		fmt.Println("assign-client: -provider or -index is required")
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal("Assignment failed", zap.Error(err))
	}
	fmt.Printf("Client %d assigned\n", *clientID)
}

func runAssignIndex() {
	fs := flag.NewFlagSet("assign-index", flag.ExitOnError)
	provider := fs.String("provider", "", "provider name (required)")
	index := fs.Int("index", -1, "index to bind (required)")
	overwrite := fs.Bool("overwrite", false, "steal the index or move the provider if already bound")
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	if *provider == "" || *index < 0 {
		fmt.Println("assign-index: -provider and -index are required")
		os.Exit(1)
	}
	if err := comps.Indexes.Set(context.Background(), *provider, *index, *overwrite); err != nil {
		logger.Fatal("Index assignment failed", zap.Error(err))
	}
	fmt.Printf("Provider %s bound to index %d\n", *provider, *index)
}

func runProviders() {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	tenants, err := comps.Layout.Tenants()
	if err != nil {
		logger.Fatal("List providers failed", zap.Error(err))
	}
	for _, t := range tenants {
		fmt.Println(t)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_, logger, comps := setup(fs, os.Args[2:])
	defer logger.Sync()
	defer comps.Close()

	ctx := context.Background()
	tenants, err := comps.Layout.Tenants()
	if err != nil {
		logger.Fatal("List providers failed", zap.Error(err))
	}
	bindings, err := comps.Indexes.List(ctx)
	if err != nil {
		logger.Fatal("List index bindings failed", zap.Error(err))
	}
	byTenant := make(map[string]int, len(bindings))
	for idx, tenant := range bindings {
		byTenant[tenant] = idx
	}

	sort.Strings(tenants)
	for _, t := range tenants {
		indexed := "no index"
		if comps.Layout.HasIndex(t) {
			indexed = "indexed"
		}
		binding := "-"
		if idx, ok := byTenant[t]; ok {
			binding = fmt.Sprintf("%d", idx)
		}
		fmt.Printf("%-30s %-10s index=%s\n", t, indexed, binding)
	}
}
