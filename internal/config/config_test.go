package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "data:\n  base_dir: ./data\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunking.Size != 800 || cfg.Chunking.Overlap != 200 {
		t.Errorf("chunking defaults = %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port default = %d", cfg.Server.Port)
	}
	if cfg.TenantMap.Backend != "local" {
		t.Errorf("backend default = %q", cfg.TenantMap.Backend)
	}
	if !filepath.IsAbs(cfg.Data.BaseDir) {
		t.Errorf("base dir not expanded: %q", cfg.Data.BaseDir)
	}
	if cfg.Completion.Model != "gpt-4o-mini" {
		t.Errorf("completion model default = %q", cfg.Completion.Model)
	}
}

func TestLoadRejectsOverlapNotSmallerThanSize(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "chunking:\n  size: 100\n  overlap: 100\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for overlap >= size")
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "tenant_map:\n  backend: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for postgres backend without dsn")
	}
}

func TestLoadLocalEnvOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "local.env"), []byte("LLM_MODEL=gpt-test\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLM_MODEL", "")
	os.Unsetenv("LLM_MODEL")
	path := writeConfig(t, dir, "debug: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer os.Unsetenv("LLM_MODEL")
	if cfg.Completion.Model != "gpt-test" {
		t.Errorf("local.env override not applied, model = %q", cfg.Completion.Model)
	}
}
