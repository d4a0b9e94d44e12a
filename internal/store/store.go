package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// Key names inside a version's metadata store.
const (
	keyProviderMetadata = "provider_metadata"
	keyRawText          = "raw_text"
	keyVectorKeys       = "vector_keys"
	keyEmbeddingModel   = "embedding_model"
)

// ChunkKey returns the store key for a chunk id ("chunk_<i>"). The same keys
// appear in the vector ordinal map.
func ChunkKey(id int) string {
	return fmt.Sprintf("chunk_%d", id)
}

// Store is the per-version key-value metadata store backed by SQLite. It
// holds chunk records, embedding vectors, the vector ordinal map, and the
// pinned embedding model key.
type Store struct {
	db *sql.DB
}

// Open opens or creates a store at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, string(data))
	return err
}

// get unmarshals the value at key into out, reporting whether the key exists.
func (s *Store) get(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetProviderMetadata stores the tenant metadata record.
func (s *Store) SetProviderMetadata(ctx context.Context, meta models.TenantMetadata) error {
	return s.put(ctx, keyProviderMetadata, meta)
}

// ProviderMetadata returns the tenant metadata record, zero when unset.
func (s *Store) ProviderMetadata(ctx context.Context) (models.TenantMetadata, error) {
	var meta models.TenantMetadata
	_, err := s.get(ctx, keyProviderMetadata, &meta)
	return meta, err
}

// SetRawText stores the normalized combined text.
func (s *Store) SetRawText(ctx context.Context, text string) error {
	return s.put(ctx, keyRawText, text)
}

// RawText returns the normalized combined text, empty when unset.
func (s *Store) RawText(ctx context.Context) (string, error) {
	var text string
	_, err := s.get(ctx, keyRawText, &text)
	return text, err
}

// SetChunk stores one chunk record under "chunk_<id>".
func (s *Store) SetChunk(ctx context.Context, chunk models.Chunk) error {
	return s.put(ctx, ChunkKey(chunk.ID), chunk)
}

// Chunk returns the chunk stored under key, reporting whether it exists.
func (s *Store) Chunk(ctx context.Context, key string) (models.Chunk, bool, error) {
	var chunk models.Chunk
	ok, err := s.get(ctx, key, &chunk)
	return chunk, ok, err
}

// SetVector stores one embedding vector under "vector_<ordinal>".
func (s *Store) SetVector(ctx context.Context, ordinal int, vec []float32) error {
	return s.put(ctx, fmt.Sprintf("vector_%d", ordinal), vec)
}

// CountVectors returns the number of stored vector_<i> rows.
func (s *Store) CountVectors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE key GLOB 'vector_[0-9]*'`).Scan(&n)
	return n, err
}

// CountChunks returns the number of stored chunk_<i> rows.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE key GLOB 'chunk_[0-9]*'`).Scan(&n)
	return n, err
}

// SetVectorKeys stores the vector ordinal map: position i holds the chunk
// key for the index's i-th vector.
func (s *Store) SetVectorKeys(ctx context.Context, keys []string) error {
	return s.put(ctx, keyVectorKeys, keys)
}

// VectorKeys returns the vector ordinal map, nil when unset.
func (s *Store) VectorKeys(ctx context.Context) ([]string, error) {
	var keys []string
	_, err := s.get(ctx, keyVectorKeys, &keys)
	return keys, err
}

// SetEmbeddingModel records the embedding model pin for this build.
func (s *Store) SetEmbeddingModel(ctx context.Context, modelKey string) error {
	return s.put(ctx, keyEmbeddingModel, modelKey)
}

// EmbeddingModel returns the pinned embedding model key, empty when never
// recorded.
func (s *Store) EmbeddingModel(ctx context.Context) (string, error) {
	var key string
	_, err := s.get(ctx, keyEmbeddingModel, &key)
	return key, err
}

// PurgeBuildKeys removes every per-build row: chunk and vector records, the
// ordinal map, and the model pin. A rebuild calls this before writing so a
// shrinking chunk count cannot leave stale rows beyond the new set.
func (s *Store) PurgeBuildKeys(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key GLOB 'chunk_[0-9]*' OR key GLOB 'vector_[0-9]*' OR key IN (?, ?)`,
		keyVectorKeys, keyEmbeddingModel)
	return err
}

// Keys returns all keys in the store, for diagnostics and tests.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
