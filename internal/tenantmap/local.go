package tenantmap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Local is a Backend persisted as a JSON file mapping index to tenant name.
// Writes rewrite the whole file under a process-wide lock; the map is small
// (one entry per tenant).
type Local struct {
	path string
	mu   sync.Mutex
}

// NewLocal creates a local backend at path. The file is created on first
// write; a missing file reads as an empty map.
func NewLocal(path string) *Local {
	return &Local{path: path}
}

// load reads the mapping file. Keys are stored as decimal strings, matching
// the serialized artifact layout.
func (l *Local) load() (map[string]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read tenant index map: %w", err)
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse tenant index map: %w", err)
	}
	return m, nil
}

func (l *Local) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create tenant index map dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write tenant index map: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// Set binds tenant to index, enforcing the bijection.
func (l *Local) Set(ctx context.Context, tenant string, index int, overwrite bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.load()
	if err != nil {
		return err
	}
	sIndex := strconv.Itoa(index)
	for k, v := range m {
		if v != tenant {
			continue
		}
		if k == sIndex {
			return nil
		}
		if !overwrite {
			oldIndex, _ := strconv.Atoi(k)
			return conflictTenantBound(tenant, oldIndex)
		}
		delete(m, k)
	}
	if existing, ok := m[sIndex]; ok && existing != tenant {
		if !overwrite {
			return conflictIndexBound(index, existing)
		}
	}
	m[sIndex] = tenant
	return l.save(m)
}

// GetByIndex resolves an index to a tenant name.
func (l *Local) GetByIndex(ctx context.Context, index int) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return "", false, err
	}
	tenant, ok := m[strconv.Itoa(index)]
	return tenant, ok, nil
}

// GetByTenant resolves a tenant name to its index.
func (l *Local) GetByTenant(ctx context.Context, tenant string) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return 0, false, err
	}
	for k, v := range m {
		if v == tenant {
			index, err := strconv.Atoi(k)
			if err != nil {
				return 0, false, fmt.Errorf("corrupt tenant index map key %q", k)
			}
			return index, true, nil
		}
	}
	return 0, false, nil
}

// List returns the full mapping.
func (l *Local) List(ctx context.Context) (map[int]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		index, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("corrupt tenant index map key %q", k)
		}
		out[index] = v
	}
	return out, nil
}
