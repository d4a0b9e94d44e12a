// Package tenantmap provides the bijective numeric-index to tenant-name
// directory with pluggable backends.
package tenantmap

import (
	"context"
	"fmt"
)

// ConflictError reports a write that would violate the bijection: an index
// bound to two names or a name bound to two indices.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Backend is the tenant index map contract. Callers never branch on the
// backend in use; it is chosen once at startup, and backend failures are
// surfaced rather than silently redirected to another backend. The map is a
// true bijection: each index maps to at most one tenant and vice versa.
type Backend interface {
	// Set binds tenant to index. If either side is already bound elsewhere
	// and overwrite is false, it fails with ConflictError; with overwrite,
	// the stale bindings on both sides are replaced atomically.
	Set(ctx context.Context, tenant string, index int, overwrite bool) error
	// GetByIndex resolves an index to a tenant name.
	GetByIndex(ctx context.Context, index int) (string, bool, error)
	// GetByTenant resolves a tenant name to its index.
	GetByTenant(ctx context.Context, tenant string) (int, bool, error)
	// List returns the full mapping.
	List(ctx context.Context) (map[int]string, error)
}

func conflictTenantBound(tenant string, index int) error {
	return &ConflictError{Msg: fmt.Sprintf("tenant %s already assigned to index %d", tenant, index)}
}

func conflictIndexBound(index int, tenant string) error {
	return &ConflictError{Msg: fmt.Sprintf("index %d already assigned to tenant %s", index, tenant)}
}
