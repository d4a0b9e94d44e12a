// Package directory maps client IDs to tenants. Each client record holds a
// tenant reference that is either a tenant name or a numeric tenant index;
// numeric references are resolved through the tenant index map at read time.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/tenantmap"
)

// RefKind distinguishes the two forms a stored tenant reference can take.
type RefKind int

const (
	RefName RefKind = iota
	RefIndex
)

// TenantRef is a parsed tenant reference. The stored value is tagged once
// when read, so callers never re-inspect the raw string.
type TenantRef struct {
	Kind  RefKind
	Name  string
	Index int
}

// ParseRef classifies a raw stored value. A value that parses as a
// non-negative integer is an index reference; anything else is a name.
func ParseRef(raw string) TenantRef {
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return TenantRef{Kind: RefIndex, Index: n}
	}
	return TenantRef{Kind: RefName, Name: raw}
}

// Directory resolves client IDs to tenant names.
type Directory struct {
	db      *sql.DB
	indexes tenantmap.Backend
}

// Open opens (creating if needed) the client database at path. Numeric
// references resolve through indexes.
func Open(path string, indexes tenantmap.Backend) (*Directory, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open client db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT PRIMARY KEY,
		ref TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init client db: %w", err)
	}
	return &Directory{db: db, indexes: indexes}, nil
}

// Close releases the underlying database handle.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Assign binds a client to a tenant by name, replacing any prior binding.
func (d *Directory) Assign(ctx context.Context, clientID int64, tenant string) error {
	return d.setRef(ctx, clientID, tenant)
}

// AssignIndex binds a client to a tenant index. The index is stored as-is
// and resolved through the tenant index map on each lookup, so remapping an
// index retargets every client bound to it.
func (d *Directory) AssignIndex(ctx context.Context, clientID int64, index int) error {
	if index < 0 {
		return fmt.Errorf("assign client %d: negative index %d", clientID, index)
	}
	return d.setRef(ctx, clientID, strconv.Itoa(index))
}

func (d *Directory) setRef(ctx context.Context, clientID int64, ref string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO clients(client_id, ref) VALUES(?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET ref = excluded.ref`,
		strconv.FormatInt(clientID, 10), ref)
	if err != nil {
		return fmt.Errorf("assign client %d: %w", clientID, err)
	}
	return nil
}

// Resolve returns the tenant name bound to clientID. ok is false when the
// client is unknown, or when its reference is a numeric index with no entry
// in the tenant index map.
func (d *Directory) Resolve(ctx context.Context, clientID int64) (string, bool, error) {
	var raw string
	err := d.db.QueryRowContext(ctx,
		`SELECT ref FROM clients WHERE client_id = ?`,
		strconv.FormatInt(clientID, 10)).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve client %d: %w", clientID, err)
	}

	ref := ParseRef(raw)
	if ref.Kind == RefName {
		return ref.Name, true, nil
	}
	tenant, ok, err := d.indexes.GetByIndex(ctx, ref.Index)
	if err != nil {
		return "", false, fmt.Errorf("resolve client %d via index %d: %w", clientID, ref.Index, err)
	}
	return tenant, ok, nil
}
