// Package store provides per-tenant persistence: the on-disk tenant layout
// with versioned, atomically-published build artifacts, and the key-value
// metadata store inside each version.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// currentPointer is the per-tenant file naming the published version.
const currentPointer = "CURRENT"

// tenantNameRe limits tenant names to path-safe characters.
var tenantNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Layout maps tenants to their on-disk directories. Each tenant owns:
//
//	<base>/providers/<tenant>/docs/            raw uploaded source documents
//	<base>/providers/<tenant>/excel/           metadata workbook
//	<base>/providers/<tenant>/versions/<id>/   one complete build (db, parsed, chunks, index)
//	<base>/providers/<tenant>/CURRENT          pointer to the published version id
//
// Builds stage a fresh version directory and publish it by rewriting the
// pointer, so readers only ever observe a fully-written version.
type Layout struct {
	base string
}

// NewLayout creates a layout rooted at base.
func NewLayout(base string) *Layout {
	return &Layout{base: base}
}

// ValidTenantName reports whether name is acceptable as a tenant directory.
func ValidTenantName(name string) bool {
	return tenantNameRe.MatchString(name) && !strings.Contains(name, "..")
}

// TenantsDir returns the directory holding all tenant roots.
func (l *Layout) TenantsDir() string {
	return filepath.Join(l.base, "providers")
}

// TenantRoot returns the root directory for a tenant.
func (l *Layout) TenantRoot(tenant string) string {
	return filepath.Join(l.TenantsDir(), tenant)
}

// DocsDir returns the raw document store for a tenant.
func (l *Layout) DocsDir(tenant string) string {
	return filepath.Join(l.TenantRoot(tenant), "docs")
}

// ExcelDir returns the metadata workbook directory for a tenant.
func (l *Layout) ExcelDir(tenant string) string {
	return filepath.Join(l.TenantRoot(tenant), "excel")
}

// MetadataWorkbook returns the path of the tenant's metadata workbook.
func (l *Layout) MetadataWorkbook(tenant string) string {
	return filepath.Join(l.ExcelDir(tenant), "metadata.xlsx")
}

func (l *Layout) versionsDir(tenant string) string {
	return filepath.Join(l.TenantRoot(tenant), "versions")
}

// EnsureTenant creates the tenant's directory skeleton. Tenants are created
// on first use and never deleted automatically.
func (l *Layout) EnsureTenant(tenant string) error {
	if !ValidTenantName(tenant) {
		return fmt.Errorf("invalid tenant name %q", tenant)
	}
	for _, dir := range []string{l.DocsDir(tenant), l.ExcelDir(tenant), l.versionsDir(tenant)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create tenant dir: %w", err)
		}
	}
	return nil
}

// Tenants lists all tenant names, sorted.
func (l *Layout) Tenants() ([]string, error) {
	entries, err := os.ReadDir(l.TenantsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Version is one complete build of a tenant: its KV store, parsed text blob,
// chunk files, and the vector index artifact.
type Version struct {
	tenant string
	id     string
	root   string
}

// ID returns the version identifier.
func (v *Version) ID() string { return v.id }

// DBPath returns the version's metadata store path.
func (v *Version) DBPath() string { return filepath.Join(v.root, "db", "metadata.sqlite") }

// ParsedTextPath returns the version's normalized combined text blob path.
func (v *Version) ParsedTextPath() string { return filepath.Join(v.root, "parsed", "raw_text.txt") }

// ChunksDir returns the version's chunk file directory.
func (v *Version) ChunksDir() string { return filepath.Join(v.root, "chunks") }

// ChunkFilePath returns the path of one chunk record file.
func (v *Version) ChunkFilePath(id int) string {
	return filepath.Join(v.ChunksDir(), fmt.Sprintf("chunk_%d.json", id))
}

// IndexPath returns the version's vector index artifact path.
func (v *Version) IndexPath() string { return filepath.Join(v.root, "index", "flat.bin") }

// HasIndex reports whether the version carries a vector index artifact.
func (v *Version) HasIndex() bool {
	info, err := os.Stat(v.IndexPath())
	return err == nil && info.Mode().IsRegular()
}

// StageVersion creates a fresh, unpublished version directory for a build.
func (l *Layout) StageVersion(tenant string) (*Version, error) {
	if err := l.EnsureTenant(tenant); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	root := filepath.Join(l.versionsDir(tenant), id)
	for _, dir := range []string{
		filepath.Join(root, "db"),
		filepath.Join(root, "parsed"),
		filepath.Join(root, "chunks"),
		filepath.Join(root, "index"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	return &Version{tenant: tenant, id: id, root: root}, nil
}

// Discard removes an unpublished staging version.
func (l *Layout) Discard(v *Version) {
	if v != nil {
		_ = os.RemoveAll(v.root)
	}
}

// CurrentVersion resolves the published version for a tenant. Returns
// os.ErrNotExist (wrapped) when the tenant has never published a build.
func (l *Layout) CurrentVersion(tenant string) (*Version, error) {
	data, err := os.ReadFile(filepath.Join(l.TenantRoot(tenant), currentPointer))
	if err != nil {
		return nil, fmt.Errorf("no published version for tenant %q: %w", tenant, err)
	}
	id := strings.TrimSpace(string(data))
	root := filepath.Join(l.versionsDir(tenant), id)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("published version %q missing for tenant %q: %w", id, tenant, os.ErrNotExist)
	}
	return &Version{tenant: tenant, id: id, root: root}, nil
}

// Publish atomically makes v the tenant's published version and prunes
// older versions. The pointer is written to a temp file and renamed, so a
// concurrent reader sees either the previous or the new version, never a
// mix. The version published just before v is retained until the next
// publish: a reader that resolved it before the swap can still finish
// against its artifacts.
func (l *Layout) Publish(v *Version) error {
	pointer := filepath.Join(l.TenantRoot(v.tenant), currentPointer)
	prior := ""
	if data, err := os.ReadFile(pointer); err == nil {
		prior = strings.TrimSpace(string(data))
	}
	tmp := pointer + ".tmp"
	if err := os.WriteFile(tmp, []byte(v.id+"\n"), 0644); err != nil {
		return fmt.Errorf("write version pointer: %w", err)
	}
	if err := os.Rename(tmp, pointer); err != nil {
		return fmt.Errorf("publish version pointer: %w", err)
	}
	l.pruneVersions(v.tenant, v.id, prior)
	return nil
}

// pruneVersions removes every version not named in keep. Failures are
// ignored: stale versions are re-pruned on the next publish.
func (l *Layout) pruneVersions(tenant string, keep ...string) {
	entries, err := os.ReadDir(l.versionsDir(tenant))
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		retained := false
		for _, k := range keep {
			if k != "" && e.Name() == k {
				retained = true
				break
			}
		}
		if !retained {
			_ = os.RemoveAll(filepath.Join(l.versionsDir(tenant), e.Name()))
		}
	}
}

// HasIndex reports whether the tenant's published version carries an index
// artifact. Used by health reporting.
func (l *Layout) HasIndex(tenant string) bool {
	v, err := l.CurrentVersion(tenant)
	return err == nil && v.HasIndex()
}
