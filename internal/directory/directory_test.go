package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/tenantmap"
)

func newTestDirectory(t *testing.T) (*Directory, tenantmap.Backend) {
	t.Helper()
	dir := t.TempDir()
	indexes := tenantmap.NewLocal(filepath.Join(dir, "providers_index.json"))
	d, err := Open(filepath.Join(dir, "clients.sqlite"), indexes)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d, indexes
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		raw  string
		kind RefKind
	}{
		{"acme", RefName},
		{"3", RefIndex},
		{"0", RefIndex},
		{"-1", RefName},
		{"3a", RefName},
		{"", RefName},
	}
	for _, tt := range tests {
		if got := ParseRef(tt.raw).Kind; got != tt.kind {
			t.Errorf("ParseRef(%q).Kind = %v, want %v", tt.raw, got, tt.kind)
		}
	}
}

func TestResolveByName(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	if err := d.Assign(ctx, 42, "acme"); err != nil {
		t.Fatal(err)
	}
	tenant, ok, err := d.Resolve(ctx, 42)
	if err != nil || !ok || tenant != "acme" {
		t.Fatalf("Resolve = %q %v %v", tenant, ok, err)
	}
}

func TestResolveUnknownClient(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	if _, ok, err := d.Resolve(ctx, 99); ok || err != nil {
		t.Fatalf("unknown client: ok=%v err=%v", ok, err)
	}
}

func TestResolveByIndex(t *testing.T) {
	ctx := context.Background()
	d, indexes := newTestDirectory(t)

	if err := indexes.Set(ctx, "acme", 3, false); err != nil {
		t.Fatal(err)
	}
	if err := d.AssignIndex(ctx, 7, 3); err != nil {
		t.Fatal(err)
	}
	tenant, ok, err := d.Resolve(ctx, 7)
	if err != nil || !ok || tenant != "acme" {
		t.Fatalf("Resolve = %q %v %v", tenant, ok, err)
	}
}

func TestResolveIndexRetargetsOnRemap(t *testing.T) {
	ctx := context.Background()
	d, indexes := newTestDirectory(t)

	_ = indexes.Set(ctx, "acme", 1, false)
	_ = d.AssignIndex(ctx, 7, 1)

	if err := indexes.Set(ctx, "globex", 1, true); err != nil {
		t.Fatal(err)
	}
	tenant, _, err := d.Resolve(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if tenant != "globex" {
		t.Errorf("resolved %q after remap, want globex", tenant)
	}
}

func TestResolveDanglingIndex(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	if err := d.AssignIndex(ctx, 5, 9); err != nil {
		t.Fatal(err)
	}
	_, ok, err := d.Resolve(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("dangling index should not resolve")
	}
}

func TestReassignReplacesBinding(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	_ = d.Assign(ctx, 1, "acme")
	if err := d.Assign(ctx, 1, "globex"); err != nil {
		t.Fatal(err)
	}
	tenant, _, _ := d.Resolve(ctx, 1)
	if tenant != "globex" {
		t.Errorf("resolved %q, want globex", tenant)
	}
}
