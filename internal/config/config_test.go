package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orizon-lang/shmqueue/internal/plat"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	return path
}

func TestLoad_TolerantOfCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "orders.hujson", `{
  // the order-events channel
  "name": "orders",
  "capacity": 65536,
  "scope": "global", // visible to other users
}
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Name != "orders" || c.Capacity != 65536 || c.Scope != plat.ScopeGlobal {
		t.Fatalf("Load() = %+v", c)
	}
}

func TestLoad_DefaultsScopeToLocal(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "c.hujson", `{"name": "c", "capacity": 1024}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Scope != plat.ScopeLocal {
		t.Fatalf("Scope = %v, want ScopeLocal", c.Scope)
	}
}

func TestLoad_RejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "c.hujson", `{"capacity": 1024}`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() = nil error, want error for missing name")
	}
}
