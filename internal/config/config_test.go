package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveProjectPaths_FromRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".cupcake"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := ResolveProjectPaths(dir)
	if err != nil {
		t.Fatalf("ResolveProjectPaths() error: %v", err)
	}

	if paths.Root != dir {
		t.Errorf("Root = %q, want %q", paths.Root, dir)
	}
	if paths.CupcakeDir != filepath.Join(dir, ".cupcake") {
		t.Errorf("CupcakeDir = %q", paths.CupcakeDir)
	}
	if paths.Policies != filepath.Join(dir, ".cupcake", "policies") {
		t.Errorf("Policies = %q", paths.Policies)
	}
	if paths.Trust != filepath.Join(dir, ".cupcake", ".trust") {
		t.Errorf("Trust = %q", paths.Trust)
	}
}

func TestResolveProjectPaths_FromCupcakeDir(t *testing.T) {
	dir := t.TempDir()
	cupcakeDir := filepath.Join(dir, ".cupcake")
	if err := os.MkdirAll(cupcakeDir, 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := ResolveProjectPaths(cupcakeDir)
	if err != nil {
		t.Fatalf("ResolveProjectPaths() error: %v", err)
	}
	if paths.Root != dir {
		t.Errorf("Root = %q, want %q", paths.Root, dir)
	}
}

func TestResolveProjectPaths_LegacyDirectPoliciesDir(t *testing.T) {
	dir := t.TempDir()
	// No .cupcake subdirectory exists: treated as a direct policies dir.
	paths, err := ResolveProjectPaths(dir)
	if err != nil {
		t.Fatalf("ResolveProjectPaths() error: %v", err)
	}
	if paths.Root != filepath.Dir(dir) {
		t.Errorf("Root = %q, want parent of %q", paths.Root, dir)
	}
}

func TestResolveGlobalPaths_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CUPCAKE_GLOBAL_DIR", dir)

	g := ResolveGlobalPaths()
	if g.Root != dir {
		t.Errorf("Root = %q, want %q", g.Root, dir)
	}
	if !g.Exists() {
		t.Error("Exists() = false, want true")
	}
}

func TestGlobalPaths_ExistsFalseWhenMissing(t *testing.T) {
	g := GlobalPaths{Root: filepath.Join(t.TempDir(), "does-not-exist")}
	if g.Exists() {
		t.Error("Exists() = true, want false")
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", s.LogFormat, "text")
	}
}
