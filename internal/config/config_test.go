package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"shelfkeeper/internal/config"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("library_dir: /tmp/library\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LibraryDir != "/tmp/library" {
		t.Errorf("library_dir: got %q", cfg.LibraryDir)
	}
	if cfg.RescanSchedule == "" {
		t.Error("expected default rescan_schedule to be set")
	}
	if cfg.HTTPAddr == "" {
		t.Error("expected default http_addr to be set")
	}
	if cfg.Workers.HashWorkers == 0 {
		t.Error("expected default hash_workers to be set")
	}
	if cfg.OperationRetention == 0 {
		t.Error("expected default operation_retention to be set")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr: got %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("not_a_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unknown config key")
	}
}

func TestTreeRoot(t *testing.T) {
	cfg := &config.Config{LibraryDir: "/lib", SourcesDir: "/src"}

	if root, err := cfg.TreeRoot("library"); err != nil || root != "/lib" {
		t.Errorf("library: got %q, %v", root, err)
	}
	if root, err := cfg.TreeRoot("sources"); err != nil || root != "/src" {
		t.Errorf("sources: got %q, %v", root, err)
	}
	if _, err := cfg.TreeRoot("backup"); err == nil {
		t.Error("expected error for unknown tree")
	}
}
