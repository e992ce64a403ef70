package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize(""); err == nil {
		t.Error("expected error for empty workspace")
	}
}

func TestProductionModeIsSilent(t *testing.T) {
	tmp := t.TempDir()
	// No config file at all: production mode, no logs directory.
	if err := Initialize(tmp); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Canvas("should not be written")

	if _, err := os.Stat(filepath.Join(tmp, ".flora", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	tmp := t.TempDir()
	cfgDir := filepath.Join(tmp, ".flora")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := []byte(`{"logging":{"debug_mode":true,"level":"debug"}}`)
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), cfg, 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(tmp); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Studio("generation started node=%s", "abc")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tmp, ".flora", "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	found := false
	for _, e := range entries {
		data, _ := os.ReadFile(filepath.Join(tmp, ".flora", "logs", e.Name()))
		if len(data) > 0 {
			found = true
		}
	}
	if !found {
		t.Error("expected at least one non-empty log file")
	}
}

func TestCategoryFilter(t *testing.T) {
	tmp := t.TempDir()
	cfgDir := filepath.Join(tmp, ".flora")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := []byte(`{"logging":{"debug_mode":true,"categories":{"canvas":false}}}`)
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), cfg, 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(tmp); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryCanvas) {
		t.Error("canvas category should be disabled")
	}
	if !IsCategoryEnabled(CategoryTree) {
		t.Error("tree category should default to enabled")
	}
}
