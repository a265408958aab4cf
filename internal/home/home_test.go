package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-brieflink")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-brieflink" {
			t.Errorf("expected path /tmp/test-brieflink, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-brieflink")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataPath", dir.DataPath(), "/tmp/test-brieflink/data"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-brieflink/config.yaml"},
		{"DatabasePath", dir.DatabasePath(), "/tmp/test-brieflink/data/brieflink.db"},
		{"BundlesDir", dir.BundlesDir(), "/tmp/test-brieflink/data/bundles"},
		{"SourceImagePath", dir.SourceImagePath("tr-1", 7, 300), "/tmp/test-brieflink/source_images/tr-1/page_0007_300dpi.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "brieflink-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.BundlesDir()); os.IsNotExist(err) {
		t.Error("bundles directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("test: true\n"), 0o644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}
