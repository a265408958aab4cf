package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the brieflink home directory.
	DefaultDirName = ".brieflink"

	// DataDirName holds the database and downloaded result bundles.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DatabaseFileName is the SQLite file inside the data directory.
	DatabaseFileName = "brieflink.db"
)

// Dir represents the brieflink home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.brieflink).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// DatabasePath returns the default SQLite database path.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.DataPath(), DatabaseFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DataPath(), d.BundlesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// SourceImagesDir returns the rendered-page cache for a document.
func (d *Dir) SourceImagesDir(docID string) string {
	return filepath.Join(d.path, "source_images", docID)
}

// SourceImagePath returns the cached render of a page at a resolution.
// Page numbers are 1-indexed.
func (d *Dir) SourceImagePath(docID string, pageNum, dpi int) string {
	return filepath.Join(d.SourceImagesDir(docID), fmt.Sprintf("page_%04d_%ddpi.png", pageNum, dpi))
}

// EnsureSourceImagesDir creates the source images directory for a document.
func (d *Dir) EnsureSourceImagesDir(docID string) error {
	return os.MkdirAll(d.SourceImagesDir(docID), 0o755)
}

// BundlesDir is the default filesystem root for OCR result bundles.
func (d *Dir) BundlesDir() string {
	return filepath.Join(d.DataPath(), "bundles")
}
