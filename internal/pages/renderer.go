package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/jackzampolin/brieflink/internal/home"
	"github.com/jackzampolin/brieflink/internal/types"
)

// RendererConfig configures a pdftoppm-backed Renderer.
type RendererConfig struct {
	Home   *home.Dir
	Binary string // default "pdftoppm"
	MaxDPI int    // highest resolution the renderer will produce (default 300)
	Logger *slog.Logger
}

// Renderer rasterizes PDF pages with pdftoppm (poppler-utils) and caches the
// PNGs under the home directory, keyed by document, page and resolution.
type Renderer struct {
	home   *home.Dir
	binary string
	maxDPI int
	logger *slog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.MaxDPI == 0 {
		cfg.MaxDPI = 300
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{home: cfg.Home, binary: cfg.Binary, maxDPI: cfg.MaxDPI, logger: cfg.Logger}
}

// CanRender reports whether dpi is within the renderer's limit.
func (r *Renderer) CanRender(dpi int) bool {
	return dpi > 0 && dpi <= r.maxDPI
}

// Page returns the cached render of a page, rendering it first if needed.
func (r *Renderer) Page(ctx context.Context, doc *types.Document, pageNum, dpi int) ([]byte, error) {
	if doc.SourcePath == "" {
		return nil, fmt.Errorf("document %s has no source path", doc.ID)
	}
	if !r.CanRender(dpi) {
		return nil, fmt.Errorf("resolution %d dpi exceeds renderer limit %d", dpi, r.maxDPI)
	}

	cached := r.home.SourceImagePath(doc.ID, pageNum, dpi)
	if data, err := os.ReadFile(cached); err == nil {
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read cached page: %w", err)
	}

	if err := r.home.EnsureSourceImagesDir(doc.ID); err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	if err := r.render(ctx, doc.SourcePath, pageNum, dpi, cached); err != nil {
		return nil, err
	}
	r.logger.Debug("rendered page", "document_id", doc.ID, "page", pageNum, "dpi", dpi)
	return os.ReadFile(cached)
}

// render runs pdftoppm into a temp dir and moves the result into place, so
// a half-written PNG never lands in the cache.
func (r *Renderer) render(ctx context.Context, pdfPath string, pageNum, dpi int, dst string) error {
	tmpDir, err := os.MkdirTemp("", "brieflink-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(pageNum)

	// -singlefile: no page number suffix, output is <prefix>.png
	cmd := exec.CommandContext(ctx, r.binary,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}

var _ Source = (*Renderer)(nil)
