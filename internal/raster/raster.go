// Package raster turns source documents into one image per page.
package raster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Rasterizer renders a document's bytes into ordered page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, name string, data []byte) ([]entity.Image, error)
}

type Config struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // default 200
	MaxPages int    // 0 = no limit
	TempDir  string // default os.TempDir()
}

type PDFRasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var _ Rasterizer = (*PDFRasterizer)(nil)

func New(cfg Config, logger *slog.Logger) *PDFRasterizer {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFRasterizer{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the command runner; used by tests.
func (r *PDFRasterizer) WithRunner(runner Runner) *PDFRasterizer {
	r.runner = runner
	return r
}

// Rasterize sniffs the content type. Images pass through as a single page;
// PDFs are rendered with pdftoppm.
func (r *PDFRasterizer) Rasterize(ctx context.Context, name string, data []byte) ([]entity.Image, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(constants.ContentTypePDF):
		return r.renderPDF(ctx, name, data)
	case isImage(mt.String()):
		return []entity.Image{{Data: data, MIMEType: mt.String()}}, nil
	default:
		return nil, common.ValidationErrorf("%s: unsupported content type %s", name, mt.String())
	}
}

func isImage(mime string) bool {
	switch mime {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

func (r *PDFRasterizer) renderPDF(ctx context.Context, name string, data []byte) ([]entity.Image, error) {
	dir, err := os.MkdirTemp(r.cfg.TempDir, "raster-*")
	if err != nil {
		return nil, common.StorageError(err, "create raster dir")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("raster.cleanup_failed", "dir", dir, "error", err)
		}
	}()

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, common.StorageError(err, "stage pdf")
	}
	prefix := filepath.Join(dir, "page")

	// pdftoppm -r 200 -png [-l N] <in.pdf> <dir/page>
	args := []string{"-r", strconv.Itoa(r.cfg.DPI), "-png"}
	if r.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(r.cfg.MaxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, r.logger, args...); err != nil {
		return nil, common.ParseError(fmt.Errorf("%w: %s", err, truncate(string(errb), 512)), "render "+name)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sortPages(matches, prefix)
	if r.cfg.MaxPages > 0 && len(matches) > r.cfg.MaxPages {
		matches = matches[:r.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, common.ParseError(fmt.Errorf("no pages rendered"), "render "+name)
	}

	pages := make([]entity.Image, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, common.StorageError(err, "read rendered page")
		}
		pages = append(pages, entity.Image{Data: b, MIMEType: constants.ContentTypePNG})
	}
	r.logger.Info("raster.pdf.ok", "document", name, "pages", len(pages), "dpi", r.cfg.DPI)
	return pages, nil
}

// sortPages orders prefix-N.png by N; pdftoppm zero-pads inconsistently across versions.
func sortPages(paths []string, prefix string) {
	num := func(p string) int {
		s := strings.TrimSuffix(strings.TrimPrefix(p, prefix+"-"), ".png")
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(paths, func(i, j int) bool { return num(paths[i]) < num(paths[j]) })
}
