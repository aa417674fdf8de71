package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
)

var (
	discard  = slog.New(slog.NewTextHandler(io.Discard, nil))
	pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfMagic = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

// fakeRunner writes pages prefix-1.png .. prefix-N.png like pdftoppm.
type fakeRunner struct {
	pages int
	err   error
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.args = args
	if f.err != nil {
		return nil, []byte("Syntax Error"), f.err
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		body := append([]byte{}, pngMagic...)
		body = append(body, byte(i))
		if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), body, 0o600); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func TestRasterizeImagePassthrough(t *testing.T) {
	r := New(Config{}, discard).WithRunner(&fakeRunner{})
	pages, err := r.Rasterize(context.Background(), "scan.png", pngMagic)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "image/png", pages[0].MIMEType)
	assert.Equal(t, pngMagic, pages[0].Data)
}

func TestRasterizePDFOrdersPagesNumerically(t *testing.T) {
	fr := &fakeRunner{pages: 12}
	r := New(Config{DPI: 150, TempDir: t.TempDir()}, discard).WithRunner(fr)

	pages, err := r.Rasterize(context.Background(), "inv.pdf", pdfMagic)
	require.NoError(t, err)
	require.Len(t, pages, 12)
	for i, p := range pages {
		assert.Equal(t, byte(i+1), p.Data[len(p.Data)-1], "page %d", i+1)
	}
	assert.Equal(t, []string{"-r", "150", "-png"}, fr.args[:3])
}

func TestRasterizePDFMaxPages(t *testing.T) {
	fr := &fakeRunner{pages: 5}
	r := New(Config{MaxPages: 2, TempDir: t.TempDir()}, discard).WithRunner(fr)

	pages, err := r.Rasterize(context.Background(), "inv.pdf", pdfMagic)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Contains(t, fr.args, "-l")
}

func TestRasterizeCleansUp(t *testing.T) {
	tmp := t.TempDir()
	r := New(Config{TempDir: tmp}, discard).WithRunner(&fakeRunner{pages: 1})
	_, err := r.Rasterize(context.Background(), "inv.pdf", pdfMagic)
	require.NoError(t, err)

	left, _ := filepath.Glob(filepath.Join(tmp, "*"))
	assert.Empty(t, left)
}

func TestRasterizeErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(Config{}, discard).Rasterize(ctx, "notes.txt", []byte("plain text"))
	assert.True(t, common.IsCode(err, common.CodeValidation))

	r := New(Config{TempDir: t.TempDir()}, discard).WithRunner(&fakeRunner{err: errors.New("exit 1")})
	_, err = r.Rasterize(ctx, "bad.pdf", pdfMagic)
	assert.True(t, common.IsCode(err, common.CodeParse))
	assert.Contains(t, err.Error(), "Syntax Error")

	r = New(Config{TempDir: t.TempDir()}, discard).WithRunner(&fakeRunner{pages: 0})
	_, err = r.Rasterize(ctx, "empty.pdf", pdfMagic)
	assert.True(t, common.IsCode(err, common.CodeParse))
}

func TestSortPages(t *testing.T) {
	paths := []string{"p-10.png", "p-2.png", "p-1.png"}
	sortPages(paths, "p")
	assert.Equal(t, []string{"p-1.png", "p-2.png", "p-10.png"}, paths)
}
