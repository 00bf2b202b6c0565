package images

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperreader/internal/domain"
	"paperreader/internal/pdftest"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, fields ...interface{})             {}
func (nopLogger) Error(msg string, err error, fields ...interface{}) {}
func (nopLogger) Debug(msg string, fields ...interface{})            {}
func (nopLogger) Warn(msg string, fields ...interface{})             {}

func TestImageID(t *testing.T) {
	assert.Equal(t, "img_001", ImageID(1))
	assert.Equal(t, "img_042", ImageID(42))
	assert.Equal(t, "img_1000", ImageID(1000))
}

func TestExtract_DeduplicatesByObject(t *testing.T) {
	tmp := t.TempDir()
	src := pdftest.Write(t, tmp, "D1.pdf", pdftest.ThreePagesTwoImages())
	out := filepath.Join(tmp, "images", "D1")

	ids, err := NewExtractor(nopLogger{}).Extract(context.Background(), src, "D1", out)
	require.NoError(t, err)
	assert.Equal(t, []string{"img_001", "img_002"}, ids)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ".jpg", filepath.Ext(e.Name()))
	}
}

// TestExtract_IdenticalBytesDistinctObjects tests that two image objects
// with the same encoded bytes are extracted separately.
func TestExtract_IdenticalBytesDistinctObjects(t *testing.T) {
	tmp := t.TempDir()
	red := pdftest.Image{Width: 16, Height: 16, Color: color.RGBA{R: 200, A: 255}}
	doc := pdftest.Doc{
		Images: []pdftest.Image{red, red},
		Pages: []pdftest.Page{
			{Text: []string{"First red square."}, Images: []int{0}},
			{Text: []string{"Second red square."}, Images: []int{1}},
		},
	}
	src := pdftest.Write(t, tmp, "twins.pdf", doc)
	out := filepath.Join(tmp, "images", "T2")

	ids, err := NewExtractor(nopLogger{}).Extract(context.Background(), src, "T2", out)
	require.NoError(t, err)
	assert.Equal(t, []string{"img_001", "img_002"}, ids)

	first, err := os.ReadFile(filepath.Join(out, "img_001.jpg"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(out, "img_002.jpg"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtract_NoImages(t *testing.T) {
	tmp := t.TempDir()
	src := pdftest.Write(t, tmp, "text.pdf", pdftest.TextOnly("Just words."))

	ids, err := NewExtractor(nopLogger{}).Extract(context.Background(), src, "T1", filepath.Join(tmp, "out"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExtract_InvalidSource(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 garbage"), 0o644))

	_, err := NewExtractor(nopLogger{}).Extract(context.Background(), src, "B1", filepath.Join(tmp, "out"))
	assert.Error(t, err)

	_, err = NewExtractor(nopLogger{}).Extract(context.Background(), filepath.Join(tmp, "absent.pdf"), "B2", filepath.Join(tmp, "out"))
	assert.Error(t, err)
}

func TestDir_ListOpenRemove(t *testing.T) {
	tmp := t.TempDir()
	src := pdftest.Write(t, tmp, "D1.pdf", pdftest.ThreePagesTwoImages())
	dir := NewDir(filepath.Join(tmp, "images"))

	out, err := dir.Path("D1")
	require.NoError(t, err)
	_, err = NewExtractor(nopLogger{}).Extract(context.Background(), src, "D1", out)
	require.NoError(t, err)

	ids, err := dir.List("D1")
	require.NoError(t, err)
	assert.Equal(t, []string{"img_001", "img_002"}, ids)

	data, contentType, err := dir.Open("D1", "img_002")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "image/jpeg", contentType)

	_, _, err = dir.Open("D1", "img_003")
	assert.ErrorIs(t, err, domain.ErrImageNotFound)
	_, _, err = dir.Open("D1", "../D1.pdf")
	assert.ErrorIs(t, err, domain.ErrImageNotFound)

	require.NoError(t, dir.Remove("D1"))
	ids, err = dir.List("D1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDir_RejectsInvalidDocID(t *testing.T) {
	dir := NewDir(t.TempDir())

	_, err := dir.List("../etc")
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentID)
	_, _, err = dir.Open("a/b", "img_001")
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentID)
	assert.ErrorIs(t, dir.Remove(""), domain.ErrInvalidDocumentID)
}
