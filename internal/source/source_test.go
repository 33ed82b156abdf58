package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"image-uploader-go/internal/media/mediatest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestCollectWalksDirectoriesWithExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.png"), mediatest.PNG(4, 4))
	writeFile(t, filepath.Join(dir, "a.JPG"), mediatest.JPEG(4, 4, 80))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("hello"))
	writeFile(t, filepath.Join(dir, "nested", "c.webp"), []byte("RIFF"))

	files, err := Collect([]string{dir}, DefaultExtensions)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "nested", "c.webp"),
	}, files)
}

func TestCollectKeepsExplicitFilesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.pdf")
	img := filepath.Join(dir, "x.png")
	writeFile(t, doc, []byte("%PDF-1.4"))
	writeFile(t, img, mediatest.PNG(2, 2))

	files, err := Collect([]string{doc, img, dir}, []string{"png"})
	require.NoError(t, err)
	assert.Equal(t, []string{doc, img}, files)
}

func TestCollectMissingPath(t *testing.T) {
	_, err := Collect([]string{filepath.Join(t.TempDir(), "missing")}, DefaultExtensions)
	assert.Error(t, err)
}

func TestDetectMimeType(t *testing.T) {
	png := mediatest.PNG(2, 2)

	tests := []struct {
		name     string
		file     string
		declared string
		data     []byte
		want     string
	}{
		{"declared wins", "x.png", "IMAGE/JPEG", png, "image/jpeg"},
		{"parameters stripped", "x.png", "image/png; charset=binary", png, "image/png"},
		{"sniffed when empty", "x.bin", "", png, "image/png"},
		{"sniffed when generic", "x.bin", "application/octet-stream", png, "image/png"},
		{"text sniffed without parameters", "x.txt", "", []byte("plain words"), "text/plain"},
		{"extension fallback", "photo.webp", "", []byte{0x00, 0x01, 0x02}, "image/webp"},
		{"unknown", "blob", "", []byte{0x00, 0x01, 0x02}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMimeType(tt.file, tt.declared, tt.data))
		})
	}
}

func TestLoadPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"c.png", "a.jpg", "b.png", "d.jpg"} {
		p := filepath.Join(dir, name)
		if filepath.Ext(name) == ".png" {
			writeFile(t, p, mediatest.PNG(3, 3))
		} else {
			writeFile(t, p, mediatest.JPEG(3, 3, 80))
		}
		files = append(files, p)
	}

	inputs, err := Load(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, inputs, 4)
	assert.Equal(t, "c.png", inputs[0].Name)
	assert.Equal(t, "image/png", inputs[0].MimeType)
	assert.Equal(t, "a.jpg", inputs[1].Name)
	assert.Equal(t, "image/jpeg", inputs[1].MimeType)
	assert.Equal(t, "d.jpg", inputs[3].Name)
	assert.NotEmpty(t, inputs[2].Data)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), []string{filepath.Join(t.TempDir(), "gone.png")})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := filepath.Join(t.TempDir(), "a.png")
	writeFile(t, p, mediatest.PNG(2, 2))
	_, err = Load(ctx, []string{p})
	assert.ErrorIs(t, err, context.Canceled)

	inputs, err := Load(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, inputs)
}
