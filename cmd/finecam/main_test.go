package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPasswordFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	_, err = w.WriteString("s3cret pass\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	password, err := readPassword(r, "")
	require.NoError(t, err)
	assert.Equal(t, "s3cret pass", password)
}

func TestReadPasswordEmptyPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	require.NoError(t, w.Close())

	_, err = readPassword(r, "")
	assert.Error(t, err)
}

func TestReadImageFileDetectsType(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))

	var pngBuf, jpegBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))
	require.NoError(t, jpeg.Encode(&jpegBuf, img, nil))

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"car.png", pngBuf.Bytes(), "image/png"},
		// extension does not matter, content does
		{"car.png.jpg", jpegBuf.Bytes(), "image/jpeg"},
		{"mislabeled.png", jpegBuf.Bytes(), "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, tt.data, 0644))

			f, err := readImageFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.mime, f.MIMEType)
			assert.Equal(t, tt.name, f.Name)
			assert.Equal(t, tt.data, f.Data)
		})
	}
}

func TestReadImageFileRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not pixels"), 0644))

	_, err := readImageFile(path)
	assert.ErrorContains(t, err, "is not an image")
}
