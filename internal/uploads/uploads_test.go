package uploads

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestSaveImage(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, 1024)

	up, err := s.SaveImage(pngHeader)
	require.NoError(t, err)
	require.Equal(t, "image/png", up.MimeType)
	require.True(t, strings.HasSuffix(up.Filename, ".png"))
	require.Equal(t, "/uploads/"+up.Filename, up.URL)

	got, err := afero.ReadFile(fs, up.Filename)
	require.NoError(t, err)
	require.Equal(t, pngHeader, got)
}

func TestSaveImageRejects(t *testing.T) {
	s := New(afero.NewMemMapFs(), 32)

	_, err := s.SaveImage(nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = s.SaveImage([]byte("plain text, not an image"))
	require.ErrorIs(t, err, ErrNotImage)

	_, err = s.SaveImage(append(pngHeader, bytes.Repeat([]byte{0}, 64)...))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestSaveImageAcceptedTypes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ext  string
		ok   bool
	}{
		{"png", pngHeader, ".png", true},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, ".jpg", true},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), ".webp", true},
		{"gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"), "", false},
		{"bmp", []byte("BM\x1e\x00\x00\x00\x00\x00\x00\x00\x1a\x00\x00\x00"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			up, err := New(fs, 0).SaveImage(tt.data)
			if !tt.ok {
				require.ErrorIs(t, err, ErrNotImage)
				files, _ := afero.ReadDir(fs, ".")
				require.Empty(t, files)
				return
			}
			require.NoError(t, err)
			require.True(t, strings.HasSuffix(up.Filename, tt.ext), up.Filename)
		})
	}
}

func TestNewDefaultsMaxSize(t *testing.T) {
	s := New(afero.NewMemMapFs(), 0)
	require.EqualValues(t, DefaultMaxSize, s.MaxSize())
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, 0)
	up, err := s.SaveImage(pngHeader)
	require.NoError(t, err)

	f, err := s.Open(up.Filename)
	require.NoError(t, err)
	defer f.Close()
	got, err := afero.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, pngHeader, got)

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b.png", "missing.png"} {
		_, err := s.Open(name)
		require.ErrorIs(t, err, ErrNotFound, "name %q", name)
	}
}
