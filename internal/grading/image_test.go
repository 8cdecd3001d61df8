package grading

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLocalResolverPassThrough(t *testing.T) {
	r := NewLocalResolver(afero.NewMemMapFs())

	for _, ref := range []string{
		"data:image/png;base64,iVBORw0KGgo=",
		"https://blob.example.com/exam.jpg",
		"exam.jpg",
	} {
		got, err := r.Resolve(context.Background(), ref)
		require.NoError(t, err)
		require.Equal(t, ref, got)
	}
}

func TestLocalResolverInlinesUploads(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte{0x89, 0x50, 0x4E, 0x47}
	for _, name := range []string{"a.png", "b.jpg", "c.jpeg", "d.webp", "e.gif", "f.PNG"} {
		require.NoError(t, afero.WriteFile(fs, name, content, 0o644))
	}
	r := NewLocalResolver(fs)
	b64 := base64.StdEncoding.EncodeToString(content)

	tests := []struct {
		ref  string
		mime string
	}{
		{"/uploads/a.png", "image/png"},
		{"/uploads/b.jpg", "image/jpeg"},
		{"/uploads/c.jpeg", "image/jpeg"},
		{"/uploads/d.webp", "image/webp"},
		{"/uploads/e.gif", "image/jpeg"},
		{"/uploads/f.PNG", "image/png"},
		{"/uploads/nested/../a.png", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.ref)
			require.NoError(t, err)
			require.Equal(t, "data:"+tt.mime+";base64,"+b64, got)
		})
	}
}

func TestLocalResolverMissingUpload(t *testing.T) {
	r := NewLocalResolver(afero.NewMemMapFs())

	for _, ref := range []string{"/uploads/missing.jpg", "/uploads/"} {
		got, err := r.Resolve(context.Background(), ref)
		require.Empty(t, got)
		require.ErrorIs(t, err, ErrImageRead)
		require.Equal(t, KindImageRead, KindOf(err))
	}
}
