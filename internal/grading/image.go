package grading

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

const (
	dataURIPrefix = "data:image"
	// UploadsPrefix is the URL path under which local uploads are served.
	UploadsPrefix = "/uploads/"
)

// ImageResolver turns an exam image reference into something the vision
// model can receive.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// LocalResolver inlines files from the uploads filesystem as data URIs and
// passes every other reference through untouched.
type LocalResolver struct {
	fs afero.Fs
}

// NewLocalResolver reads uploads from fs, which is rooted at the uploads
// directory.
func NewLocalResolver(fs afero.Fs) *LocalResolver {
	return &LocalResolver{fs: fs}
}

// Resolve implements ImageResolver.
func (r *LocalResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, dataURIPrefix) {
		return ref, nil
	}
	if !strings.HasPrefix(ref, UploadsPrefix) {
		return ref, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := ref[strings.LastIndex(ref, "/")+1:]
	if name == "" {
		return "", fmt.Errorf("%w: empty upload name in %q", ErrImageRead, ref)
	}
	data, err := afero.ReadFile(r.fs, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrImageRead, name, err)
	}

	return "data:" + MimeTypeForName(name) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// MimeTypeForName infers an image MIME type from a file extension, falling
// back to JPEG.
func MimeTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
