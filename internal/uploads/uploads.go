// Package uploads stores exam images on a local filesystem so the grading
// pipeline can inline them later.
package uploads

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize = 10 << 20

// AcceptedTypes are the image formats the grading pipeline can label when it
// inlines a stored file.
var AcceptedTypes = []string{"image/png", "image/jpeg", "image/webp"}

var (
	// ErrTooLarge indicates the payload exceeded the configured limit.
	ErrTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrNotImage indicates the content is not a PNG, JPEG or WebP image.
	ErrNotImage = errors.New("file must be a PNG, JPEG or WebP image")
	// ErrEmpty indicates an empty payload.
	ErrEmpty = errors.New("file is empty")
	// ErrNotFound indicates no stored file has the requested name.
	ErrNotFound = errors.New("upload not found")
)

// Upload describes a stored file.
type Upload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Store writes uploads into a flat directory.
type Store struct {
	fs        afero.Fs
	urlPrefix string
	maxSize   int64
}

// NewDir opens (and creates) dir on the OS filesystem.
func NewDir(dir string, maxSize int64) (*Store, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return New(afero.NewBasePathFs(osFs, dir), maxSize), nil
}

// New wraps fs, which must be rooted at the uploads directory.
func New(fs afero.Fs, maxSize int64) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{fs: fs, urlPrefix: "/uploads/", maxSize: maxSize}
}

// Fs exposes the underlying filesystem, rooted at the uploads directory.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// MaxSize returns the configured size limit in bytes.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// SaveImage checks data is one of AcceptedTypes within the size limit and
// stores it under a fresh name that keeps the detected extension.
func (s *Store) SaveImage(data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}
	if int64(len(data)) > s.maxSize {
		return Upload{}, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), AcceptedTypes...) {
		return Upload{}, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}

	name := uuid.NewString() + mt.Extension()
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}
	slog.Info("stored upload", "filename", name, "mime", mt.String(), "size", len(data))

	return Upload{
		URL:      s.urlPrefix + name,
		Filename: name,
		MimeType: mt.String(),
		Size:     int64(len(data)),
	}, nil
}

// Open returns the stored file called name. Names containing a path
// separator are rejected.
func (s *Store) Open(name string) (afero.File, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, ErrNotFound
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}
