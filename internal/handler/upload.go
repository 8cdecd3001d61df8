package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/docnt/docnt/internal/i18n"
	"github.com/docnt/docnt/internal/uploads"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.uploads.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.uploadTooLarge(w, r)
			return
		}
		writeError(w, r, http.StatusBadRequest, "UploadMissing")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "UploadMissing")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		h.internalError(w, r, "failed to read upload", err)
		return
	}

	up, err := h.uploads.SaveImage(data)
	switch {
	case errors.Is(err, uploads.ErrEmpty):
		writeError(w, r, http.StatusBadRequest, "UploadMissing")
		return
	case errors.Is(err, uploads.ErrTooLarge):
		h.uploadTooLarge(w, r)
		return
	case errors.Is(err, uploads.ErrNotImage):
		writeError(w, r, http.StatusBadRequest, "UploadNotImage")
		return
	case err != nil:
		h.internalError(w, r, "failed to store upload", err)
		return
	}

	slog.Info("uploaded exam image", "original_name", header.Filename, "filename", up.Filename, "size", up.Size)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"url":      up.URL,
		"filename": up.Filename,
	})
}

func (h *Handler) uploadTooLarge(w http.ResponseWriter, r *http.Request) {
	msg := appI18n.Td(r.Context(), "UploadTooLarge", map[string]any{"MaxMB": h.uploads.MaxSize() >> 20})
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: msg})
}

// handleServeUpload serves a stored file by name. Directories are not listed.
func (h *Handler) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	f, err := h.uploads.Open(chi.URLParam(r, "*"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}
