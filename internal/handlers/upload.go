package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/storage"
)

// maxUploadSize bounds uploaded logos.
const maxUploadSize = 10 << 20

// ObjectStore stores files and returns their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// UploadImage stores a source image: POST /api/upload-images (multipart).
func UploadImage(objects ObjectStore, log *zap.Logger) http.HandlerFunc {
	fail := func(w http.ResponseWriter, status int, msg string) {
		writeJSON(w, status, map[string]any{"success": false, "error": msg})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			fail(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			fail(w, http.StatusBadRequest, "No file provided")
			return
		}
		defer file.Close()

		if header.Size > maxUploadSize {
			fail(w, http.StatusBadRequest, "File too large")
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
		if err != nil {
			fail(w, http.StatusInternalServerError, "Failed to read file")
			return
		}
		if len(data) > maxUploadSize {
			fail(w, http.StatusBadRequest, "File too large")
			return
		}

		imageType := strings.TrimSpace(r.FormValue("imageType"))
		if imageType == "" {
			imageType = "image"
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}

		key := storage.LogoKey(user.ID, imageType, header.Filename, time.Now())
		url, err := objects.Put(r.Context(), key, contentType, data)
		if err != nil {
			log.Error("upload image", zap.String("user_id", user.ID), zap.String("key", key), zap.Error(err))
			fail(w, http.StatusInternalServerError, "Failed to upload image")
			return
		}

		log.Info("image uploaded",
			zap.String("user_id", user.ID),
			zap.String("key", key),
			zap.Int("bytes", len(data)),
			zap.Bool("has_prompt", r.FormValue("promptText") != ""),
		)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "imageUrl": url})
	}
}
