package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxImageBytes は画像アップロードの上限 (10MB)
const maxImageBytes = 10 << 20

// UploadImage handles POST /image (multipart form, field "file").
// The file is stored under UploadDir with a random name and the
// uploaded file's extension.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Info().Err(err).Msg("[POST /image] ❌ Bad Request")
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.Config.UploadDir, 0o755); err != nil {
		log.Error().Err(err).Msg("[POST /image] ❌ upload dir")
		respondError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(h.Config.UploadDir, name))
	if err != nil {
		log.Error().Err(err).Msg("[POST /image] ❌ create file")
		respondError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}
	defer dst.Close()

	n, err := io.Copy(dst, file)
	if err != nil {
		log.Error().Err(err).Msg("[POST /image] ❌ write file")
		respondError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	log.Info().Msgf("[POST /image] ✅ Stored %s (%d bytes)", name, n)
	respond(w, http.StatusCreated, map[string]string{"name": name})
}
