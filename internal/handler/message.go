package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"tsubuyaki/internal/metrics"
	"tsubuyaki/internal/model"
	"tsubuyaki/internal/repository"
)

// maxBodyBytes はリクエストボディの上限 (1MB)
const maxBodyBytes = 1 << 20

// anonymousName is stored when a message arrives without a username
const anonymousName = "anonymous"

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// decodeMessage reads a JSON message body. The returned string is the
// client-facing error, empty on success.
func decodeMessage(w http.ResponseWriter, r *http.Request) (model.Message, string) {
	if r.Body == nil || r.ContentLength == 0 {
		return model.Message{}, "body is missing"
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		return model.Message{}, "Invalid request body"
	}

	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Body == "" {
		return model.Message{}, "body is required"
	}
	if strings.TrimSpace(msg.Username) == "" {
		msg.Username = anonymousName
	}
	return msg, ""
}

// Post stores a new message and notifies websocket clients
func (h *Handler) Post(ctx context.Context, msg model.Message) (model.Message, error) {
	// サーバー側で管理するフィールド
	msg.ID = 0
	msg.CreatedAt = time.Now().UTC()
	msg.DeletedAt = nil

	inserted, err := h.Repo.Insert(ctx, msg)
	if err != nil {
		return model.Message{}, err
	}

	metrics.MessagesChanged.WithLabelValues("create").Inc()
	h.publish(model.Event{Type: model.EventMessageCreated, ID: inserted.ID, Message: &inserted, At: inserted.CreatedAt})
	return inserted, nil
}

// CreateMessage handles POST /api/messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msgf("[POST /api/messages] Request received from %s", r.RemoteAddr)

	msg, problem := decodeMessage(w, r)
	if problem != "" {
		log.Info().Msgf("[POST /api/messages] ❌ Bad Request: %s", problem)
		respondError(w, http.StatusBadRequest, problem)
		return
	}

	inserted, err := h.Post(r.Context(), msg)
	if err != nil {
		log.Error().Err(err).Msg("[POST /api/messages] ❌ Database error")
		respondError(w, http.StatusInternalServerError, "Failed to create message")
		return
	}

	log.Info().Msgf("[POST /api/messages] ✅ Created message: ID=%d, Body=%q", inserted.ID, inserted.Body)

	// bot対応
	select {
	case h.Stream <- inserted:
	default:
		log.Warn().Int64("id", inserted.ID).Msg("[bot] stream full, message not delivered to bots")
	}

	respond(w, http.StatusCreated, inserted)
}

// GetMessages handles GET /api/messages
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Repo.All(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("[GET /api/messages] ❌ Database error")
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	log.Debug().Msgf("[GET /api/messages] ✅ Returned %d messages", len(msgs))
	respond(w, http.StatusOK, msgs)
}

// GetMessage handles GET /api/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	msg, err := h.Repo.ByID(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "Message not found")
		return
	case err != nil:
		log.Error().Err(err).Msgf("[GET /api/messages/%d] ❌ Database error", id)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	respond(w, http.StatusOK, msg)
}

// UpdateMessage handles PUT /api/messages/{id}
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		log.Info().Msgf("[PUT /api/messages/%s] ❌ Bad Request: invalid id", mux.Vars(r)["id"])
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	msg, problem := decodeMessage(w, r)
	if problem != "" {
		log.Info().Msgf("[PUT /api/messages/%d] ❌ Bad Request: %s", id, problem)
		respondError(w, http.StatusBadRequest, problem)
		return
	}
	// パスの id が優先
	msg.ID = id

	updated, err := h.Repo.Update(r.Context(), msg)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Info().Msgf("[PUT /api/messages/%d] ❌ Not Found", id)
		respondError(w, http.StatusNotFound, "Message not found")
		return
	case err != nil:
		log.Error().Err(err).Msgf("[PUT /api/messages/%d] ❌ Database error", id)
		respondError(w, http.StatusInternalServerError, "Failed to update message")
		return
	}

	log.Info().Msgf("[PUT /api/messages/%d] ✅ Updated successfully", id)
	metrics.MessagesChanged.WithLabelValues("update").Inc()
	h.publish(model.Event{Type: model.EventMessageUpdated, ID: id, Message: &updated, At: time.Now().UTC()})

	respond(w, http.StatusOK, updated)
}

// DeleteMessage handles DELETE /api/messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		log.Info().Msgf("[DELETE /api/messages/%s] ❌ Bad Request: invalid id", mux.Vars(r)["id"])
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	err = h.Repo.Delete(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Info().Msgf("[DELETE /api/messages/%d] ❌ Not Found", id)
		respondError(w, http.StatusNotFound, "Message not found")
		return
	case err != nil:
		log.Error().Err(err).Msgf("[DELETE /api/messages/%d] ❌ Database error", id)
		respondError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	log.Info().Msgf("[DELETE /api/messages/%d] ✅ Deleted successfully", id)
	metrics.MessagesChanged.WithLabelValues("delete").Inc()

	// WebSocket経由で他のクライアントに削除を通知
	h.publish(model.Event{Type: model.EventMessageDeleted, ID: id, At: time.Now().UTC()})

	respond(w, http.StatusOK, nil)
}
