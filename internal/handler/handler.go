package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tsubuyaki/internal/config"
	"tsubuyaki/internal/model"
	"tsubuyaki/internal/repository"
)

// Handler holds application dependencies
type Handler struct {
	Repo      repository.Messages
	Config    config.Config
	Clients   map[*websocket.Conn]bool
	ClientMu  sync.RWMutex
	Broadcast chan model.Event
	// Stream receives every message created through the API (bots listen here)
	Stream chan model.Message

	limiter  *limiterPool
	upgrader websocket.Upgrader

	broadcastMu     sync.RWMutex
	broadcastClosed bool
}

// New creates a new Handler with the given dependencies
func New(repo repository.Messages, cfg config.Config) *Handler {
	return &Handler{
		Repo:      repo,
		Config:    cfg,
		Clients:   make(map[*websocket.Conn]bool),
		Broadcast: make(chan model.Event, 100),
		Stream:    make(chan model.Message, 100),
		limiter:   newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst),
		upgrader:  newUpgrader(cfg.AllowedOrigins),
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.Logging, h.Metrics)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	// REST API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", h.Ping).Methods("GET")
	api.HandleFunc("/messages", h.GetMessages).Methods("GET")
	api.HandleFunc("/messages/{id}", h.GetMessage).Methods("GET")
	api.Handle("/messages", h.RateLimit(http.HandlerFunc(h.CreateMessage))).Methods("POST")
	api.Handle("/messages/{id}", h.RateLimit(http.HandlerFunc(h.UpdateMessage))).Methods("PUT")
	api.Handle("/messages/{id}", h.RateLimit(http.HandlerFunc(h.DeleteMessage))).Methods("DELETE")

	// 画像アップロード
	r.Handle("/image", h.RateLimit(http.HandlerFunc(h.UploadImage))).Methods("POST")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Ping handles GET /api/ping
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// respond writes {"result": result, "error": null}
func respond(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": result,
		"error":  nil,
	})
}

// respondError writes {"error": {"message": msg}}
func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": model.ErrorBody{Message: msg},
	})
}
