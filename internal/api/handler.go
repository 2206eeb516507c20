package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/episodic"
	"github.com/nidhogg/mnemosyne/internal/memory"
)

// MemoryController is the slice of the controller the HTTP surface uses.
type MemoryController interface {
	Ingest(ctx context.Context, sessionID string, turn memory.Turn) (memory.IngestResult, error)
	Retrieve(ctx context.Context, query memory.RetrievalQuery) (*memory.RetrievalResult, error)
	Characters(ctx context.Context) ([]memory.Character, error)
	EmotionalHistory(ctx context.Context, characterID string, limit int) ([]episodic.EmotionSnapshot, error)
	FactVersions(ctx context.Context, factID string) (*memory.Fact, error)
	Operations(ctx context.Context, sessionID string, limit int) ([]memory.Operation, error)
	Prune(ctx context.Context) (map[string]any, error)
	Statistics(ctx context.Context) (map[string]any, error)
	Inspect(ctx context.Context, sessionID string) (map[string]any, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ctrl   MemoryController
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(ctrl MemoryController, logger *zap.Logger) *Handler {
	return &Handler{ctrl: ctrl, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/sessions/{sessionID}/turns", h.ingestTurn)
			r.Get("/sessions/{sessionID}/inspect", h.inspectSession)
			r.Get("/sessions/{sessionID}/operations", h.sessionOperations)
			r.Post("/retrieve", h.retrieve)
			r.Get("/characters", h.listCharacters)
			r.Get("/characters/{id}/emotions", h.characterEmotions)
			r.Get("/facts/{id}", h.factVersions)
			r.Post("/prune", h.prune)
			r.Get("/stats", h.stats)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mnemosyne"})
}

type ingestRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) ingestTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	role := memory.Role(req.Role)
	switch role {
	case memory.RoleUser, memory.RoleAssistant, memory.RoleSystem:
	case "":
		role = memory.RoleUser
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown role: " + req.Role})
		return
	}

	result, err := h.ctrl.Ingest(r.Context(), sessionID, memory.Turn{Role: role, Content: req.Content})
	if err != nil {
		h.logger.Error("ingest failed", zap.Error(err), zap.String("session_id", sessionID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	var query memory.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(query.QueryText) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query_text is required"})
		return
	}

	result, err := h.ctrl.Retrieve(r.Context(), query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrInvalidWeights) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := h.ctrl.Characters(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if characters == nil {
		characters = []memory.Character{}
	}
	writeJSON(w, http.StatusOK, characters)
}

func (h *Handler) characterEmotions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 50)

	history, err := h.ctrl.EmotionalHistory(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if history == nil {
		history = []episodic.EmotionSnapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) factVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fact, err := h.ctrl.FactVersions(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if fact == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "fact not found"})
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

func (h *Handler) sessionOperations(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := queryInt(r, "limit", 50)

	ops, err := h.ctrl.Operations(r.Context(), sessionID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if ops == nil {
		ops = []memory.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) prune(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ctrl.Prune(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ctrl.Statistics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) inspectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	out, err := h.ctrl.Inspect(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
