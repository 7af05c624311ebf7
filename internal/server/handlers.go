package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/suggest"
	"github.com/MichaelGodsHand/suggestions/internal/tasks"
)

// TaskService is what the HTTP layer needs from the session manager.
type TaskService interface {
	Submit(ctx context.Context, task *automation.Task) (*automation.Result, error)
	HealthCheck() tasks.Health
	Ready() bool
}

type Handler struct {
	svc    TaskService
	logger *zap.Logger
}

func NewHandler(svc TaskService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type SuggestionRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SuggestionResponse struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
	Count       int      `json:"count"`
	Status      string   `json:"status"`
}

func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req SuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		h.respondError(w, http.StatusBadRequest, "query field is required and cannot be empty")
		return
	}

	task := suggest.BuildTask(query, req.Limit)
	res, err := h.svc.Submit(r.Context(), task)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}

	items := suggest.Suggestions(query, res)
	h.respondJSON(w, http.StatusOK, SuggestionResponse{
		Query:       query,
		Suggestions: items,
		Count:       len(items),
		Status:      "success",
	})
}

type SubmitTaskRequest struct {
	URL         string                  `json:"url,omitempty"`
	Actions     []automation.Action     `json:"actions"`
	Extract     *automation.ExtractSpec `json:"extract,omitempty"`
	TimeoutMS   int64                   `json:"timeout_ms,omitempty"`
	MaxRetries  int                     `json:"max_retries,omitempty"`
	Credentials *automation.Credentials `json:"credentials,omitempty"`
}

type SubmitTaskResponse struct {
	TaskID string             `json:"task_id"`
	Result *automation.Result `json:"result"`
}

func (h *Handler) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	if len(req.Actions) == 0 && req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "task must contain a url or at least one action")
		return
	}

	task := automation.NewTask(req.URL, req.Actions, req.Extract)
	task.MaxRetries = req.MaxRetries
	task.Credentials = req.Credentials
	if req.TimeoutMS > 0 {
		task.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	res, err := h.svc.Submit(r.Context(), task)
	if err != nil {
		h.respondTaskError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, SubmitTaskResponse{TaskID: task.ID.String(), Result: res})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.svc.HealthCheck()
	code := http.StatusOK
	if !h.svc.Ready() {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, health)
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"message": "Grokipedia Search Suggestions API",
		"endpoints": map[string]string{
			"/suggestions":  "POST - get search suggestions for a query",
			"/api/v1/tasks": "POST - run a browser automation task",
			"/health":       "GET - health check",
			"/metrics":      "GET - prometheus metrics",
		},
	})
}

// respondTaskError maps the automation error taxonomy onto HTTP statuses:
// capacity and lifecycle problems are 503 (retry later), task timeouts 504,
// action failures 422 (the caller's script is wrong).
func (h *Handler) respondTaskError(w http.ResponseWriter, err error) {
	var actionErr *automation.ActionError
	switch {
	case errors.Is(err, automation.ErrNotReady), errors.Is(err, automation.ErrPoolClosed):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, automation.ErrPoolExhausted):
		w.Header().Set("Retry-After", "5")
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, automation.ErrTimeout):
		h.respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &actionErr):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, automation.ErrCrashed):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("unclassified task error", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg string) {
	h.respondJSON(w, code, map[string]any{"error": msg, "status": "error"})
}
