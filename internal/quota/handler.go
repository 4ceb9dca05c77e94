package quota

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/chatbot/internal/api"
)

// RateLimitRequest is the body of POST /quota/rate-limit.
type RateLimitRequest struct {
	Seconds int `json:"seconds" validate:"required,min=1,max=86400"`
}

// Handler provides HTTP handlers for the admin quota endpoints.
type Handler struct {
	mgr      *Manager
	validate *validator.Validate
}

// NewHandler creates a new quota Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{
		mgr:      mgr,
		validate: validator.New(),
	}
}

// GetGlobal returns the global counters and rate-limit state.
func (h *Handler) GetGlobal(w http.ResponseWriter, r *http.Request) {
	status, err := h.mgr.GlobalStatus(r.Context())
	if err != nil {
		slog.Error("quota: getting global status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, status)
}

// GetUser returns the user's current window.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user id is required"))
		return
	}

	status, err := h.mgr.UserStatus(r.Context(), userID)
	if err != nil {
		slog.Error("quota: getting user status", "error", err, "user", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, status)
}

// ResetUser deletes the user's window so the next request starts fresh.
func (h *Handler) ResetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user id is required"))
		return
	}

	if err := h.mgr.ResetUser(r.Context(), userID); err != nil {
		slog.Error("quota: resetting user", "error", err, "user", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("quota: user usage reset by admin", "user", userID)
	api.JSONMessage(w, http.StatusOK, "usage reset")
}

// SetRateLimit starts a manual rate-limit window.
func (h *Handler) SetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError("seconds must be between 1 and 86400"))
		return
	}

	h.mgr.SetRateLimit(time.Duration(req.Seconds) * time.Second)
	api.JSON(w, http.StatusOK, map[string]any{
		"rate_limited_until": h.mgr.RateLimitedUntil(),
	})
}
