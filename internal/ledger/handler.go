package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aiox-platform/chatbot/internal/api"
	"github.com/aiox-platform/chatbot/internal/quota"
)

// Summarizer aggregates ledger entries.
type Summarizer interface {
	Summarize(ctx context.Context, userID string, since time.Time) (*Summary, error)
}

// Handler serves ledger summaries to the admin API.
type Handler struct {
	store Summarizer
	now   func() time.Time
}

// NewHandler creates a new ledger Handler.
func NewHandler(store Summarizer) *Handler {
	return &Handler{store: store, now: time.Now}
}

// GetUserSummary totals a user's recorded usage. The optional "since" query
// parameter is RFC 3339; it defaults to the start of the current month.
func (h *Handler) GetUserSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user id is required"))
		return
	}

	since := monthStart(h.now())
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}

	summary, err := h.store.Summarize(r.Context(), userID, since)
	if err != nil {
		slog.Error("ledger: summarizing usage", "error", err, "user", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, summary)
}

// monthStart is the first instant of t's month, matching the global quota
// period.
func monthStart(t time.Time) time.Time {
	return quota.NextMonthStart(t).AddDate(0, -1, 0)
}
