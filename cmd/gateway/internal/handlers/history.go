package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/db"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// EventLister reads the membership audit log
type EventLister interface {
	ListMembershipEvents(ctx context.Context, activity string, limit int) ([]db.MembershipEvent, error)
}

// ActivityLookup resolves an activity by name
type ActivityLookup interface {
	Get(name string) (registry.Activity, error)
}

// HistoryHandler serves the audit trail of an activity's roster changes.
type HistoryHandler struct {
	activities ActivityLookup
	events     EventLister
	logger     *zap.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(activities ActivityLookup, events EventLister, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		activities: activities,
		events:     events,
		logger:     logger,
	}
}

// GetHistory handles GET /activities/{name}/history?limit=
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.activities.Get(name); err != nil {
		if errors.Is(err, registry.ErrActivityNotFound) {
			h.sendError(w, "Activity not found", http.StatusNotFound)
			return
		}
		h.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.events.ListMembershipEvents(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("Failed to read membership history",
			zap.String("activity", name),
			zap.Error(err),
		)
		h.sendError(w, "Membership history unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"activity": name,
		"events":   events,
		"count":    len(events),
	})
}

// sendError sends an error response.
func (h *HistoryHandler) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"detail": message,
	})
}
