package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
)

// ActivityHandler handles activity listing and membership requests.
type ActivityHandler struct {
	store  registry.Store
	logger *zap.Logger
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(store registry.Store, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		store:  store,
		logger: logger,
	}
}

// ListActivities handles GET /activities
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.List())
}

// Signup handles POST /activities/{name}/signup?email=
func (h *ActivityHandler) Signup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email, ok := h.requireEmail(w, r)
	if !ok {
		return
	}

	message, err := h.store.Signup(name, email)
	metrics.RecordSignup(name, resultOf(err))
	if err != nil {
		h.sendMembershipError(w, err)
		return
	}

	h.logger.Info("Participant signed up",
		zap.String("activity", name),
		zap.String("email", email),
	)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// Unregister handles DELETE /activities/{name}/unregister?email=
func (h *ActivityHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email, ok := h.requireEmail(w, r)
	if !ok {
		return
	}

	message, err := h.store.Unregister(name, email)
	metrics.RecordUnregister(name, resultOf(err))
	if err != nil {
		h.sendMembershipError(w, err)
		return
	}

	h.logger.Info("Participant unregistered",
		zap.String("activity", name),
		zap.String("email", email),
	)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// requireEmail reads the email query parameter. Only an absent parameter is
// rejected; an empty value is passed through as-is.
func (h *ActivityHandler) requireEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query()
	if !q.Has("email") {
		h.sendError(w, "email query parameter is required", http.StatusUnprocessableEntity)
		return "", false
	}
	return q.Get("email"), true
}

func (h *ActivityHandler) sendMembershipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrActivityNotFound):
		h.sendError(w, "Activity not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrAlreadySignedUp):
		h.sendError(w, "Student is already signed up", http.StatusBadRequest)
	case errors.Is(err, registry.ErrNotSignedUp):
		h.sendError(w, "Student is not signed up for this activity", http.StatusBadRequest)
	default:
		h.logger.Error("Unexpected membership error", zap.Error(err))
		h.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case registry.IsNotFound(err):
		return metrics.ResultNotFound
	default:
		return metrics.ResultInvalidState
	}
}

func (h *ActivityHandler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// sendError sends an error response.
func (h *ActivityHandler) sendError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, map[string]string{"detail": message})
}
