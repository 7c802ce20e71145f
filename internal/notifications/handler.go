package notifications

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/issue-notifier/internal/pkg/httputil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrQueueItemNotFound, Status: http.StatusNotFound, Message: "notification not found"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	notifier  *Notifier
	store     Store
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(notifier *Notifier, store Store) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	return &Handler{
		notifier:  notifier,
		store:     store,
		validator: v,
	}
}

// jsonFieldName reports validation failures under the JSON field names clients send.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/events", h.PostEvent)
		r.Get("/", h.ListNotifications)
		r.Get("/stats", h.GetStats)
		r.Get("/{id}", h.GetNotification)
	})
}

// EventRequest is an issue mutation reported by the tracker. Either Activity
// or Issues must be set; with Issues, IssueID is the anchor of the group.
type EventRequest struct {
	IssueID   string            `json:"issue_id" validate:"required"`
	UserID    string            `json:"user_id"`
	EventType string            `json:"event_type" validate:"required,oneof=create update delete comment"`
	Activity  *Activity         `json:"activity" validate:"required_without=Issues"`
	Issues    []IssueActivities `json:"issues" validate:"omitempty,min=1,dive"`
}

// PostEvent handles POST /notifications/events.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	// An empty issues array passes required_without but carries nothing.
	if req.Activity == nil && len(req.Issues) == 0 {
		httputil.Error(w, http.StatusBadRequest, "activity or issues is required")
		return
	}

	eventType := EventType(req.EventType)
	if len(req.Issues) > 0 {
		h.notifier.NotifyGroup(r.Context(), req.IssueID, req.UserID, eventType, req.Issues)
	} else {
		h.notifier.Notify(r.Context(), req.IssueID, req.UserID, eventType, *req.Activity)
	}

	httputil.Success(w, http.StatusAccepted, map[string]bool{"accepted": h.notifier.Enabled()})
}

// ListNotifications handles GET /notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Limit: defaultListLimit}

	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = QueueStatus(s)
		if !filter.Status.Valid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 || limit > maxListLimit {
			httputil.Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	items, err := h.store.ListNotifications(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// GetNotification handles GET /notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.GetNotification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// GetStats handles GET /notifications/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetQueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}
