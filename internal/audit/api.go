package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Handler provides HTTP handlers for the audit log
type Handler struct {
	repo *KurrentDBRepository
}

// NewHandler creates a new audit handler
func NewHandler(repo *KurrentDBRepository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)

	return r
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
	})
}

func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	limit := 1000
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, errors.BadRequest("invalid limit"))
			return
		}
		limit = parsed
	}

	result, err := h.repo.VerifyChain(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseFilter(r *http.Request) (Filter, error) {
	var filter Filter
	q := r.URL.Query()

	if raw := q.Get("actor_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			return filter, errors.BadRequest("invalid actor_id")
		}
		filter.ActorID = &id
	}
	filter.Action = q.Get("action")
	filter.ResourceType = q.Get("resource_type")

	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.BadRequest("invalid start_time")
		}
		filter.StartTime = &t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.BadRequest("invalid end_time")
		}
		filter.EndTime = &t
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.BadRequest("invalid limit")
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.BadRequest("invalid offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
