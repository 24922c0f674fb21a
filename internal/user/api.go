package user

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/events"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Handler provides HTTP handlers for user management
type Handler struct {
	repo *Repository
	bus  events.EventBus
}

// NewHandler creates a new user handler
func NewHandler(repo *Repository, bus events.EventBus) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the user routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListUsers)
	r.Post("/", h.CreateUser)

	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Put("/", h.UpdateUser)
		r.Delete("/", h.DeactivateUser)
		r.Put("/role", h.AssignRole)
	})

	return r
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	var roleID *types.ID
	if raw := r.URL.Query().Get("role_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			writeError(w, errors.BadRequest("invalid role_id"))
			return
		}
		roleID = &id
	}

	users, err := h.repo.List(r.Context(), roleID, includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": len(users),
	})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	user, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var attrs Attrs
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	user, err := New(attrs)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.Create(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "user.created", user)
	writeJSON(w, http.StatusCreated, user)
}

type UpdateUserRequest struct {
	FullName *string   `json:"full_name,omitempty"`
	Email    *string   `json:"email,omitempty"`
	JamiatID *types.ID `json:"jamiat_id,omitempty"`
	JamaatID *types.ID `json:"jamaat_id,omitempty"`
	IsActive *bool     `json:"is_active,omitempty"`
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	user, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.JamiatID != nil {
		user.JamiatID = req.JamiatID
	}
	if req.JamaatID != nil {
		user.JamaatID = req.JamaatID
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := h.repo.Update(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "user.updated", user)
	writeJSON(w, http.StatusOK, user)
}

type AssignRoleRequest struct {
	RoleID *types.ID `json:"role_id"`
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.repo.AssignRole(r.Context(), id, req.RoleID); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "user.role_assigned", user)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "user.deactivated", map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(r *http.Request, eventType string, data any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "user", data)
	if actor := auth.GetUser(r.Context()); actor != nil {
		event = event.WithActor(actor.ID, actor.Role)
	}

	h.bus.Publish(r.Context(), event)
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
