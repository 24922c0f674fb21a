package role

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/events"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Handler provides HTTP handlers for role management
type Handler struct {
	repo *Repository
	bus  events.EventBus
}

// NewHandler creates a new role handler
func NewHandler(repo *Repository, bus events.EventBus) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the role routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRoles)
	r.Post("/", h.CreateRole)

	r.Route("/{roleID}", func(r chi.Router) {
		r.Get("/", h.GetRole)
		r.Put("/", h.UpdateRole)
		r.Delete("/", h.DeleteRole)
	})

	return r
}

type CreateRoleRequest struct {
	Name                 string                `json:"name"`
	DisplayName          string                `json:"display_name"`
	Description          string                `json:"description"`
	Permissions          PermissionSet         `json:"permissions"`
	CounselingFormStages []FormStagePermission `json:"counseling_form_stages"`
}

type UpdateRoleRequest struct {
	Name                 *string                `json:"name,omitempty"`
	DisplayName          *string                `json:"display_name,omitempty"`
	Description          *string                `json:"description,omitempty"`
	Permissions          *PermissionSet         `json:"permissions,omitempty"`
	CounselingFormStages *[]FormStagePermission `json:"counseling_form_stages,omitempty"`
	IsActive             *bool                  `json:"is_active,omitempty"`
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	roles, err := h.repo.List(r.Context(), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  roles,
		"total": len(roles),
	})
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "roleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid role ID"))
		return
	}

	role, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, role)
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	role, err := New(req.Name, req.DisplayName, req.Description, req.Permissions, req.CounselingFormStages)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.Create(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "role.created", role)
	writeJSON(w, http.StatusCreated, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "roleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid role ID"))
		return
	}

	role, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.DisplayName != nil {
		role.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Permissions != nil {
		role.Permissions = *req.Permissions
	}
	if req.CounselingFormStages != nil {
		role.CounselingFormStages = *req.CounselingFormStages
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	if err := h.repo.Update(r.Context(), role); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "role.updated", role)
	writeJSON(w, http.StatusOK, role)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "roleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid role ID"))
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "role.deleted", map[string]any{"role_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(r *http.Request, eventType string, data any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "role", data)
	if user := auth.GetUser(r.Context()); user != nil {
		event = event.WithActor(user.ID, user.Role)
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
