package workflow

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/events"
	"github.com/openwelfare/caseflow/internal/shared/metrics"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Handler provides HTTP handlers for the workflow stage registry and
// its role/user bindings
type Handler struct {
	repo Repository
	bus  events.EventBus
}

// NewHandler creates a new workflow handler
func NewHandler(repo Repository, bus events.EventBus) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the workflow routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListStages)
	r.Post("/", h.CreateStage)
	r.Put("/reorder", h.ReorderStages)
	r.Get("/by-case-type", h.ListStagesGrouped)

	r.Get("/available/roles", h.AvailableRoles)
	r.Get("/available/users", h.AvailableUsers)

	r.Route("/{stageID}", func(r chi.Router) {
		r.Get("/", h.GetStage)
		r.Put("/", h.UpdateStage)
		r.Delete("/", h.DeleteStage)
		r.Put("/restore", h.RestoreStage)

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", h.ListRoleBindings)
			r.Post("/", h.AddRoleBinding)
			r.Put("/{roleID}", h.UpdateRoleBinding)
			r.Delete("/{roleID}", h.RemoveRoleBinding)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUserBindings)
			r.Post("/", h.AddUserBinding)
			r.Put("/{userID}", h.UpdateUserBinding)
			r.Delete("/{userID}", h.RemoveUserBinding)
		})
	})

	return r
}

func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	caseTypeID, err := types.ParseID(r.URL.Query().Get("case_type_id"))
	if err != nil {
		writeError(w, errors.BadRequest("case_type_id is required"))
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	stages, err := h.repo.ListStagesByCaseType(r.Context(), caseTypeID, includeDeleted)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  stages,
		"total": len(stages),
	})
}

// ListStagesGrouped returns the whole registry keyed by case type, the
// shape the stage configuration screen renders from.
func (h *Handler) ListStagesGrouped(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	stages, err := h.repo.ListAllStages(r.Context(), includeDeleted)
	if err != nil {
		writeError(w, err)
		return
	}

	grouped := make(map[types.ID][]Stage)
	for _, stage := range stages {
		grouped[stage.CaseTypeID] = append(grouped[stage.CaseTypeID], stage)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  grouped,
		"total": len(stages),
	})
}

func (h *Handler) GetStage(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	stage, err := h.repo.GetStage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stage)
}

type CreateStageRequest struct {
	CaseTypeID types.ID `json:"case_type_id"`
	StageAttrs
}

func (h *Handler) CreateStage(w http.ResponseWriter, r *http.Request) {
	var req CreateStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	stage, err := NewStage(req.CaseTypeID, req.StageAttrs)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.CreateStage(r.Context(), stage); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.created", stage)
	writeJSON(w, http.StatusCreated, stage)
}

func (h *Handler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	stage, err := h.repo.GetStage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if _, ok := raw["case_type_id"]; ok {
		writeError(w, errors.Validation("a stage cannot move to another case type", nil))
		return
	}

	body, err := json.Marshal(raw)
	if err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	var attrs StageAttrs
	if err := json.Unmarshal(body, &attrs); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	// Re-run creation validation against the merged attributes. Sort
	// order is managed by the reorder endpoint, never here.
	attrs.SortOrder = nil
	if attrs.StageName == "" {
		attrs.StageName = stage.StageName
	}
	if attrs.StageKey == "" {
		attrs.StageKey = stage.StageKey
	}
	validated, err := NewStage(stage.CaseTypeID, attrs)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	stage.StageName = validated.StageName
	stage.StageKey = validated.StageKey
	stage.Description = validated.Description
	stage.SLAValue = validated.SLAValue
	stage.SLAUnit = validated.SLAUnit
	stage.SLAWarningValue = validated.SLAWarningValue
	stage.SLAWarningUnit = validated.SLAWarningUnit

	if err := h.repo.UpdateStage(r.Context(), stage); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.updated", stage)
	writeJSON(w, http.StatusOK, stage)
}

func (h *Handler) DeleteStage(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	if err := h.repo.SetStageActive(r.Context(), id, false); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.deleted", map[string]any{"stage_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreStage(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	if err := h.repo.SetStageActive(r.Context(), id, true); err != nil {
		writeError(w, err)
		return
	}

	stage, err := h.repo.GetStage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.restored", stage)
	writeJSON(w, http.StatusOK, stage)
}

type ReorderRequest struct {
	CaseTypeID types.ID   `json:"case_type_id"`
	StageIDs   []types.ID `json:"stage_ids"`
}

func (h *Handler) ReorderStages(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.CaseTypeID.IsZero() {
		writeError(w, errors.BadRequest("case_type_id is required"))
		return
	}

	if err := h.repo.ReorderStages(r.Context(), req.CaseTypeID, req.StageIDs); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordStageReorder()
	h.publish(r, "workflow.stages.reordered", req)

	stages, err := h.repo.ListStagesByCaseType(r.Context(), req.CaseTypeID, false)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  stages,
		"total": len(stages),
	})
}

// --- Role bindings ---

func (h *Handler) ListRoleBindings(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	bindings, err := h.repo.ListRoleBindings(r.Context(), stageID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  bindings,
		"total": len(bindings),
	})
}

type AddRoleBindingRequest struct {
	RoleID types.ID   `json:"role_id"`
	Flags  *RoleFlags `json:"flags,omitempty"`
}

func (h *Handler) AddRoleBinding(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	var req AddRoleBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.RoleID.IsZero() {
		writeError(w, errors.BadRequest("role_id is required"))
		return
	}

	flags := DefaultRoleFlags()
	if req.Flags != nil {
		flags = *req.Flags
	}

	binding := &RoleBinding{StageID: stageID, RoleID: req.RoleID, RoleFlags: flags}
	if err := h.repo.AddRoleBinding(r.Context(), binding); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.repo.GetRoleBinding(r.Context(), stageID, req.RoleID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.role_bound", created)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateRoleBinding(w http.ResponseWriter, r *http.Request) {
	stageID, roleID, ok := h.bindingIDs(w, r, "roleID")
	if !ok {
		return
	}

	var flags RoleFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.repo.UpdateRoleBinding(r.Context(), stageID, roleID, flags); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.repo.GetRoleBinding(r.Context(), stageID, roleID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.role_binding_updated", updated)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) RemoveRoleBinding(w http.ResponseWriter, r *http.Request) {
	stageID, roleID, ok := h.bindingIDs(w, r, "roleID")
	if !ok {
		return
	}

	if err := h.repo.RemoveRoleBinding(r.Context(), stageID, roleID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.role_unbound", map[string]any{
		"stage_id": stageID,
		"role_id":  roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- User bindings ---

func (h *Handler) ListUserBindings(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	bindings, err := h.repo.ListUserBindings(r.Context(), stageID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  bindings,
		"total": len(bindings),
	})
}

type AddUserBindingRequest struct {
	UserID types.ID   `json:"user_id"`
	Flags  *UserFlags `json:"flags,omitempty"`
}

func (h *Handler) AddUserBinding(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return
	}

	var req AddUserBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.UserID.IsZero() {
		writeError(w, errors.BadRequest("user_id is required"))
		return
	}

	flags := UserFlags{CanView: true}
	if req.Flags != nil {
		flags = *req.Flags
	}

	binding := &UserBinding{StageID: stageID, UserID: req.UserID, UserFlags: flags}
	if err := h.repo.AddUserBinding(r.Context(), binding); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.repo.GetUserBinding(r.Context(), stageID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.user_bound", created)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateUserBinding(w http.ResponseWriter, r *http.Request) {
	stageID, userID, ok := h.bindingIDs(w, r, "userID")
	if !ok {
		return
	}

	var flags UserFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.repo.UpdateUserBinding(r.Context(), stageID, userID, flags); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.repo.GetUserBinding(r.Context(), stageID, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.user_binding_updated", updated)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) RemoveUserBinding(w http.ResponseWriter, r *http.Request) {
	stageID, userID, ok := h.bindingIDs(w, r, "userID")
	if !ok {
		return
	}

	if err := h.repo.RemoveUserBinding(r.Context(), stageID, userID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "workflow.stage.user_unbound", map[string]any{
		"stage_id": stageID,
		"user_id":  userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- Selectors ---

func (h *Handler) AvailableRoles(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(r.URL.Query().Get("stage_id"))
	if err != nil {
		writeError(w, errors.BadRequest("stage_id is required"))
		return
	}

	refs, err := h.repo.AvailableRoles(r.Context(), stageID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  refs,
		"total": len(refs),
	})
}

func (h *Handler) AvailableUsers(w http.ResponseWriter, r *http.Request) {
	stageID, err := types.ParseID(r.URL.Query().Get("stage_id"))
	if err != nil {
		writeError(w, errors.BadRequest("stage_id is required"))
		return
	}

	refs, err := h.repo.AvailableUsers(r.Context(), stageID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  refs,
		"total": len(refs),
	})
}

func (h *Handler) bindingIDs(w http.ResponseWriter, r *http.Request, param string) (types.ID, types.ID, bool) {
	stageID, err := types.ParseID(chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid stage ID"))
		return types.ID(""), types.ID(""), false
	}
	other, err := types.ParseID(chi.URLParam(r, param))
	if err != nil {
		writeError(w, errors.BadRequest("invalid "+param))
		return types.ID(""), types.ID(""), false
	}
	return stageID, other, true
}

func (h *Handler) publish(r *http.Request, eventType string, data any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "workflow", data)
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
