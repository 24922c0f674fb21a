package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openwelfare/caseflow/internal/case/domain"
	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/events"
	"github.com/openwelfare/caseflow/internal/shared/metrics"
	"github.com/openwelfare/caseflow/internal/shared/types"
	"github.com/openwelfare/caseflow/internal/workflow"
)

// Handler provides HTTP handlers for case management
type Handler struct {
	repo      domain.Repository
	stages    workflow.Repository
	evaluator *workflow.Evaluator
	cfg       config.WorkflowConfig
	bus       events.EventBus
}

// NewHandler creates a new case handler
func NewHandler(repo domain.Repository, stages workflow.Repository, evaluator *workflow.Evaluator, cfg config.WorkflowConfig, bus events.EventBus) *Handler {
	return &Handler{repo: repo, stages: stages, evaluator: evaluator, cfg: cfg, bus: bus}
}

// Routes registers the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCases)
	r.Post("/", h.CreateCase)
	r.Get("/available-counselors", h.AvailableCounselors)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Put("/", h.UpdateCase)
		r.Delete("/", h.DeleteCase)
		r.Post("/approve", h.ApproveCase)
		r.Post("/reject", h.RejectCase)
	})

	return r
}

// CaseResponse pairs a case with the requesting user's effective
// permissions at its current stage
type CaseResponse struct {
	*domain.Case
	WorkflowPermissions workflow.Permissions `json:"workflow_permissions"`
}

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cases, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  cases,
		"total": len(cases),
	})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, actor, ok := h.loadCase(w, r)
	if !ok {
		return
	}

	perms, err := h.permissionsFor(r, actor, c)
	if err != nil {
		writeError(w, err)
		return
	}

	if !perms.CanView {
		writeError(w, errors.Forbidden("not permitted to view this case"))
		return
	}

	writeJSON(w, http.StatusOK, CaseResponse{Case: c, WorkflowPermissions: perms})
}

func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var attrs domain.Attrs
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if attrs.CaseTypeID.IsZero() {
		writeError(w, errors.BadRequest("case_type_id is required"))
		return
	}

	stages, err := h.stages.ListStagesByCaseType(r.Context(), attrs.CaseTypeID, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(stages) == 0 {
		metrics.RecordStageConfigError()
		writeError(w, errors.NotFound("workflow configuration", attrs.CaseTypeID.String()))
		return
	}
	initial := stages[0].StageKey

	caseCtx := workflow.CaseContext{
		CaseTypeID: attrs.CaseTypeID,
		JamiatID:   attrs.JamiatID,
		JamaatID:   attrs.JamaatID,
	}
	err = h.evaluator.Authorize(r.Context(), actor, caseCtx, initial, "create a case",
		func(p workflow.Permissions) bool { return p.CanCreateCase })
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := domain.NewCase(attrs, initial, actor.ID)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	c.CaseNumber, err = h.repo.NextCaseNumber(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.Create(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordCaseCreated(c.CaseTypeID.String())
	h.publish(r, "case.created", c)
	writeJSON(w, http.StatusCreated, c)
}

type UpdateCaseRequest struct {
	ApplicantName       *string    `json:"applicant_name,omitempty"`
	Description         *string    `json:"description,omitempty"`
	JamiatID            *types.ID  `json:"jamiat_id,omitempty"`
	JamaatID            *types.ID  `json:"jamaat_id,omitempty"`
	AssignedCounselorID **types.ID `json:"-"`
}

// UnmarshalJSON distinguishes "assigned_counselor_id absent" from
// "assigned_counselor_id: null" so a PUT can unassign explicitly.
func (req *UpdateCaseRequest) UnmarshalJSON(data []byte) error {
	type alias UpdateCaseRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*req = UpdateCaseRequest(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	field, present := raw["assigned_counselor_id"]
	if !present {
		return nil
	}

	var id *types.ID
	if err := json.Unmarshal(field, &id); err != nil {
		return err
	}
	req.AssignedCounselorID = &id
	return nil
}

func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	c, actor, ok := h.loadCase(w, r)
	if !ok {
		return
	}

	if c.IsClosed() {
		writeError(w, errors.Conflict("case is closed"))
		return
	}

	err := h.evaluator.Authorize(r.Context(), actor, caseContext(c), c.Status, "edit this case",
		func(p workflow.Permissions) bool { return p.CanEdit })
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.ApplicantName != nil {
		c.ApplicantName = *req.ApplicantName
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.JamiatID != nil {
		c.JamiatID = req.JamiatID
	}
	if req.JamaatID != nil {
		c.JamaatID = req.JamaatID
	}

	counselorChanged := false
	if req.AssignedCounselorID != nil {
		if err := c.AssignCounselor(*req.AssignedCounselorID); err != nil {
			writeError(w, errors.Conflict(err.Error()))
			return
		}
		counselorChanged = true
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	if counselorChanged && c.AssignedCounselorID != nil {
		metrics.RecordCounselorAssignment()
		h.publish(r, "case.counselor_assigned", c)
	}
	h.publish(r, "case.updated", c)
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	c, actor, ok := h.loadCase(w, r)
	if !ok {
		return
	}

	if !c.IsClosed() {
		err := h.evaluator.Authorize(r.Context(), actor, caseContext(c), c.Status, "delete this case",
			func(p workflow.Permissions) bool { return p.CanDelete })
		if err != nil {
			writeError(w, err)
			return
		}
	} else if actor.Role != h.cfg.SuperAdminRole {
		writeError(w, errors.Forbidden("closed cases can only be deleted by an administrator"))
		return
	}

	if err := h.repo.Delete(r.Context(), c.ID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "case.deleted", map[string]any{"case_id": c.ID, "case_number": c.CaseNumber})
	w.WriteHeader(http.StatusNoContent)
}

// ApproveCase moves the case one stage forward along the active stage
// order, closing it when approved at the final stage.
func (h *Handler) ApproveCase(w http.ResponseWriter, r *http.Request) {
	c, actor, ok := h.loadCase(w, r)
	if !ok {
		return
	}

	if c.IsClosed() {
		writeError(w, errors.Conflict("case is closed"))
		return
	}

	err := h.evaluator.Authorize(r.Context(), actor, caseContext(c), c.Status, "approve this case",
		func(p workflow.Permissions) bool { return p.CanApprove })
	if err != nil {
		writeError(w, err)
		return
	}

	stages, idx, err := h.locateStage(r, c)
	if err != nil {
		writeError(w, err)
		return
	}

	from := c.Status
	if idx == len(stages)-1 {
		if err := c.Close(); err != nil {
			writeError(w, errors.Conflict(err.Error()))
			return
		}
	} else {
		if err := c.Advance(stages[idx+1].StageKey); err != nil {
			writeError(w, errors.Conflict(err.Error()))
			return
		}
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordStageTransition(from, c.Status, "forward")
	if c.IsClosed() {
		h.publish(r, "case.closed", c)
	} else {
		h.publish(r, "case.approved", c)
	}
	writeJSON(w, http.StatusOK, c)
}

// RejectCase moves the case one stage backward. A case at the first
// stage has nowhere to go back to.
func (h *Handler) RejectCase(w http.ResponseWriter, r *http.Request) {
	c, actor, ok := h.loadCase(w, r)
	if !ok {
		return
	}

	if c.IsClosed() {
		writeError(w, errors.Conflict("case is closed"))
		return
	}

	err := h.evaluator.Authorize(r.Context(), actor, caseContext(c), c.Status, "reject this case",
		func(p workflow.Permissions) bool { return p.CanReject })
	if err != nil {
		writeError(w, err)
		return
	}

	stages, idx, err := h.locateStage(r, c)
	if err != nil {
		writeError(w, err)
		return
	}

	if idx == 0 {
		writeError(w, errors.Validation("case cannot be rejected at the first stage", nil))
		return
	}

	from := c.Status
	if err := c.Advance(stages[idx-1].StageKey); err != nil {
		writeError(w, errors.Conflict(err.Error()))
		return
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordStageTransition(from, c.Status, "backward")
	h.publish(r, "case.rejected", c)
	writeJSON(w, http.StatusOK, c)
}

// AvailableCounselors lists the counselors eligible for assignment to
// a case, scoped to the case's area. jamiat_id/jamaat_id query params
// override the stored area, which lets the assignment screen preview
// another area before saving.
func (h *Handler) AvailableCounselors(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	caseID, err := types.ParseID(r.URL.Query().Get("case_id"))
	if err != nil {
		writeError(w, errors.BadRequest("case_id is required"))
		return
	}

	c, err := h.repo.GetByID(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	perms, err := h.permissionsFor(r, actor, c)
	if err != nil {
		writeError(w, err)
		return
	}
	if !perms.CanView {
		writeError(w, errors.Forbidden("not permitted to view this case"))
		return
	}

	jamiatID, jamaatID := c.JamiatID, c.JamaatID
	if raw := r.URL.Query().Get("jamiat_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			writeError(w, errors.BadRequest("invalid jamiat_id"))
			return
		}
		jamiatID, jamaatID = &id, nil
	}
	if raw := r.URL.Query().Get("jamaat_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			writeError(w, errors.BadRequest("invalid jamaat_id"))
			return
		}
		jamaatID = &id
	}

	counselors, err := h.stages.AvailableCounselors(r.Context(), c.CaseTypeID, h.cfg.CounselorStageKey, jamiatID, jamaatID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  counselors,
		"total": len(counselors),
	})
}

// --- helpers ---

func (h *Handler) loadCase(w http.ResponseWriter, r *http.Request) (*domain.Case, workflow.Actor, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return nil, workflow.Actor{}, false
	}

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid case ID"))
		return nil, workflow.Actor{}, false
	}

	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, workflow.Actor{}, false
	}

	return c, actor, true
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return workflow.Actor{}, false
	}
	return workflow.Actor{ID: user.ID, Role: user.Role}, true
}

// permissionsFor resolves stage permissions; closed cases have no
// current stage, so they collapse to read-only.
func (h *Handler) permissionsFor(r *http.Request, actor workflow.Actor, c *domain.Case) (workflow.Permissions, error) {
	if c.IsClosed() {
		if actor.Role == h.cfg.SuperAdminRole {
			return workflow.AllPermissions(), nil
		}
		return workflow.Permissions{CanView: true}, nil
	}
	return h.evaluator.Evaluate(r.Context(), actor, caseContext(c), c.Status)
}

// locateStage finds the case's current stage within the active stage
// order of its case type.
func (h *Handler) locateStage(r *http.Request, c *domain.Case) ([]workflow.Stage, int, error) {
	stages, err := h.stages.ListStagesByCaseType(r.Context(), c.CaseTypeID, false)
	if err != nil {
		return nil, 0, err
	}

	for i, stage := range stages {
		if stage.StageKey == c.Status {
			return stages, i, nil
		}
	}

	metrics.RecordStageConfigError()
	return nil, 0, errors.NotFound("workflow stage configuration", c.Status)
}

func caseContext(c *domain.Case) workflow.CaseContext {
	return workflow.CaseContext{
		CaseTypeID:          c.CaseTypeID,
		Status:              c.Status,
		AssignedCounselorID: c.AssignedCounselorID,
		JamiatID:            c.JamiatID,
		JamaatID:            c.JamaatID,
	}
}

func parseFilter(r *http.Request) (domain.Filter, error) {
	var filter domain.Filter

	parseIDParam := func(name string) (*types.ID, error) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return nil, nil
		}
		id, err := types.ParseID(raw)
		if err != nil {
			return nil, errors.BadRequest("invalid " + name)
		}
		return &id, nil
	}

	var err error
	if filter.CaseTypeID, err = parseIDParam("case_type_id"); err != nil {
		return filter, err
	}
	if filter.CounselorID, err = parseIDParam("counselor_id"); err != nil {
		return filter, err
	}
	if filter.JamiatID, err = parseIDParam("jamiat_id"); err != nil {
		return filter, err
	}
	if filter.JamaatID, err = parseIDParam("jamaat_id"); err != nil {
		return filter, err
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = &status
	}

	return filter, nil
}

func (h *Handler) publish(r *http.Request, eventType string, data any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "case", data)
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
