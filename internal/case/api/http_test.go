package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/case/domain"
	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
	"github.com/openwelfare/caseflow/internal/workflow"
)

// --- fakes ---

type fakeCaseRepo struct {
	cases map[types.ID]*domain.Case
	seq   int
}

func newFakeCaseRepo() *fakeCaseRepo {
	return &fakeCaseRepo{cases: map[types.ID]*domain.Case{}}
}

func (f *fakeCaseRepo) Create(_ context.Context, c *domain.Case) error {
	copied := *c
	f.cases[c.ID] = &copied
	return nil
}

func (f *fakeCaseRepo) GetByID(_ context.Context, id types.ID) (*domain.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCaseRepo) List(_ context.Context, _ domain.Filter) ([]domain.Case, error) {
	var out []domain.Case
	for _, c := range f.cases {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeCaseRepo) Update(_ context.Context, c *domain.Case) error {
	if _, ok := f.cases[c.ID]; !ok {
		return errors.NotFound("case", c.ID.String())
	}
	copied := *c
	f.cases[c.ID] = &copied
	return nil
}

func (f *fakeCaseRepo) Delete(_ context.Context, id types.ID) error {
	if _, ok := f.cases[id]; !ok {
		return errors.NotFound("case", id.String())
	}
	delete(f.cases, id)
	return nil
}

func (f *fakeCaseRepo) NextCaseNumber(_ context.Context) (string, error) {
	f.seq++
	return fmt.Sprintf("WLF-TEST-%06d", f.seq), nil
}

// fakeWorkflowRepo serves the stage registry and binding reads the case
// handler needs. Write operations are never exercised here.
type fakeWorkflowRepo struct {
	caseTypeID   types.ID
	stages       []workflow.Stage
	roleBindings map[types.ID]map[string]*workflow.RoleBinding
	counselors   []workflow.UserRef
}

var _ workflow.Repository = (*fakeWorkflowRepo)(nil)

func newFakeWorkflowRepo(caseTypeID types.ID, stageKeys ...string) *fakeWorkflowRepo {
	f := &fakeWorkflowRepo{
		caseTypeID:   caseTypeID,
		roleBindings: map[types.ID]map[string]*workflow.RoleBinding{},
	}
	for i, key := range stageKeys {
		f.stages = append(f.stages, workflow.Stage{
			ID:         types.NewID(),
			CaseTypeID: caseTypeID,
			StageKey:   key,
			StageName:  key,
			SortOrder:  i,
			IsActive:   true,
		})
	}
	return f
}

func (f *fakeWorkflowRepo) bindRole(stageKey, roleName string, flags workflow.RoleFlags) {
	stage, _ := f.FindStageByKey(context.Background(), f.caseTypeID, stageKey)
	if f.roleBindings[stage.ID] == nil {
		f.roleBindings[stage.ID] = map[string]*workflow.RoleBinding{}
	}
	f.roleBindings[stage.ID][roleName] = &workflow.RoleBinding{
		StageID: stage.ID, RoleFlags: flags, RoleName: roleName,
	}
}

func (f *fakeWorkflowRepo) ListStagesByCaseType(_ context.Context, caseTypeID types.ID, _ bool) ([]workflow.Stage, error) {
	if caseTypeID != f.caseTypeID {
		return nil, nil
	}
	return f.stages, nil
}

func (f *fakeWorkflowRepo) ListAllStages(_ context.Context, _ bool) ([]workflow.Stage, error) {
	return f.stages, nil
}

func (f *fakeWorkflowRepo) GetStage(_ context.Context, id types.ID) (*workflow.Stage, error) {
	for i := range f.stages {
		if f.stages[i].ID == id {
			return &f.stages[i], nil
		}
	}
	return nil, errors.NotFound("stage", id.String())
}

func (f *fakeWorkflowRepo) FindStageByKey(_ context.Context, caseTypeID types.ID, stageKey string) (*workflow.Stage, error) {
	for i := range f.stages {
		if f.stages[i].CaseTypeID == caseTypeID && f.stages[i].StageKey == stageKey {
			return &f.stages[i], nil
		}
	}
	return nil, errors.NotFound("stage", stageKey)
}

func (f *fakeWorkflowRepo) CreateStage(context.Context, *workflow.Stage) error { return nil }
func (f *fakeWorkflowRepo) UpdateStage(context.Context, *workflow.Stage) error { return nil }
func (f *fakeWorkflowRepo) SetStageActive(context.Context, types.ID, bool) error {
	return nil
}
func (f *fakeWorkflowRepo) ReorderStages(context.Context, types.ID, []types.ID) error {
	return nil
}

func (f *fakeWorkflowRepo) ListRoleBindings(context.Context, types.ID) ([]workflow.RoleBinding, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) GetRoleBinding(_ context.Context, stageID, roleID types.ID) (*workflow.RoleBinding, error) {
	return nil, errors.NotFound("role binding", roleID.String())
}

func (f *fakeWorkflowRepo) GetRoleBindingForRole(_ context.Context, stageID types.ID, roleName string) (*workflow.RoleBinding, error) {
	if b, ok := f.roleBindings[stageID][roleName]; ok {
		return b, nil
	}
	return nil, errors.NotFound("role binding", roleName)
}

func (f *fakeWorkflowRepo) AddRoleBinding(context.Context, *workflow.RoleBinding) error { return nil }
func (f *fakeWorkflowRepo) UpdateRoleBinding(context.Context, types.ID, types.ID, workflow.RoleFlags) error {
	return nil
}
func (f *fakeWorkflowRepo) RemoveRoleBinding(context.Context, types.ID, types.ID) error { return nil }

func (f *fakeWorkflowRepo) ListUserBindings(context.Context, types.ID) ([]workflow.UserBinding, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) GetUserBinding(_ context.Context, _, userID types.ID) (*workflow.UserBinding, error) {
	return nil, errors.NotFound("user binding", userID.String())
}

func (f *fakeWorkflowRepo) AddUserBinding(context.Context, *workflow.UserBinding) error { return nil }
func (f *fakeWorkflowRepo) UpdateUserBinding(context.Context, types.ID, types.ID, workflow.UserFlags) error {
	return nil
}
func (f *fakeWorkflowRepo) RemoveUserBinding(context.Context, types.ID, types.ID) error { return nil }

func (f *fakeWorkflowRepo) AvailableRoles(context.Context, types.ID) ([]workflow.RoleRef, error) {
	return nil, nil
}
func (f *fakeWorkflowRepo) AvailableUsers(context.Context, types.ID) ([]workflow.UserRef, error) {
	return nil, nil
}
func (f *fakeWorkflowRepo) AvailableCounselors(context.Context, types.ID, string, *types.ID, *types.ID) ([]workflow.UserRef, error) {
	return f.counselors, nil
}

// --- harness ---

type fixture struct {
	handler    *Handler
	caseRepo   *fakeCaseRepo
	flows      *fakeWorkflowRepo
	caseTypeID types.ID
}

func newFixture(t *testing.T, stageKeys ...string) *fixture {
	t.Helper()

	caseTypeID := types.NewID()
	flows := newFakeWorkflowRepo(caseTypeID, stageKeys...)
	caseRepo := newFakeCaseRepo()

	cfg := config.WorkflowConfig{
		SuperAdminRole:    "super_admin",
		CounselorStageKey: "counselor",
		CounselorRoles:    []string{"counselor"},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	evaluator := workflow.NewEvaluator(flows, cfg, logger)

	return &fixture{
		handler:    NewHandler(caseRepo, flows, evaluator, cfg, nil),
		caseRepo:   caseRepo,
		flows:      flows,
		caseTypeID: caseTypeID,
	}
}

func (fx *fixture) request(t *testing.T, actor *auth.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req = req.WithContext(auth.WithUser(req.Context(), actor))
	}

	rec := httptest.NewRecorder()
	fx.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) seedCase(t *testing.T, status string) *domain.Case {
	t.Helper()

	c, err := domain.NewCase(domain.Attrs{
		CaseTypeID:    fx.caseTypeID,
		ApplicantName: "Emir Kovac",
	}, status, types.NewID())
	require.NoError(t, err)
	c.CaseNumber = "WLF-TEST-000001"
	require.NoError(t, fx.caseRepo.Create(context.Background(), c))
	return c
}

func decodeCase(t *testing.T, rec *httptest.ResponseRecorder) domain.Case {
	t.Helper()
	var c domain.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

// --- tests ---

func TestCreateCase(t *testing.T) {
	fx := newFixture(t, "intake", "counselor", "final_approval")
	fx.flows.bindRole("intake", "clerk", workflow.RoleFlags{CanView: true, CanCreateCase: true})

	clerk := &auth.User{ID: types.NewID(), Role: "clerk"}
	body := map[string]any{"case_type_id": fx.caseTypeID, "applicant_name": "Emir Kovac"}

	t.Run("permitted role creates at first stage", func(t *testing.T) {
		rec := fx.request(t, clerk, http.MethodPost, "/", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		c := decodeCase(t, rec)
		assert.Equal(t, "intake", c.Status)
		assert.NotEmpty(t, c.CaseNumber)
	})

	t.Run("unbound role is forbidden", func(t *testing.T) {
		rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "viewer"}, http.MethodPost, "/", body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("super admin bypasses bindings", func(t *testing.T) {
		rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "super_admin"}, http.MethodPost, "/", body)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("case type without stages is rejected", func(t *testing.T) {
		rec := fx.request(t, clerk, http.MethodPost, "/", map[string]any{
			"case_type_id":   types.NewID(),
			"applicant_name": "Emir Kovac",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetCaseEmbedsPermissions(t *testing.T) {
	fx := newFixture(t, "intake", "counselor")
	fx.flows.bindRole("intake", "reviewer", workflow.RoleFlags{CanView: true, CanApprove: true})
	c := fx.seedCase(t, "intake")

	rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "reviewer"}, http.MethodGet, "/"+c.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status              string               `json:"status"`
		WorkflowPermissions workflow.Permissions `json:"workflow_permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "intake", resp.Status)
	assert.True(t, resp.WorkflowPermissions.CanApprove)
	assert.False(t, resp.WorkflowPermissions.CanEdit)

	t.Run("no view permission is forbidden", func(t *testing.T) {
		rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "stranger"}, http.MethodGet, "/"+c.ID.String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestApproveAdvancesStages(t *testing.T) {
	fx := newFixture(t, "intake", "counselor", "final_approval")
	fx.flows.bindRole("intake", "supervisor", workflow.RoleFlags{CanView: true, CanApprove: true})
	fx.flows.bindRole("counselor", "supervisor", workflow.RoleFlags{CanView: true, CanApprove: true})
	fx.flows.bindRole("final_approval", "supervisor", workflow.RoleFlags{CanView: true, CanApprove: true})

	supervisor := &auth.User{ID: types.NewID(), Role: "supervisor"}
	c := fx.seedCase(t, "intake")
	path := "/" + c.ID.String() + "/approve"

	rec := fx.request(t, supervisor, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "counselor", decodeCase(t, rec).Status)

	rec = fx.request(t, supervisor, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "final_approval", decodeCase(t, rec).Status)

	// Approval at the final stage closes the case
	rec = fx.request(t, supervisor, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decodeCase(t, rec)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	// A closed case cannot be approved again
	rec = fx.request(t, supervisor, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectMovesBackward(t *testing.T) {
	fx := newFixture(t, "intake", "counselor")
	fx.flows.bindRole("intake", "supervisor", workflow.RoleFlags{CanView: true, CanReject: true})
	fx.flows.bindRole("counselor", "supervisor", workflow.RoleFlags{CanView: true, CanReject: true})

	supervisor := &auth.User{ID: types.NewID(), Role: "supervisor"}

	c := fx.seedCase(t, "counselor")
	rec := fx.request(t, supervisor, http.MethodPost, "/"+c.ID.String()+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "intake", decodeCase(t, rec).Status)

	t.Run("first stage has nowhere to go back to", func(t *testing.T) {
		first := fx.seedCase(t, "intake")
		rec := fx.request(t, supervisor, http.MethodPost, "/"+first.ID.String()+"/reject", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCounselorAssignmentExclusivity(t *testing.T) {
	fx := newFixture(t, "intake", "counselor")
	fx.flows.bindRole("counselor", "counselor", workflow.RoleFlags{
		CanView: true, CanEdit: true, CanFillCase: true,
	})

	assigned := &auth.User{ID: types.NewID(), Role: "counselor"}
	other := &auth.User{ID: types.NewID(), Role: "counselor"}

	c := fx.seedCase(t, "counselor")

	body := map[string]any{"description": "updated notes"}

	rec0 := fx.request(t, other, http.MethodPut, "/"+c.ID.String(), body)
	assert.Equal(t, http.StatusOK, rec0.Code, "before assignment any counselor may work the case")

	stored, err := fx.caseRepo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.NoError(t, stored.AssignCounselor(&assigned.ID))
	require.NoError(t, fx.caseRepo.Update(context.Background(), stored))

	rec := fx.request(t, assigned, http.MethodPut, "/"+c.ID.String(), body)
	assert.Equal(t, http.StatusOK, rec.Code, "assigned counselor edits freely")

	rec = fx.request(t, other, http.MethodPut, "/"+c.ID.String(), body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unassigned counselor cannot edit")

	rec = fx.request(t, other, http.MethodGet, "/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "unassigned counselor can still view")
}

func TestUpdateAssignsCounselor(t *testing.T) {
	fx := newFixture(t, "intake", "counselor")
	fx.flows.bindRole("intake", "supervisor", workflow.RoleFlags{CanView: true, CanEdit: true})

	supervisor := &auth.User{ID: types.NewID(), Role: "supervisor"}
	counselorID := types.NewID()

	c := fx.seedCase(t, "intake")
	rec := fx.request(t, supervisor, http.MethodPut, "/"+c.ID.String(), map[string]any{
		"assigned_counselor_id": counselorID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeCase(t, rec)
	require.NotNil(t, updated.AssignedCounselorID)
	assert.Equal(t, counselorID, *updated.AssignedCounselorID)

	// Explicit null unassigns
	rec = fx.request(t, supervisor, http.MethodPut, "/"+c.ID.String(), map[string]any{
		"assigned_counselor_id": nil,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeCase(t, rec).AssignedCounselorID)
}

func TestDeleteCase(t *testing.T) {
	fx := newFixture(t, "intake")
	fx.flows.bindRole("intake", "supervisor", workflow.RoleFlags{CanView: true, CanDelete: true})

	c := fx.seedCase(t, "intake")

	rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "clerk"}, http.MethodDelete, "/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = fx.request(t, &auth.User{ID: types.NewID(), Role: "supervisor"}, http.MethodDelete, "/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.request(t, &auth.User{ID: types.NewID(), Role: "supervisor"}, http.MethodDelete, "/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailableCounselors(t *testing.T) {
	fx := newFixture(t, "intake", "counselor")
	fx.flows.bindRole("intake", "supervisor", workflow.RoleFlags{CanView: true})
	fx.flows.counselors = []workflow.UserRef{
		{ID: types.NewID(), FullName: "Amina Hodzic"},
		{ID: types.NewID(), FullName: "Tarik Begic"},
	}

	c := fx.seedCase(t, "intake")
	rec := fx.request(t, &auth.User{ID: types.NewID(), Role: "supervisor"}, http.MethodGet,
		"/available-counselors?case_id="+c.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []workflow.UserRef `json:"data"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}
