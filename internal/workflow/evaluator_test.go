package workflow

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

type fakeBindings struct {
	stages       map[string]*Stage                // stageKey -> stage
	roleBindings map[types.ID]map[string]*RoleBinding
	userBindings map[types.ID]map[types.ID]*UserBinding
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{
		stages:       map[string]*Stage{},
		roleBindings: map[types.ID]map[string]*RoleBinding{},
		userBindings: map[types.ID]map[types.ID]*UserBinding{},
	}
}

func (f *fakeBindings) addStage(key string) *Stage {
	stage := &Stage{ID: types.NewID(), StageKey: key, IsActive: true}
	f.stages[key] = stage
	return stage
}

func (f *fakeBindings) bindRole(stageID types.ID, roleName string, flags RoleFlags) {
	if f.roleBindings[stageID] == nil {
		f.roleBindings[stageID] = map[string]*RoleBinding{}
	}
	f.roleBindings[stageID][roleName] = &RoleBinding{StageID: stageID, RoleFlags: flags, RoleName: roleName}
}

func (f *fakeBindings) bindUser(stageID, userID types.ID, flags UserFlags) {
	if f.userBindings[stageID] == nil {
		f.userBindings[stageID] = map[types.ID]*UserBinding{}
	}
	f.userBindings[stageID][userID] = &UserBinding{StageID: stageID, UserID: userID, UserFlags: flags}
}

func (f *fakeBindings) FindStageByKey(_ context.Context, _ types.ID, stageKey string) (*Stage, error) {
	if stage, ok := f.stages[stageKey]; ok {
		return stage, nil
	}
	return nil, errors.NotFound("stage", stageKey)
}

func (f *fakeBindings) GetRoleBindingForRole(_ context.Context, stageID types.ID, roleName string) (*RoleBinding, error) {
	if b, ok := f.roleBindings[stageID][roleName]; ok {
		return b, nil
	}
	return nil, errors.NotFound("role binding", roleName)
}

func (f *fakeBindings) GetUserBinding(_ context.Context, stageID, userID types.ID) (*UserBinding, error) {
	if b, ok := f.userBindings[stageID][userID]; ok {
		return b, nil
	}
	return nil, errors.NotFound("user binding", userID.String())
}

func testConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		SuperAdminRole:    "super_admin",
		CounselorStageKey: "counselor",
		CounselorRoles:    []string{"counselor"},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestEvaluateSuperAdmin(t *testing.T) {
	// Super admin skips bindings entirely, but never stage resolution
	fake := newFakeBindings()
	fake.addStage("counselor")
	e := NewEvaluator(fake, testConfig(), testLogger())

	admin := Actor{ID: types.NewID(), Role: "super_admin"}

	perms, err := e.Evaluate(context.Background(), admin,
		CaseContext{CaseTypeID: types.NewID()}, "counselor")
	require.NoError(t, err)
	assert.Equal(t, AllPermissions(), perms)

	t.Run("missing stage is a config error even for super admin", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), admin,
			CaseContext{CaseTypeID: types.NewID()}, "missing_stage")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestEvaluateStageNotConfigured(t *testing.T) {
	e := NewEvaluator(newFakeBindings(), testConfig(), testLogger())

	_, err := e.Evaluate(context.Background(), Actor{ID: types.NewID(), Role: "reviewer"},
		CaseContext{CaseTypeID: types.NewID()}, "missing_stage")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestEvaluateUnboundActorGetsNothing(t *testing.T) {
	fake := newFakeBindings()
	fake.addStage("review")
	e := NewEvaluator(fake, testConfig(), testLogger())

	perms, err := e.Evaluate(context.Background(), Actor{ID: types.NewID(), Role: "reviewer"},
		CaseContext{CaseTypeID: types.NewID()}, "review")
	require.NoError(t, err)
	assert.Equal(t, Permissions{}, perms)
}

func TestEvaluateRoleBindingOnly(t *testing.T) {
	fake := newFakeBindings()
	stage := fake.addStage("review")
	fake.bindRole(stage.ID, "reviewer", RoleFlags{CanView: true, CanReview: true, CanApprove: true})
	e := NewEvaluator(fake, testConfig(), testLogger())

	perms, err := e.Evaluate(context.Background(), Actor{ID: types.NewID(), Role: "reviewer"},
		CaseContext{CaseTypeID: types.NewID()}, "review")
	require.NoError(t, err)
	assert.True(t, perms.CanView)
	assert.True(t, perms.CanReview)
	assert.True(t, perms.CanApprove)
	assert.False(t, perms.CanEdit)
	assert.False(t, perms.CanDelete)
}

func TestEvaluateUserBindingMergesWithOR(t *testing.T) {
	fake := newFakeBindings()
	stage := fake.addStage("review")
	userID := types.NewID()
	fake.bindRole(stage.ID, "reviewer", RoleFlags{CanView: true})
	fake.bindUser(stage.ID, userID, UserFlags{CanApprove: true, CanFillCase: true})
	e := NewEvaluator(fake, testConfig(), testLogger())

	perms, err := e.Evaluate(context.Background(), Actor{ID: userID, Role: "reviewer"},
		CaseContext{CaseTypeID: types.NewID()}, "review")
	require.NoError(t, err)
	assert.True(t, perms.CanView, "kept from role binding")
	assert.True(t, perms.CanApprove, "granted by user binding")
	assert.True(t, perms.CanFillCase, "granted by user binding")

	// The user binding is grants-only: it can never take a flag away
	other := types.NewID()
	fake.bindUser(stage.ID, other, UserFlags{})
	perms, err = e.Evaluate(context.Background(), Actor{ID: other, Role: "reviewer"},
		CaseContext{CaseTypeID: types.NewID()}, "review")
	require.NoError(t, err)
	assert.True(t, perms.CanView, "all-false user binding leaves role grants intact")
}

func TestEvaluateUserBindingWithoutRoleBinding(t *testing.T) {
	fake := newFakeBindings()
	stage := fake.addStage("review")
	userID := types.NewID()
	fake.bindUser(stage.ID, userID, UserFlags{CanView: true, CanReview: true})
	e := NewEvaluator(fake, testConfig(), testLogger())

	perms, err := e.Evaluate(context.Background(), Actor{ID: userID, Role: "clerk"},
		CaseContext{CaseTypeID: types.NewID()}, "review")
	require.NoError(t, err)
	assert.True(t, perms.CanView)
	assert.True(t, perms.CanReview)
	assert.False(t, perms.CanApprove)
}

func TestEvaluateCounselorAssignmentGate(t *testing.T) {
	fake := newFakeBindings()
	stage := fake.addStage("counselor")
	fake.bindRole(stage.ID, "counselor", RoleFlags{
		CanView: true, CanEdit: true, CanFillCase: true, CanApprove: true, CanReject: true, CanDelete: true,
	})
	e := NewEvaluator(fake, testConfig(), testLogger())

	assigned := types.NewID()
	unassigned := types.NewID()
	caseCtx := CaseContext{CaseTypeID: types.NewID(), AssignedCounselorID: &assigned}

	t.Run("assigned counselor keeps everything", func(t *testing.T) {
		perms, err := e.Evaluate(context.Background(), Actor{ID: assigned, Role: "counselor"}, caseCtx, "counselor")
		require.NoError(t, err)
		assert.True(t, perms.CanEdit)
		assert.True(t, perms.CanFillCase)
		assert.True(t, perms.CanApprove)
		assert.True(t, perms.CanReject)
		assert.True(t, perms.CanDelete)
	})

	t.Run("other counselor keeps view only", func(t *testing.T) {
		perms, err := e.Evaluate(context.Background(), Actor{ID: unassigned, Role: "counselor"}, caseCtx, "counselor")
		require.NoError(t, err)
		assert.True(t, perms.CanView, "unassigned counselors still read the case")
		assert.False(t, perms.CanEdit)
		assert.False(t, perms.CanFillCase)
		assert.False(t, perms.CanApprove)
		assert.False(t, perms.CanReject)
		assert.False(t, perms.CanDelete)
	})

	t.Run("unassigned case stays open to the whole pool", func(t *testing.T) {
		open := CaseContext{CaseTypeID: caseCtx.CaseTypeID}
		perms, err := e.Evaluate(context.Background(), Actor{ID: unassigned, Role: "counselor"}, open, "counselor")
		require.NoError(t, err)
		assert.True(t, perms.CanView)
		assert.True(t, perms.CanEdit, "any counselor may work a case before assignment")
		assert.True(t, perms.CanFillCase)
	})

	t.Run("gate only fires at the counselor stage", func(t *testing.T) {
		draft := fake.addStage("draft")
		fake.bindRole(draft.ID, "counselor", RoleFlags{CanView: true, CanEdit: true, CanFillCase: true})

		perms, err := e.Evaluate(context.Background(), Actor{ID: unassigned, Role: "counselor"}, caseCtx, "draft")
		require.NoError(t, err)
		assert.True(t, perms.CanEdit, "assignment restricts the counselor stage, not others")
		assert.True(t, perms.CanFillCase)
	})

	t.Run("non-counselor roles are unaffected", func(t *testing.T) {
		fake.bindRole(stage.ID, "supervisor", RoleFlags{CanView: true, CanApprove: true})
		perms, err := e.Evaluate(context.Background(), Actor{ID: types.NewID(), Role: "supervisor"}, caseCtx, "counselor")
		require.NoError(t, err)
		assert.True(t, perms.CanApprove)
	})
}

func TestAuthorize(t *testing.T) {
	fake := newFakeBindings()
	stage := fake.addStage("review")
	fake.bindRole(stage.ID, "reviewer", RoleFlags{CanView: true, CanApprove: true})
	e := NewEvaluator(fake, testConfig(), testLogger())

	actor := Actor{ID: types.NewID(), Role: "reviewer"}
	caseCtx := CaseContext{CaseTypeID: types.NewID()}

	err := e.Authorize(context.Background(), actor, caseCtx, "review", "approve",
		func(p Permissions) bool { return p.CanApprove })
	assert.NoError(t, err)

	err = e.Authorize(context.Background(), actor, caseCtx, "review", "reject",
		func(p Permissions) bool { return p.CanReject })
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, 403, appErr.HTTPStatus)
}
