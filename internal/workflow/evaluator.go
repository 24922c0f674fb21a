package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/metrics"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Permissions is the effective flag set an actor holds on a case at a
// given workflow stage. All flags default to false.
type Permissions struct {
	CanApprove    bool `json:"can_approve"`
	CanReject     bool `json:"can_reject"`
	CanReview     bool `json:"can_review"`
	CanView       bool `json:"can_view"`
	CanEdit       bool `json:"can_edit"`
	CanDelete     bool `json:"can_delete"`
	CanCreateCase bool `json:"can_create_case"`
	CanFillCase   bool `json:"can_fill_case"`
}

// AllPermissions returns the flag set with every flag granted
func AllPermissions() Permissions {
	return Permissions{
		CanApprove:    true,
		CanReject:     true,
		CanReview:     true,
		CanView:       true,
		CanEdit:       true,
		CanDelete:     true,
		CanCreateCase: true,
		CanFillCase:   true,
	}
}

// Actor identifies the requesting user for permission evaluation
type Actor struct {
	ID   types.ID
	Role string
}

// CaseContext carries the case attributes permission evaluation depends
// on. It is a value struct so the case package stays decoupled from
// binding storage.
type CaseContext struct {
	CaseTypeID          types.ID
	Status              string
	AssignedCounselorID *types.ID
	JamiatID            *types.ID
	JamaatID            *types.ID
}

// BindingSource is the narrow read surface the evaluator needs. The
// workflow Repository satisfies it; tests supply fakes.
type BindingSource interface {
	FindStageByKey(ctx context.Context, caseTypeID types.ID, stageKey string) (*Stage, error)
	GetRoleBindingForRole(ctx context.Context, stageID types.ID, roleName string) (*RoleBinding, error)
	GetUserBinding(ctx context.Context, stageID, userID types.ID) (*UserBinding, error)
}

// Evaluator computes effective stage permissions from role and user
// bindings.
type Evaluator struct {
	source BindingSource
	cfg    config.WorkflowConfig
	logger *logrus.Logger
}

// NewEvaluator creates a permission evaluator
func NewEvaluator(source BindingSource, cfg config.WorkflowConfig, logger *logrus.Logger) *Evaluator {
	return &Evaluator{source: source, cfg: cfg, logger: logger}
}

// Evaluate resolves the actor's effective permissions for a case whose
// current stage is stageKey.
//
// The stage is resolved first for everyone: a case status that matches
// no configured stage is a configuration error surfaced as NotFound and
// logged, never silently granted or denied. Past that, the super admin
// role is granted everything without touching bindings. Otherwise the
// role binding and user binding for the stage are merged with OR per
// flag: an absent role binding contributes nothing, so an actor with
// neither binding gets all-false rather than an error.
//
// Finally, once a counselor is assigned, the counselor stage becomes
// exclusive: other counselor-role actors have their mutating flags
// withdrawn there. View access is kept so the counselor pool can still
// read the case.
func (e *Evaluator) Evaluate(ctx context.Context, actor Actor, c CaseContext, stageKey string) (Permissions, error) {
	stage, err := e.source.FindStageByKey(ctx, c.CaseTypeID, stageKey)
	if err != nil {
		if errors.IsNotFound(err) {
			e.logger.WithFields(logrus.Fields{
				"case_type_id": c.CaseTypeID,
				"stage_key":    stageKey,
			}).Error("workflow stage not configured")
			metrics.RecordStageConfigError()
			return Permissions{}, errors.NotFound("workflow stage configuration", stageKey)
		}
		return Permissions{}, err
	}

	if actor.Role == e.cfg.SuperAdminRole {
		return AllPermissions(), nil
	}

	var perms Permissions

	roleBinding, err := e.source.GetRoleBindingForRole(ctx, stage.ID, actor.Role)
	if err != nil && !errors.IsNotFound(err) {
		return Permissions{}, err
	}
	if roleBinding != nil {
		perms = fromRoleFlags(roleBinding.RoleFlags)
	}

	userBinding, err := e.source.GetUserBinding(ctx, stage.ID, actor.ID)
	if err != nil && !errors.IsNotFound(err) {
		return Permissions{}, err
	}
	if userBinding != nil {
		perms = mergeUserFlags(perms, userBinding.UserFlags)
	}

	if c.AssignedCounselorID != nil &&
		stage.StageKey == e.cfg.CounselorStageKey &&
		e.isCounselorRole(actor.Role) &&
		!isAssignedTo(c, actor.ID) {
		perms = withdrawMutations(perms)
	}

	return perms, nil
}

// Authorize evaluates permissions and checks a single action, recording
// the decision. The check function picks the flag the caller cares
// about.
func (e *Evaluator) Authorize(ctx context.Context, actor Actor, c CaseContext, stageKey, action string, check func(Permissions) bool) error {
	perms, err := e.Evaluate(ctx, actor, c, stageKey)
	if err != nil {
		return err
	}

	allowed := check(perms)
	metrics.RecordAuthorizationDecision(stageKey, action, allowed)

	if !allowed {
		return errors.Forbidden("not permitted to " + action + " at this stage")
	}
	return nil
}

func (e *Evaluator) isCounselorRole(role string) bool {
	for _, r := range e.cfg.CounselorRoles {
		if r == role {
			return true
		}
	}
	return false
}

func isAssignedTo(c CaseContext, userID types.ID) bool {
	return c.AssignedCounselorID != nil && *c.AssignedCounselorID == userID
}

func fromRoleFlags(f RoleFlags) Permissions {
	return Permissions{
		CanApprove:    f.CanApprove,
		CanReject:     f.CanReject,
		CanReview:     f.CanReview,
		CanView:       f.CanView,
		CanEdit:       f.CanEdit,
		CanDelete:     f.CanDelete,
		CanCreateCase: f.CanCreateCase,
		CanFillCase:   f.CanFillCase,
	}
}

func mergeUserFlags(p Permissions, f UserFlags) Permissions {
	p.CanApprove = p.CanApprove || f.CanApprove
	p.CanReview = p.CanReview || f.CanReview
	p.CanView = p.CanView || f.CanView
	p.CanCreateCase = p.CanCreateCase || f.CanCreateCase
	p.CanFillCase = p.CanFillCase || f.CanFillCase
	return p
}

// withdrawMutations strips the flags that change a case. View and
// review stay: an unassigned counselor may still read the case.
func withdrawMutations(p Permissions) Permissions {
	p.CanApprove = false
	p.CanReject = false
	p.CanEdit = false
	p.CanDelete = false
	p.CanFillCase = false
	return p
}
