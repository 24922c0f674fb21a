package workflow

import (
	"context"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// RoleRef is a role summary for selector endpoints
type RoleRef struct {
	ID          types.ID `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
}

// UserRef is a user summary for selector and counselor endpoints
type UserRef struct {
	ID       types.ID `json:"id"`
	FullName string   `json:"full_name"`
}

// Repository defines persistence for the stage registry and its bindings
type Repository interface {
	// Stage registry
	ListStagesByCaseType(ctx context.Context, caseTypeID types.ID, includeDeleted bool) ([]Stage, error)
	ListAllStages(ctx context.Context, includeDeleted bool) ([]Stage, error)
	GetStage(ctx context.Context, id types.ID) (*Stage, error)
	FindStageByKey(ctx context.Context, caseTypeID types.ID, stageKey string) (*Stage, error)
	CreateStage(ctx context.Context, stage *Stage) error
	UpdateStage(ctx context.Context, stage *Stage) error
	SetStageActive(ctx context.Context, id types.ID, active bool) error
	ReorderStages(ctx context.Context, caseTypeID types.ID, orderedIDs []types.ID) error

	// Role bindings
	ListRoleBindings(ctx context.Context, stageID types.ID) ([]RoleBinding, error)
	GetRoleBinding(ctx context.Context, stageID, roleID types.ID) (*RoleBinding, error)
	GetRoleBindingForRole(ctx context.Context, stageID types.ID, roleName string) (*RoleBinding, error)
	AddRoleBinding(ctx context.Context, binding *RoleBinding) error
	UpdateRoleBinding(ctx context.Context, stageID, roleID types.ID, flags RoleFlags) error
	RemoveRoleBinding(ctx context.Context, stageID, roleID types.ID) error

	// User bindings
	ListUserBindings(ctx context.Context, stageID types.ID) ([]UserBinding, error)
	GetUserBinding(ctx context.Context, stageID, userID types.ID) (*UserBinding, error)
	AddUserBinding(ctx context.Context, binding *UserBinding) error
	UpdateUserBinding(ctx context.Context, stageID, userID types.ID, flags UserFlags) error
	RemoveUserBinding(ctx context.Context, stageID, userID types.ID) error

	// Selector helpers
	AvailableRoles(ctx context.Context, stageID types.ID) ([]RoleRef, error)
	AvailableUsers(ctx context.Context, stageID types.ID) ([]UserRef, error)
	AvailableCounselors(ctx context.Context, caseTypeID types.ID, stageKey string, jamiatID, jamaatID *types.ID) ([]UserRef, error)
}
