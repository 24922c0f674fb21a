package workflow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// SLAUnit is the time unit for stage SLA thresholds
type SLAUnit string

const (
	SLAUnitHours        SLAUnit = "hours"
	SLAUnitDays         SLAUnit = "days"
	SLAUnitBusinessDays SLAUnit = "business_days"
	SLAUnitWeeks        SLAUnit = "weeks"
	SLAUnitMonths       SLAUnit = "months"
)

// ValidSLAUnit reports whether the unit is one of the accepted values
func ValidSLAUnit(u SLAUnit) bool {
	switch u {
	case SLAUnitHours, SLAUnitDays, SLAUnitBusinessDays, SLAUnitWeeks, SLAUnitMonths:
		return true
	}
	return false
}

var stageKeyPattern = regexp.MustCompile(`^[a-z_]+$`)

// Stage is one step of a case type's approval workflow.
// Stages are ordered by SortOrder, which is kept dense per case type.
// IsActive=false marks a soft-deleted stage; its bindings are retained.
type Stage struct {
	ID          types.ID `json:"id"`
	CaseTypeID  types.ID `json:"case_type_id"`
	StageName   string   `json:"stage_name"`
	StageKey    string   `json:"stage_key"`
	Description string   `json:"description"`
	SortOrder   int      `json:"sort_order"`
	IsActive    bool     `json:"is_active"`

	SLAValue        *int     `json:"sla_value,omitempty"`
	SLAUnit         *SLAUnit `json:"sla_unit,omitempty"`
	SLAWarningValue *int     `json:"sla_warning_value,omitempty"`
	SLAWarningUnit  *SLAUnit `json:"sla_warning_unit,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStage creates a stage with validation. SortOrder is assigned by the
// repository when left negative.
func NewStage(caseTypeID types.ID, attrs StageAttrs) (*Stage, error) {
	if caseTypeID.IsZero() {
		return nil, fmt.Errorf("case type is required")
	}
	if attrs.StageName == "" {
		return nil, fmt.Errorf("stage name is required")
	}
	if !stageKeyPattern.MatchString(attrs.StageKey) {
		return nil, fmt.Errorf("stage key must match [a-z_]+, got %q", attrs.StageKey)
	}
	if err := validateSLA(attrs.SLAValue, attrs.SLAUnit); err != nil {
		return nil, err
	}
	if err := validateSLA(attrs.SLAWarningValue, attrs.SLAWarningUnit); err != nil {
		return nil, err
	}

	now := time.Now()
	sortOrder := -1
	if attrs.SortOrder != nil {
		sortOrder = *attrs.SortOrder
	}

	return &Stage{
		ID:              types.NewID(),
		CaseTypeID:      caseTypeID,
		StageName:       attrs.StageName,
		StageKey:        attrs.StageKey,
		Description:     attrs.Description,
		SortOrder:       sortOrder,
		IsActive:        true,
		SLAValue:        attrs.SLAValue,
		SLAUnit:         attrs.SLAUnit,
		SLAWarningValue: attrs.SLAWarningValue,
		SLAWarningUnit:  attrs.SLAWarningUnit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// StageAttrs carries stage creation/update attributes
type StageAttrs struct {
	StageName       string   `json:"stage_name"`
	StageKey        string   `json:"stage_key"`
	Description     string   `json:"description"`
	SortOrder       *int     `json:"sort_order,omitempty"`
	SLAValue        *int     `json:"sla_value,omitempty"`
	SLAUnit         *SLAUnit `json:"sla_unit,omitempty"`
	SLAWarningValue *int     `json:"sla_warning_value,omitempty"`
	SLAWarningUnit  *SLAUnit `json:"sla_warning_unit,omitempty"`
}

func validateSLA(value *int, unit *SLAUnit) error {
	if value == nil && unit == nil {
		return nil
	}
	if value == nil || unit == nil {
		return fmt.Errorf("sla value and unit must be set together")
	}
	if *value <= 0 {
		return fmt.Errorf("sla value must be positive")
	}
	if !ValidSLAUnit(*unit) {
		return fmt.Errorf("invalid sla unit %q", *unit)
	}
	return nil
}

// RoleBinding associates a role with a stage and carries the stage-level
// action flags for every user holding that role.
type RoleBinding struct {
	StageID types.ID `json:"stage_id"`
	RoleID  types.ID `json:"role_id"`

	RoleFlags

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// RoleName is populated on reads for display purposes
	RoleName string `json:"role_name,omitempty"`
}

// RoleFlags is the full stage action flag set available to role bindings
type RoleFlags struct {
	CanApprove    bool `json:"can_approve"`
	CanReject     bool `json:"can_reject"`
	CanReview     bool `json:"can_review"`
	CanView       bool `json:"can_view"`
	CanEdit       bool `json:"can_edit"`
	CanDelete     bool `json:"can_delete"`
	CanCreateCase bool `json:"can_create_case"`
	CanFillCase   bool `json:"can_fill_case"`
}

// DefaultRoleFlags returns the flag set a freshly bound role receives:
// view only.
func DefaultRoleFlags() RoleFlags {
	return RoleFlags{CanView: true}
}

// UserBinding associates an individual user with a stage. It is a
// narrower override layer than role bindings: grants only, and only for
// the flags it carries.
type UserBinding struct {
	StageID types.ID `json:"stage_id"`
	UserID  types.ID `json:"user_id"`

	UserFlags

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// FullName is populated on reads for display purposes
	FullName string `json:"full_name,omitempty"`
}

// UserFlags is the reduced flag set available to user bindings
type UserFlags struct {
	CanApprove    bool `json:"can_approve"`
	CanReview     bool `json:"can_review"`
	CanView       bool `json:"can_view"`
	CanCreateCase bool `json:"can_create_case"`
	CanFillCase   bool `json:"can_fill_case"`
}

// planReorder validates that orderedIDs is exactly the set of the given
// active stages and returns the new dense sort order (0..N-1) per stage.
// The input stages must all belong to one case type.
func planReorder(active []Stage, orderedIDs []types.ID) (map[types.ID]int, error) {
	if len(orderedIDs) != len(active) {
		return nil, fmt.Errorf("expected %d stage ids, got %d", len(active), len(orderedIDs))
	}

	current := make(map[types.ID]bool, len(active))
	for _, s := range active {
		current[s.ID] = true
	}

	plan := make(map[types.ID]int, len(orderedIDs))
	for i, id := range orderedIDs {
		if !current[id] {
			return nil, fmt.Errorf("stage %s is not an active stage of this case type", id)
		}
		if _, dup := plan[id]; dup {
			return nil, fmt.Errorf("stage %s appears more than once", id)
		}
		plan[id] = i
	}

	return plan, nil
}
