package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// StatusClosed is the terminal status a case reaches after approval at
// the final workflow stage. Every other status is the stage_key of the
// case's current workflow stage.
const StatusClosed = "closed"

// Case is a welfare assistance request moving through the workflow
// stages of its case type.
type Case struct {
	ID                  types.ID  `json:"id"`
	CaseNumber          string    `json:"case_number"`
	CaseTypeID          types.ID  `json:"case_type_id"`
	Status              string    `json:"status"`
	ApplicantName       string    `json:"applicant_name"`
	Description         string    `json:"description"`
	AssignedCounselorID *types.ID `json:"assigned_counselor_id,omitempty"`
	JamiatID            *types.ID `json:"jamiat_id,omitempty"`
	JamaatID            *types.ID `json:"jamaat_id,omitempty"`
	CreatedBy           types.ID  `json:"created_by"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	// CounselorName is populated on reads for display purposes
	CounselorName string `json:"counselor_name,omitempty"`
}

// Attrs carries case creation attributes
type Attrs struct {
	CaseTypeID    types.ID  `json:"case_type_id"`
	ApplicantName string    `json:"applicant_name"`
	Description   string    `json:"description"`
	JamiatID      *types.ID `json:"jamiat_id,omitempty"`
	JamaatID      *types.ID `json:"jamaat_id,omitempty"`
}

// NewCase creates a case with validation. The case number and initial
// status are assigned by the service that knows the workflow; the case
// starts at the first active stage of its case type.
func NewCase(attrs Attrs, initialStatus string, createdBy types.ID) (*Case, error) {
	if attrs.CaseTypeID.IsZero() {
		return nil, fmt.Errorf("case type is required")
	}
	if attrs.ApplicantName == "" {
		return nil, fmt.Errorf("applicant name is required")
	}
	if initialStatus == "" {
		return nil, fmt.Errorf("initial status is required")
	}

	now := time.Now()
	return &Case{
		ID:            types.NewID(),
		CaseTypeID:    attrs.CaseTypeID,
		Status:        initialStatus,
		ApplicantName: attrs.ApplicantName,
		Description:   attrs.Description,
		JamiatID:      attrs.JamiatID,
		JamaatID:      attrs.JamaatID,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsClosed reports whether the case has reached its terminal status
func (c *Case) IsClosed() bool {
	return c.Status == StatusClosed
}

// AssignCounselor sets the assigned counselor. Passing nil unassigns.
func (c *Case) AssignCounselor(userID *types.ID) error {
	if c.IsClosed() {
		return fmt.Errorf("case is closed")
	}
	c.AssignedCounselorID = userID
	c.UpdatedAt = time.Now()
	return nil
}

// Advance moves the case to the given stage key
func (c *Case) Advance(stageKey string) error {
	if c.IsClosed() {
		return fmt.Errorf("case is closed")
	}
	c.Status = stageKey
	c.UpdatedAt = time.Now()
	return nil
}

// Close marks the case approved at its final stage
func (c *Case) Close() error {
	if c.IsClosed() {
		return fmt.Errorf("case is already closed")
	}
	now := time.Now()
	c.Status = StatusClosed
	c.ClosedAt = &now
	c.UpdatedAt = now
	return nil
}

// Filter narrows case listings
type Filter struct {
	CaseTypeID  *types.ID
	Status      *string
	CounselorID *types.ID
	JamiatID    *types.ID
	JamaatID    *types.ID
}

// Repository defines persistence for cases
type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id types.ID) (*Case, error)
	List(ctx context.Context, filter Filter) ([]Case, error)
	Update(ctx context.Context, c *Case) error
	Delete(ctx context.Context, id types.ID) error
	NextCaseNumber(ctx context.Context) (string, error)
}
