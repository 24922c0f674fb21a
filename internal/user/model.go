package user

import (
	"fmt"
	"net/mail"
	"regexp"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// itsNumberPattern matches the 8-digit membership identifier issued by
// the central directory.
var itsNumberPattern = regexp.MustCompile(`^\d{8}$`)

// User is a staff member who works cases. RoleID links to the single
// role the user holds; jamiat/jamaat scope which cases the user serves.
type User struct {
	ID        types.ID  `json:"id"`
	ITSNumber string    `json:"its_number,omitempty"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	RoleID    *types.ID `json:"role_id,omitempty"`
	JamiatID  *types.ID `json:"jamiat_id,omitempty"`
	JamaatID  *types.ID `json:"jamaat_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// RoleName is populated on reads for display purposes
	RoleName string `json:"role_name,omitempty"`
}

// Attrs carries user creation attributes
type Attrs struct {
	ITSNumber string    `json:"its_number"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	RoleID    *types.ID `json:"role_id,omitempty"`
	JamiatID  *types.ID `json:"jamiat_id,omitempty"`
	JamaatID  *types.ID `json:"jamaat_id,omitempty"`
}

// New creates a user with validation
func New(attrs Attrs) (*User, error) {
	if attrs.FullName == "" {
		return nil, fmt.Errorf("full name is required")
	}
	if _, err := mail.ParseAddress(attrs.Email); err != nil {
		return nil, fmt.Errorf("invalid email address: %w", err)
	}
	if attrs.ITSNumber != "" && !itsNumberPattern.MatchString(attrs.ITSNumber) {
		return nil, fmt.Errorf("its number must be 8 digits")
	}

	now := time.Now()
	return &User{
		ID:        types.NewID(),
		ITSNumber: attrs.ITSNumber,
		FullName:  attrs.FullName,
		Email:     attrs.Email,
		RoleID:    attrs.RoleID,
		JamiatID:  attrs.JamiatID,
		JamaatID:  attrs.JamaatID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
