package masterdata

import (
	"fmt"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Jamiat is a top-level administrative area
type Jamiat struct {
	ID        types.ID  `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJamiat creates a jamiat with validation
func NewJamiat(code, name string) (*Jamiat, error) {
	if code == "" || name == "" {
		return nil, fmt.Errorf("code and name are required")
	}

	now := time.Now()
	return &Jamiat{
		ID:        types.NewID(),
		Code:      code,
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Jamaat is a local community within a jamiat
type Jamaat struct {
	ID        types.ID  `json:"id"`
	JamiatID  types.ID  `json:"jamiat_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// JamiatName is populated on reads for display purposes
	JamiatName string `json:"jamiat_name,omitempty"`
}

// NewJamaat creates a jamaat with validation
func NewJamaat(jamiatID types.ID, code, name string) (*Jamaat, error) {
	if jamiatID.IsZero() {
		return nil, fmt.Errorf("jamiat is required")
	}
	if code == "" || name == "" {
		return nil, fmt.Errorf("code and name are required")
	}

	now := time.Now()
	return &Jamaat{
		ID:        types.NewID(),
		JamiatID:  jamiatID,
		Code:      code,
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CaseType categorizes cases; each case type owns its workflow stages
type CaseType struct {
	ID          types.ID  `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewCaseType creates a case type with validation
func NewCaseType(code, name, description string) (*CaseType, error) {
	if code == "" || name == "" {
		return nil, fmt.Errorf("code and name are required")
	}

	now := time.Now()
	return &CaseType{
		ID:          types.NewID(),
		Code:        code,
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Lookup is a simple named reference value. Occupations and relations
// share this shape.
type Lookup struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLookup creates a lookup value with validation
func NewLookup(name string) (*Lookup, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	now := time.Now()
	return &Lookup{
		ID:        types.NewID(),
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
