package role

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// SuperAdmin is the sentinel role that satisfies every permission check
// regardless of its stored permission set.
const SuperAdmin = "super_admin"

var roleNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// PermissionSet maps a resource name to the set of actions allowed on it.
// The canonical wire form is an object: {"cases": ["create", "update"]}.
// The legacy array form ["cases.create", "cases.update"] is accepted on
// input and normalized; business logic only ever sees the canonical shape.
type PermissionSet map[string][]string

// UnmarshalJSON normalizes both accepted wire shapes into the canonical map.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*p = PermissionSet{}
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var flat []string
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("invalid permission list: %w", err)
		}
		set := PermissionSet{}
		for _, entry := range flat {
			resource, action, ok := strings.Cut(entry, ".")
			if !ok || resource == "" || action == "" {
				return fmt.Errorf("invalid permission entry %q, want resource.action", entry)
			}
			set[resource] = append(set[resource], action)
		}
		set.normalize()
		*p = set
		return nil
	}

	var obj map[string][]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid permission object: %w", err)
	}
	set := PermissionSet(obj)
	set.normalize()
	*p = set
	return nil
}

// MarshalJSON always emits the canonical object form.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]string(p))
}

// normalize dedupes and sorts actions per resource
func (p PermissionSet) normalize() {
	for resource, actions := range p {
		seen := make(map[string]bool, len(actions))
		unique := actions[:0]
		for _, a := range actions {
			if !seen[a] {
				seen[a] = true
				unique = append(unique, a)
			}
		}
		sort.Strings(unique)
		p[resource] = unique
	}
}

// Has reports whether the set grants an action on a resource
func (p PermissionSet) Has(resource, action string) bool {
	for _, a := range p[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// FormStagePermission is a per-stage read/update override for multi-step
// form resources (the counseling form).
type FormStagePermission struct {
	StageKey  string `json:"stage_key"`
	CanRead   bool   `json:"can_read"`
	CanUpdate bool   `json:"can_update"`
}

// Role is a named permission holder
type Role struct {
	ID                   types.ID              `json:"id"`
	Name                 string                `json:"name"`
	DisplayName          string                `json:"display_name"`
	Description          string                `json:"description"`
	Permissions          PermissionSet         `json:"permissions"`
	CounselingFormStages []FormStagePermission `json:"counseling_form_stages"`
	IsActive             bool                  `json:"is_active"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// New creates a role with validation
func New(name, displayName, description string, perms PermissionSet, formStages []FormStagePermission) (*Role, error) {
	if !roleNamePattern.MatchString(name) {
		return nil, fmt.Errorf("role name must match [a-z_]+, got %q", name)
	}
	if displayName == "" {
		displayName = name
	}
	if perms == nil {
		perms = PermissionSet{}
	}

	now := time.Now()
	return &Role{
		ID:                   types.NewID(),
		Name:                 name,
		DisplayName:          displayName,
		Description:          description,
		Permissions:          perms,
		CounselingFormStages: formStages,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// FormStage returns the per-stage form override for a stage key, if any
func (r *Role) FormStage(stageKey string) (FormStagePermission, bool) {
	for _, fs := range r.CounselingFormStages {
		if fs.StageKey == stageKey {
			return fs, true
		}
	}
	return FormStagePermission{}, false
}

// IsSuperAdmin reports whether this is the sentinel role
func (r *Role) IsSuperAdmin() bool {
	return r.Name == SuperAdmin
}
