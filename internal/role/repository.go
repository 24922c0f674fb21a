package role

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Repository provides database operations for roles
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new role repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, display_name, description, permissions, counseling_form_stages, is_active, created_at, updated_at`

// Create inserts a new role
func (r *Repository) Create(ctx context.Context, role *Role) error {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal permissions")
	}
	stagesJSON, err := json.Marshal(role.CounselingFormStages)
	if err != nil {
		return errors.Wrap(err, "failed to marshal form stage overrides")
	}

	query := `
		INSERT INTO identity.roles (
			id, name, display_name, description,
			permissions, counseling_form_stages, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		role.ID, role.Name, role.DisplayName, role.Description,
		permsJSON, stagesJSON, role.IsActive,
		role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("role with this name already exists")
		}
		return errors.Wrap(err, "failed to create role")
	}

	return nil
}

// GetByID retrieves a role by ID
func (r *Repository) GetByID(ctx context.Context, id types.ID) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM identity.roles WHERE id = $1`
	return r.scanRole(r.pool.QueryRow(ctx, query, id), id.String())
}

// GetByName retrieves a role by its unique name
func (r *Repository) GetByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM identity.roles WHERE name = $1`
	return r.scanRole(r.pool.QueryRow(ctx, query, name), name)
}

// List lists roles, active-only unless includeInactive is set
func (r *Repository) List(ctx context.Context, includeInactive bool) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM identity.roles`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list roles")
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRoleRow(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}

	return roles, nil
}

// Update updates a role in place. The role name is immutable once any
// stage binding references the role.
func (r *Repository) Update(ctx context.Context, role *Role) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var currentName string
	err = tx.QueryRow(ctx, `SELECT name FROM identity.roles WHERE id = $1 FOR UPDATE`, role.ID).Scan(&currentName)
	if err == pgx.ErrNoRows {
		return errors.NotFound("role", role.ID.String())
	}
	if err != nil {
		return errors.Wrap(err, "failed to load role")
	}

	if role.Name != currentName {
		var bound int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM workflow.stage_roles WHERE role_id = $1`, role.ID).Scan(&bound)
		if err != nil {
			return errors.Wrap(err, "failed to count stage bindings")
		}
		if bound > 0 {
			return errors.Validation("role name is immutable while stage bindings reference it", nil)
		}
	}

	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal permissions")
	}
	stagesJSON, err := json.Marshal(role.CounselingFormStages)
	if err != nil {
		return errors.Wrap(err, "failed to marshal form stage overrides")
	}

	query := `
		UPDATE identity.roles SET
			name = $2, display_name = $3, description = $4,
			permissions = $5, counseling_form_stages = $6, is_active = $7,
			updated_at = NOW()
		WHERE id = $1`

	_, err = tx.Exec(ctx, query,
		role.ID, role.Name, role.DisplayName, role.Description,
		permsJSON, stagesJSON, role.IsActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("role with this name already exists")
		}
		return errors.Wrap(err, "failed to update role")
	}

	return tx.Commit(ctx)
}

// Delete removes a role. Stage-role bindings cascade with it.
func (r *Repository) Delete(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM identity.roles WHERE id = $1`, id)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.Conflict("role is still assigned to users")
		}
		return errors.Wrap(err, "failed to delete role")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("role", id.String())
	}

	return nil
}

func (r *Repository) scanRole(row pgx.Row, key string) (*Role, error) {
	role, err := scanRoleRow(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("role", key)
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

func scanRoleRow(row pgx.Row) (*Role, error) {
	role := &Role{}
	var permsJSON, stagesJSON []byte

	err := row.Scan(
		&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&permsJSON, &stagesJSON, &role.IsActive,
		&role.CreatedAt, &role.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan role")
	}

	if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
		role.Permissions = PermissionSet{}
	}
	if err := json.Unmarshal(stagesJSON, &role.CounselingFormStages); err != nil {
		role.CounselingFormStages = nil
	}

	return role, nil
}
