package user

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Repository provides database operations for users
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new user repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.its_number, u.full_name, u.email, u.role_id,
	u.jamiat_id, u.jamaat_id, u.is_active, u.created_at, u.updated_at, r.name`

const userFrom = ` FROM identity.users u LEFT JOIN identity.roles r ON r.id = u.role_id`

// Create inserts a user, validating the role reference in the same
// transaction so a concurrent role deletion cannot slip through.
func (r *Repository) Create(ctx context.Context, user *User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if user.RoleID != nil {
		var active bool
		err = tx.QueryRow(ctx,
			`SELECT is_active FROM identity.roles WHERE id = $1`, *user.RoleID).Scan(&active)
		if err == pgx.ErrNoRows {
			return errors.NotFound("role", user.RoleID.String())
		}
		if err != nil {
			return errors.Wrap(err, "failed to check role")
		}
		if !active {
			return errors.Validation("role is inactive", nil)
		}
	}

	query := `
		INSERT INTO identity.users (
			id, its_number, full_name, email, role_id,
			jamiat_id, jamaat_id, is_active, created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.Exec(ctx, query,
		user.ID, user.ITSNumber, user.FullName, user.Email, user.RoleID,
		user.JamiatID, user.JamaatID, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user with this email or its number already exists")
		}
		return errors.Wrap(err, "failed to create user")
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id types.ID) (*User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id), id.String())
}

// GetByITSNumber retrieves a user by membership number
func (r *Repository) GetByITSNumber(ctx context.Context, itsNumber string) (*User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.its_number = $1`
	return scanUser(r.pool.QueryRow(ctx, query, itsNumber), itsNumber)
}

// List lists users, active-only unless includeInactive is set,
// optionally filtered by role
func (r *Repository) List(ctx context.Context, roleID *types.ID, includeInactive bool) ([]User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE TRUE`
	args := []any{}
	if !includeInactive {
		query += ` AND u.is_active`
	}
	if roleID != nil {
		args = append(args, *roleID)
		query += ` AND u.role_id = $1`
	}
	query += ` ORDER BY u.full_name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	return users, nil
}

// Update updates a user in place
func (r *Repository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE identity.users SET
			its_number = NULLIF($2, ''), full_name = $3, email = $4, role_id = $5,
			jamiat_id = $6, jamaat_id = $7, is_active = $8, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		user.ID, user.ITSNumber, user.FullName, user.Email, user.RoleID,
		user.JamiatID, user.JamaatID, user.IsActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user with this email or its number already exists")
		}
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("role", "")
		}
		return errors.Wrap(err, "failed to update user")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user", user.ID.String())
	}

	return nil
}

// AssignRole sets or clears a user's role
func (r *Repository) AssignRole(ctx context.Context, userID types.ID, roleID *types.ID) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE identity.users SET role_id = $2, updated_at = NOW() WHERE id = $1`,
		userID, roleID,
	)
	if err != nil {
		if roleID != nil && strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("role", roleID.String())
		}
		return errors.Wrap(err, "failed to assign role")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user", userID.String())
	}

	return nil
}

// Deactivate soft-deletes a user
func (r *Repository) Deactivate(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE identity.users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate user")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user", id.String())
	}

	return nil
}

// UpdateArea sets the user's jamiat/jamaat, used by the directory sync
func (r *Repository) UpdateArea(ctx context.Context, userID types.ID, jamiatID, jamaatID *types.ID) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE identity.users SET jamiat_id = $2, jamaat_id = $3, updated_at = NOW() WHERE id = $1`,
		userID, jamiatID, jamaatID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update user area")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user", userID.String())
	}

	return nil
}

// ListWithITSNumber lists active users that carry a membership number,
// used by the directory sync
func (r *Repository) ListWithITSNumber(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.is_active AND u.its_number IS NOT NULL`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	return users, nil
}

func scanUser(row pgx.Row, key string) (*User, error) {
	user, err := scanUserRow(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", key)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUserRow(row pgx.Row) (*User, error) {
	user := &User{}
	var itsNumber, roleName *string

	err := row.Scan(
		&user.ID, &itsNumber, &user.FullName, &user.Email, &user.RoleID,
		&user.JamiatID, &user.JamaatID, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt, &roleName,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan user")
	}

	if itsNumber != nil {
		user.ITSNumber = *itsNumber
	}
	if roleName != nil {
		user.RoleName = *roleName
	}

	return user, nil
}
