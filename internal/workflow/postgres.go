package workflow

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL workflow repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const stageColumns = `id, case_type_id, stage_name, stage_key, description, sort_order, is_active,
	sla_value, sla_unit, sla_warning_value, sla_warning_unit, created_at, updated_at`

// --- Stage registry ---

// ListStagesByCaseType lists stages ordered by sort_order; soft-deleted
// stages are filtered out unless includeDeleted is set.
func (r *PostgresRepository) ListStagesByCaseType(ctx context.Context, caseTypeID types.ID, includeDeleted bool) ([]Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM workflow.stages WHERE case_type_id = $1`
	if !includeDeleted {
		query += ` AND is_active`
	}
	query += ` ORDER BY sort_order`

	rows, err := r.pool.Query(ctx, query, caseTypeID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stages")
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *stage)
	}

	return stages, nil
}

// ListAllStages lists the whole registry, ordered for per-case-type grouping
func (r *PostgresRepository) ListAllStages(ctx context.Context, includeDeleted bool) ([]Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM workflow.stages`
	if !includeDeleted {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY case_type_id, sort_order`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stages")
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *stage)
	}

	return stages, nil
}

// GetStage retrieves a stage by ID
func (r *PostgresRepository) GetStage(ctx context.Context, id types.ID) (*Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM workflow.stages WHERE id = $1`

	stage, err := scanStage(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("stage", id.String())
	}
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// FindStageByKey resolves the active stage with a given key within a case type
func (r *PostgresRepository) FindStageByKey(ctx context.Context, caseTypeID types.ID, stageKey string) (*Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM workflow.stages
		WHERE case_type_id = $1 AND stage_key = $2 AND is_active`

	stage, err := scanStage(r.pool.QueryRow(ctx, query, caseTypeID, stageKey))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("stage", stageKey)
	}
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// CreateStage inserts a stage. A negative sort order means "append":
// the next dense position is assigned inside the insert transaction.
func (r *PostgresRepository) CreateStage(ctx context.Context, stage *Stage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if stage.SortOrder < 0 {
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM workflow.stages WHERE case_type_id = $1`,
			stage.CaseTypeID,
		).Scan(&stage.SortOrder)
		if err != nil {
			return errors.Wrap(err, "failed to compute next sort order")
		}
	}

	query := `
		INSERT INTO workflow.stages (
			id, case_type_id, stage_name, stage_key, description, sort_order, is_active,
			sla_value, sla_unit, sla_warning_value, sla_warning_unit,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		stage.ID, stage.CaseTypeID, stage.StageName, stage.StageKey, stage.Description,
		stage.SortOrder, stage.IsActive,
		stage.SLAValue, stage.SLAUnit, stage.SLAWarningValue, stage.SLAWarningUnit,
		stage.CreatedAt, stage.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Validation("stage key already exists for this case type", map[string]string{
				"stage_key": stage.StageKey,
			})
		}
		return errors.Wrap(err, "failed to create stage")
	}

	return tx.Commit(ctx)
}

// UpdateStage updates stage attributes. The owning case type never changes.
func (r *PostgresRepository) UpdateStage(ctx context.Context, stage *Stage) error {
	query := `
		UPDATE workflow.stages SET
			stage_name = $2, stage_key = $3, description = $4,
			sla_value = $5, sla_unit = $6, sla_warning_value = $7, sla_warning_unit = $8,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		stage.ID, stage.StageName, stage.StageKey, stage.Description,
		stage.SLAValue, stage.SLAUnit, stage.SLAWarningValue, stage.SLAWarningUnit,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Validation("stage key already exists for this case type", map[string]string{
				"stage_key": stage.StageKey,
			})
		}
		return errors.Wrap(err, "failed to update stage")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("stage", stage.ID.String())
	}

	return nil
}

// SetStageActive soft-deletes (false) or restores (true) a stage.
// Bindings are untouched either way.
func (r *PostgresRepository) SetStageActive(ctx context.Context, id types.ID, active bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE workflow.stages SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update stage")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("stage", id.String())
	}

	return nil
}

// ReorderStages validates that orderedIDs is exactly the active stage set
// of the case type and renumbers sort_order transactionally. Any failure
// rolls back and leaves the stored order intact.
func (r *PostgresRepository) ReorderStages(ctx context.Context, caseTypeID types.ID, orderedIDs []types.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+stageColumns+` FROM workflow.stages
		 WHERE case_type_id = $1 AND is_active
		 ORDER BY sort_order
		 FOR UPDATE`,
		caseTypeID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to lock stages")
	}

	var active []Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			rows.Close()
			return err
		}
		active = append(active, *stage)
	}
	rows.Close()

	plan, err := planReorder(active, orderedIDs)
	if err != nil {
		return errors.Validation(err.Error(), nil)
	}

	for id, order := range plan {
		if _, err := tx.Exec(ctx,
			`UPDATE workflow.stages SET sort_order = $2, updated_at = NOW() WHERE id = $1`,
			id, order,
		); err != nil {
			return errors.Wrap(err, "failed to renumber stage")
		}
	}

	return tx.Commit(ctx)
}

// --- Role bindings ---

const roleBindingColumns = `sr.stage_id, sr.role_id,
	sr.can_approve, sr.can_reject, sr.can_review, sr.can_view,
	sr.can_edit, sr.can_delete, sr.can_create_case, sr.can_fill_case,
	sr.created_at, sr.updated_at, r.name`

// ListRoleBindings lists all role bindings for a stage
func (r *PostgresRepository) ListRoleBindings(ctx context.Context, stageID types.ID) ([]RoleBinding, error) {
	query := `SELECT ` + roleBindingColumns + `
		FROM workflow.stage_roles sr
		JOIN identity.roles r ON r.id = sr.role_id
		WHERE sr.stage_id = $1
		ORDER BY r.name`

	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list role bindings")
	}
	defer rows.Close()

	var bindings []RoleBinding
	for rows.Next() {
		b, err := scanRoleBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, *b)
	}

	return bindings, nil
}

// GetRoleBinding retrieves the binding for a (stage, role) pair
func (r *PostgresRepository) GetRoleBinding(ctx context.Context, stageID, roleID types.ID) (*RoleBinding, error) {
	query := `SELECT ` + roleBindingColumns + `
		FROM workflow.stage_roles sr
		JOIN identity.roles r ON r.id = sr.role_id
		WHERE sr.stage_id = $1 AND sr.role_id = $2`

	b, err := scanRoleBinding(r.pool.QueryRow(ctx, query, stageID, roleID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("role binding", roleID.String())
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetRoleBindingForRole retrieves the binding for a stage and role name
func (r *PostgresRepository) GetRoleBindingForRole(ctx context.Context, stageID types.ID, roleName string) (*RoleBinding, error) {
	query := `SELECT ` + roleBindingColumns + `
		FROM workflow.stage_roles sr
		JOIN identity.roles r ON r.id = sr.role_id
		WHERE sr.stage_id = $1 AND r.name = $2`

	b, err := scanRoleBinding(r.pool.QueryRow(ctx, query, stageID, roleName))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("role binding", roleName)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AddRoleBinding inserts a binding; a duplicate pair is a conflict
func (r *PostgresRepository) AddRoleBinding(ctx context.Context, b *RoleBinding) error {
	query := `
		INSERT INTO workflow.stage_roles (
			stage_id, role_id,
			can_approve, can_reject, can_review, can_view,
			can_edit, can_delete, can_create_case, can_fill_case,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	_, err := r.pool.Exec(ctx, query,
		b.StageID, b.RoleID,
		b.CanApprove, b.CanReject, b.CanReview, b.CanView,
		b.CanEdit, b.CanDelete, b.CanCreateCase, b.CanFillCase,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("role is already bound to this stage")
		}
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("stage or role", b.StageID.String())
		}
		return errors.Wrap(err, "failed to add role binding")
	}

	return nil
}

// UpdateRoleBinding replaces the full flag set of an existing binding
func (r *PostgresRepository) UpdateRoleBinding(ctx context.Context, stageID, roleID types.ID, flags RoleFlags) error {
	query := `
		UPDATE workflow.stage_roles SET
			can_approve = $3, can_reject = $4, can_review = $5, can_view = $6,
			can_edit = $7, can_delete = $8, can_create_case = $9, can_fill_case = $10,
			updated_at = NOW()
		WHERE stage_id = $1 AND role_id = $2`

	result, err := r.pool.Exec(ctx, query,
		stageID, roleID,
		flags.CanApprove, flags.CanReject, flags.CanReview, flags.CanView,
		flags.CanEdit, flags.CanDelete, flags.CanCreateCase, flags.CanFillCase,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update role binding")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("role binding", roleID.String())
	}

	return nil
}

// RemoveRoleBinding deletes a binding. User bindings for users holding
// that role stay in place, dormant until the role is bound again.
func (r *PostgresRepository) RemoveRoleBinding(ctx context.Context, stageID, roleID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM workflow.stage_roles WHERE stage_id = $1 AND role_id = $2`,
		stageID, roleID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to remove role binding")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("role binding", roleID.String())
	}

	return nil
}

// --- User bindings ---

const userBindingColumns = `su.stage_id, su.user_id,
	su.can_approve, su.can_review, su.can_view, su.can_create_case, su.can_fill_case,
	su.created_at, su.updated_at, u.full_name`

// ListUserBindings lists all user bindings for a stage
func (r *PostgresRepository) ListUserBindings(ctx context.Context, stageID types.ID) ([]UserBinding, error) {
	query := `SELECT ` + userBindingColumns + `
		FROM workflow.stage_users su
		JOIN identity.users u ON u.id = su.user_id
		WHERE su.stage_id = $1
		ORDER BY u.full_name`

	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user bindings")
	}
	defer rows.Close()

	var bindings []UserBinding
	for rows.Next() {
		b, err := scanUserBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, *b)
	}

	return bindings, nil
}

// GetUserBinding retrieves the binding for a (stage, user) pair
func (r *PostgresRepository) GetUserBinding(ctx context.Context, stageID, userID types.ID) (*UserBinding, error) {
	query := `SELECT ` + userBindingColumns + `
		FROM workflow.stage_users su
		JOIN identity.users u ON u.id = su.user_id
		WHERE su.stage_id = $1 AND su.user_id = $2`

	b, err := scanUserBinding(r.pool.QueryRow(ctx, query, stageID, userID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user binding", userID.String())
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AddUserBinding inserts a binding; a duplicate pair is a conflict
func (r *PostgresRepository) AddUserBinding(ctx context.Context, b *UserBinding) error {
	query := `
		INSERT INTO workflow.stage_users (
			stage_id, user_id,
			can_approve, can_review, can_view, can_create_case, can_fill_case,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err := r.pool.Exec(ctx, query,
		b.StageID, b.UserID,
		b.CanApprove, b.CanReview, b.CanView, b.CanCreateCase, b.CanFillCase,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user is already bound to this stage")
		}
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("stage or user", b.StageID.String())
		}
		return errors.Wrap(err, "failed to add user binding")
	}

	return nil
}

// UpdateUserBinding replaces the full flag set of an existing binding
func (r *PostgresRepository) UpdateUserBinding(ctx context.Context, stageID, userID types.ID, flags UserFlags) error {
	query := `
		UPDATE workflow.stage_users SET
			can_approve = $3, can_review = $4, can_view = $5,
			can_create_case = $6, can_fill_case = $7,
			updated_at = NOW()
		WHERE stage_id = $1 AND user_id = $2`

	result, err := r.pool.Exec(ctx, query,
		stageID, userID,
		flags.CanApprove, flags.CanReview, flags.CanView,
		flags.CanCreateCase, flags.CanFillCase,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update user binding")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user binding", userID.String())
	}

	return nil
}

// RemoveUserBinding deletes a user binding
func (r *PostgresRepository) RemoveUserBinding(ctx context.Context, stageID, userID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM workflow.stage_users WHERE stage_id = $1 AND user_id = $2`,
		stageID, userID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to remove user binding")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user binding", userID.String())
	}

	return nil
}

// --- Selector helpers ---

// AvailableRoles returns active roles not yet bound to the stage
func (r *PostgresRepository) AvailableRoles(ctx context.Context, stageID types.ID) ([]RoleRef, error) {
	query := `
		SELECT id, name, display_name FROM identity.roles
		WHERE is_active
		AND id NOT IN (SELECT role_id FROM workflow.stage_roles WHERE stage_id = $1)
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list available roles")
	}
	defer rows.Close()

	var refs []RoleRef
	for rows.Next() {
		var ref RoleRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.DisplayName); err != nil {
			return nil, errors.Wrap(err, "failed to scan role")
		}
		refs = append(refs, ref)
	}

	return refs, nil
}

// AvailableUsers returns active users not yet bound to the stage. Once
// the stage has at least one role binding, candidates are limited to
// users whose role is bound; with no role bound yet, any user qualifies.
func (r *PostgresRepository) AvailableUsers(ctx context.Context, stageID types.ID) ([]UserRef, error) {
	query := `
		SELECT u.id, u.full_name FROM identity.users u
		WHERE u.is_active
		AND u.id NOT IN (SELECT user_id FROM workflow.stage_users WHERE stage_id = $1)
		AND (
			NOT EXISTS (SELECT 1 FROM workflow.stage_roles WHERE stage_id = $1)
			OR u.role_id IN (SELECT role_id FROM workflow.stage_roles WHERE stage_id = $1)
		)
		ORDER BY u.full_name`

	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list available users")
	}
	defer rows.Close()

	return scanUserRefs(rows)
}

// AvailableCounselors returns the users bound to the counselor stage of
// a case type, filtered to the case's area when one is set. The
// population is chosen before the area filter: explicit user bindings
// when the stage has any, otherwise users holding a stage-bound role.
// A stage with user bindings that all sit outside the area yields an
// empty sequence, never the role-bound fallback. An empty result is not
// an error.
func (r *PostgresRepository) AvailableCounselors(ctx context.Context, caseTypeID types.ID, stageKey string, jamiatID, jamaatID *types.ID) ([]UserRef, error) {
	stage, err := r.FindStageByKey(ctx, caseTypeID, stageKey)
	if err != nil {
		return nil, err
	}

	userBound, err := r.counselorCandidates(ctx, `
		SELECT u.id, u.full_name, u.jamiat_id, u.jamaat_id
		FROM workflow.stage_users su
		JOIN identity.users u ON u.id = su.user_id
		WHERE su.stage_id = $1 AND u.is_active
		ORDER BY u.full_name`, stage.ID)
	if err != nil {
		return nil, err
	}

	var roleBound []counselorCandidate
	if len(userBound) == 0 {
		roleBound, err = r.counselorCandidates(ctx, `
			SELECT u.id, u.full_name, u.jamiat_id, u.jamaat_id
			FROM workflow.stage_roles sr
			JOIN identity.users u ON u.role_id = sr.role_id
			WHERE sr.stage_id = $1 AND u.is_active
			ORDER BY u.full_name`, stage.ID)
		if err != nil {
			return nil, err
		}
	}

	return selectCounselors(userBound, roleBound, jamiatID, jamaatID), nil
}

// counselorCandidate is a stage-bound user with the area fields the
// assignment filter needs
type counselorCandidate struct {
	ref      UserRef
	jamiatID *types.ID
	jamaatID *types.ID
}

func (r *PostgresRepository) counselorCandidates(ctx context.Context, query string, stageID types.ID) ([]counselorCandidate, error) {
	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list counselor candidates")
	}
	defer rows.Close()

	var candidates []counselorCandidate
	for rows.Next() {
		var cand counselorCandidate
		if err := rows.Scan(&cand.ref.ID, &cand.ref.FullName, &cand.jamiatID, &cand.jamaatID); err != nil {
			return nil, errors.Wrap(err, "failed to scan counselor candidate")
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// selectCounselors picks the user-bound population when one exists and
// only then applies the area filter. A jamaat narrows harder than a
// jamiat; with no area set the whole population passes.
func selectCounselors(userBound, roleBound []counselorCandidate, jamiatID, jamaatID *types.ID) []UserRef {
	pool := userBound
	if len(pool) == 0 {
		pool = roleBound
	}

	refs := make([]UserRef, 0, len(pool))
	for _, cand := range pool {
		switch {
		case jamiatID == nil && jamaatID == nil:
		case jamaatID != nil:
			if cand.jamaatID == nil || *cand.jamaatID != *jamaatID {
				continue
			}
		default:
			if cand.jamiatID == nil || *cand.jamiatID != *jamiatID {
				continue
			}
		}
		refs = append(refs, cand.ref)
	}

	return refs
}

// --- scan helpers ---

func scanStage(row pgx.Row) (*Stage, error) {
	stage := &Stage{}
	err := row.Scan(
		&stage.ID, &stage.CaseTypeID, &stage.StageName, &stage.StageKey, &stage.Description,
		&stage.SortOrder, &stage.IsActive,
		&stage.SLAValue, &stage.SLAUnit, &stage.SLAWarningValue, &stage.SLAWarningUnit,
		&stage.CreatedAt, &stage.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan stage")
	}
	return stage, nil
}

func scanRoleBinding(row pgx.Row) (*RoleBinding, error) {
	b := &RoleBinding{}
	err := row.Scan(
		&b.StageID, &b.RoleID,
		&b.CanApprove, &b.CanReject, &b.CanReview, &b.CanView,
		&b.CanEdit, &b.CanDelete, &b.CanCreateCase, &b.CanFillCase,
		&b.CreatedAt, &b.UpdatedAt, &b.RoleName,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan role binding")
	}
	return b, nil
}

func scanUserBinding(row pgx.Row) (*UserBinding, error) {
	b := &UserBinding{}
	err := row.Scan(
		&b.StageID, &b.UserID,
		&b.CanApprove, &b.CanReview, &b.CanView, &b.CanCreateCase, &b.CanFillCase,
		&b.CreatedAt, &b.UpdatedAt, &b.FullName,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan user binding")
	}
	return b, nil
}

func scanUserRefs(rows pgx.Rows) ([]UserRef, error) {
	var refs []UserRef
	for rows.Next() {
		var ref UserRef
		if err := rows.Scan(&ref.ID, &ref.FullName); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
