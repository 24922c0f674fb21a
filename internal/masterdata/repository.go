package masterdata

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Repository provides database operations for master data
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Jamiats ---

func (r *Repository) CreateJamiat(ctx context.Context, j *Jamiat) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO masterdata.jamiats (id, code, name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.Code, j.Name, j.IsActive, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("jamiat with this code already exists")
		}
		return errors.Wrap(err, "failed to create jamiat")
	}
	return nil
}

func (r *Repository) GetJamiat(ctx context.Context, id types.ID) (*Jamiat, error) {
	j := &Jamiat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, is_active, created_at, updated_at
		 FROM masterdata.jamiats WHERE id = $1`, id,
	).Scan(&j.ID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("jamiat", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get jamiat")
	}
	return j, nil
}

func (r *Repository) ListJamiats(ctx context.Context) ([]Jamiat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, name, is_active, created_at, updated_at
		 FROM masterdata.jamiats WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jamiats")
	}
	defer rows.Close()

	var jamiats []Jamiat
	for rows.Next() {
		var j Jamiat
		if err := rows.Scan(&j.ID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan jamiat")
		}
		jamiats = append(jamiats, j)
	}
	return jamiats, nil
}

func (r *Repository) UpdateJamiat(ctx context.Context, j *Jamiat) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE masterdata.jamiats SET code = $2, name = $3, is_active = $4, updated_at = NOW()
		 WHERE id = $1`,
		j.ID, j.Code, j.Name, j.IsActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("jamiat with this code already exists")
		}
		return errors.Wrap(err, "failed to update jamiat")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("jamiat", j.ID.String())
	}
	return nil
}

// GetJamiatByCode retrieves a jamiat by its unique code
func (r *Repository) GetJamiatByCode(ctx context.Context, code string) (*Jamiat, error) {
	j := &Jamiat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, is_active, created_at, updated_at
		 FROM masterdata.jamiats WHERE code = $1`, code,
	).Scan(&j.ID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("jamiat", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get jamiat")
	}
	return j, nil
}

// --- Jamaats ---

func (r *Repository) CreateJamaat(ctx context.Context, j *Jamaat) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO masterdata.jamaats (id, jamiat_id, code, name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.JamiatID, j.Code, j.Name, j.IsActive, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("jamaat with this code already exists")
		}
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("jamiat", j.JamiatID.String())
		}
		return errors.Wrap(err, "failed to create jamaat")
	}
	return nil
}

func (r *Repository) GetJamaat(ctx context.Context, id types.ID) (*Jamaat, error) {
	j := &Jamaat{}
	err := r.pool.QueryRow(ctx,
		`SELECT jm.id, jm.jamiat_id, jm.code, jm.name, jm.is_active, jm.created_at, jm.updated_at, ji.name
		 FROM masterdata.jamaats jm
		 JOIN masterdata.jamiats ji ON ji.id = jm.jamiat_id
		 WHERE jm.id = $1`, id,
	).Scan(&j.ID, &j.JamiatID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt, &j.JamiatName)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("jamaat", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get jamaat")
	}
	return j, nil
}

// GetJamaatByCode retrieves a jamaat by its unique code
func (r *Repository) GetJamaatByCode(ctx context.Context, code string) (*Jamaat, error) {
	j := &Jamaat{}
	err := r.pool.QueryRow(ctx,
		`SELECT jm.id, jm.jamiat_id, jm.code, jm.name, jm.is_active, jm.created_at, jm.updated_at, ji.name
		 FROM masterdata.jamaats jm
		 JOIN masterdata.jamiats ji ON ji.id = jm.jamiat_id
		 WHERE jm.code = $1`, code,
	).Scan(&j.ID, &j.JamiatID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt, &j.JamiatName)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("jamaat", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get jamaat")
	}
	return j, nil
}

// ListJamaats lists active jamaats, optionally filtered to one jamiat
func (r *Repository) ListJamaats(ctx context.Context, jamiatID *types.ID) ([]Jamaat, error) {
	query := `SELECT jm.id, jm.jamiat_id, jm.code, jm.name, jm.is_active, jm.created_at, jm.updated_at, ji.name
		FROM masterdata.jamaats jm
		JOIN masterdata.jamiats ji ON ji.id = jm.jamiat_id
		WHERE jm.is_active`
	args := []any{}
	if jamiatID != nil {
		query += ` AND jm.jamiat_id = $1`
		args = append(args, *jamiatID)
	}
	query += ` ORDER BY jm.name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jamaats")
	}
	defer rows.Close()

	var jamaats []Jamaat
	for rows.Next() {
		var j Jamaat
		if err := rows.Scan(&j.ID, &j.JamiatID, &j.Code, &j.Name, &j.IsActive, &j.CreatedAt, &j.UpdatedAt, &j.JamiatName); err != nil {
			return nil, errors.Wrap(err, "failed to scan jamaat")
		}
		jamaats = append(jamaats, j)
	}
	return jamaats, nil
}

func (r *Repository) UpdateJamaat(ctx context.Context, j *Jamaat) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE masterdata.jamaats SET jamiat_id = $2, code = $3, name = $4, is_active = $5, updated_at = NOW()
		 WHERE id = $1`,
		j.ID, j.JamiatID, j.Code, j.Name, j.IsActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("jamaat with this code already exists")
		}
		return errors.Wrap(err, "failed to update jamaat")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("jamaat", j.ID.String())
	}
	return nil
}

// --- Case types ---

func (r *Repository) CreateCaseType(ctx context.Context, ct *CaseType) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO masterdata.case_types (id, code, name, description, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ct.ID, ct.Code, ct.Name, ct.Description, ct.IsActive, ct.CreatedAt, ct.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("case type with this code already exists")
		}
		return errors.Wrap(err, "failed to create case type")
	}
	return nil
}

func (r *Repository) GetCaseType(ctx context.Context, id types.ID) (*CaseType, error) {
	ct := &CaseType{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, description, is_active, created_at, updated_at
		 FROM masterdata.case_types WHERE id = $1`, id,
	).Scan(&ct.ID, &ct.Code, &ct.Name, &ct.Description, &ct.IsActive, &ct.CreatedAt, &ct.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case type", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get case type")
	}
	return ct, nil
}

func (r *Repository) ListCaseTypes(ctx context.Context, includeInactive bool) ([]CaseType, error) {
	query := `SELECT id, code, name, description, is_active, created_at, updated_at
		FROM masterdata.case_types`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list case types")
	}
	defer rows.Close()

	var caseTypes []CaseType
	for rows.Next() {
		var ct CaseType
		if err := rows.Scan(&ct.ID, &ct.Code, &ct.Name, &ct.Description, &ct.IsActive, &ct.CreatedAt, &ct.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan case type")
		}
		caseTypes = append(caseTypes, ct)
	}
	return caseTypes, nil
}

func (r *Repository) UpdateCaseType(ctx context.Context, ct *CaseType) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE masterdata.case_types SET code = $2, name = $3, description = $4, is_active = $5, updated_at = NOW()
		 WHERE id = $1`,
		ct.ID, ct.Code, ct.Name, ct.Description, ct.IsActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("case type with this code already exists")
		}
		return errors.Wrap(err, "failed to update case type")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("case type", ct.ID.String())
	}
	return nil
}

// --- Lookups (occupations, relations) ---

// lookupTables maps the lookup kind to its table. Only these two exist;
// anything else is a caller bug.
var lookupTables = map[string]string{
	"occupations": "masterdata.occupations",
	"relations":   "masterdata.relations",
}

func (r *Repository) CreateLookup(ctx context.Context, kind string, l *Lookup) error {
	table, ok := lookupTables[kind]
	if !ok {
		return errors.Internal(nil)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.Name, l.IsActive, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("value with this name already exists")
		}
		return errors.Wrap(err, "failed to create lookup value")
	}
	return nil
}

func (r *Repository) ListLookups(ctx context.Context, kind string) ([]Lookup, error) {
	table, ok := lookupTables[kind]
	if !ok {
		return nil, errors.Internal(nil)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, is_active, created_at, updated_at FROM `+table+`
		 WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list lookup values")
	}
	defer rows.Close()

	var lookups []Lookup
	for rows.Next() {
		var l Lookup
		if err := rows.Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan lookup value")
		}
		lookups = append(lookups, l)
	}
	return lookups, nil
}

func (r *Repository) DeactivateLookup(ctx context.Context, kind string, id types.ID) error {
	table, ok := lookupTables[kind]
	if !ok {
		return errors.Internal(nil)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate lookup value")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("lookup value", id.String())
	}
	return nil
}
