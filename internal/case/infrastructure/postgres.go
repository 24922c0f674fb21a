package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwelfare/caseflow/internal/case/domain"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL case repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ domain.Repository = (*PostgresRepository)(nil)

const caseColumns = `c.id, c.case_number, c.case_type_id, c.status, c.applicant_name, c.description,
	c.assigned_counselor_id, c.jamiat_id, c.jamaat_id, c.created_by,
	c.created_at, c.updated_at, c.closed_at, u.full_name`

const caseFrom = ` FROM cases.cases c LEFT JOIN identity.users u ON u.id = c.assigned_counselor_id`

// Create inserts a new case
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases.cases (
			id, case_number, case_type_id, status, applicant_name, description,
			assigned_counselor_id, jamiat_id, jamaat_id, created_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.CaseNumber, c.CaseTypeID, c.Status, c.ApplicantName, c.Description,
		c.AssignedCounselorID, c.JamiatID, c.JamaatID, c.CreatedBy,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("case number already exists")
		}
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("case type", c.CaseTypeID.String())
		}
		return errors.Wrap(err, "failed to create case")
	}

	return nil
}

// GetByID retrieves a case by ID
func (r *PostgresRepository) GetByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + caseFrom + ` WHERE c.id = $1`

	c, err := scanCase(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List lists cases matching the filter, newest first
func (r *PostgresRepository) List(ctx context.Context, filter domain.Filter) ([]domain.Case, error) {
	query := `SELECT ` + caseColumns + caseFrom + ` WHERE TRUE`
	args := []any{}

	addArg := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.CaseTypeID != nil {
		addArg(` AND c.case_type_id = $%d`, *filter.CaseTypeID)
	}
	if filter.Status != nil {
		addArg(` AND c.status = $%d`, *filter.Status)
	}
	if filter.CounselorID != nil {
		addArg(` AND c.assigned_counselor_id = $%d`, *filter.CounselorID)
	}
	if filter.JamiatID != nil {
		addArg(` AND c.jamiat_id = $%d`, *filter.JamiatID)
	}
	if filter.JamaatID != nil {
		addArg(` AND c.jamaat_id = $%d`, *filter.JamaatID)
	}

	query += ` ORDER BY c.created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}

	return cases, nil
}

// Update updates a case in place
func (r *PostgresRepository) Update(ctx context.Context, c *domain.Case) error {
	query := `
		UPDATE cases.cases SET
			status = $2, applicant_name = $3, description = $4,
			assigned_counselor_id = $5, jamiat_id = $6, jamaat_id = $7,
			updated_at = NOW(), closed_at = $8
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		c.ID, c.Status, c.ApplicantName, c.Description,
		c.AssignedCounselorID, c.JamiatID, c.JamaatID, c.ClosedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.NotFound("counselor", "")
		}
		return errors.Wrap(err, "failed to update case")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("case", c.ID.String())
	}

	return nil
}

// Delete removes a case
func (r *PostgresRepository) Delete(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM cases.cases WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete case")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("case", id.String())
	}

	return nil
}

// NextCaseNumber draws the next case number from the shared sequence,
// e.g. WLF-2026-000042.
func (r *PostgresRepository) NextCaseNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('cases.case_number_seq')`).Scan(&seq); err != nil {
		return "", errors.Wrap(err, "failed to draw case number")
	}
	return fmt.Sprintf("WLF-%d-%06d", time.Now().Year(), seq), nil
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	c := &domain.Case{}
	var counselorName *string

	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.CaseTypeID, &c.Status, &c.ApplicantName, &c.Description,
		&c.AssignedCounselorID, &c.JamiatID, &c.JamaatID, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt, &counselorName,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan case")
	}

	if counselorName != nil {
		c.CounselorName = *counselorName
	}

	return c, nil
}
