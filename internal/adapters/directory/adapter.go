// Package directory connects to the legacy ITS membership directory
// (SQL Server) and keeps user area assignments in sync with it.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/sirupsen/logrus"

	"github.com/openwelfare/caseflow/internal/shared/config"
)

// MemberRecord is a membership directory row
type MemberRecord struct {
	ITSNumber  string     `json:"its_number"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email,omitempty"`
	JamiatCode string     `json:"jamiat_code,omitempty"`
	JamaatCode string     `json:"jamaat_code,omitempty"`
	IsActive   bool       `json:"is_active"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Adapter reads the membership directory over SQL Server
type Adapter struct {
	cfg    config.DirectoryConfig
	logger *logrus.Logger

	db      *sql.DB
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a directory adapter
func New(cfg config.DirectoryConfig, logger *logrus.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger}
}

// Start opens the database connection and begins the sync loop
func (a *Adapter) Start(ctx context.Context, syncer Syncer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("directory adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s;encrypt=true;TrustServerCertificate=true",
		a.cfg.Host, a.cfg.Port, a.cfg.Database, a.cfg.User, a.cfg.Password)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open directory database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping directory database: %w", err)
	}

	a.db = db
	a.running = true

	syncCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.syncLoop(syncCtx, syncer)

	return nil
}

// Stop stops the sync loop and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks directory connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("directory adapter not running")
	}
	return a.db.PingContext(ctx)
}

// Lookup fetches a single member record by ITS number
func (a *Adapter) Lookup(ctx context.Context, itsNumber string) (*MemberRecord, error) {
	a.mu.RLock()
	db := a.db
	running := a.running
	a.mu.RUnlock()

	if !running {
		return nil, fmt.Errorf("directory adapter not running")
	}

	query := fmt.Sprintf(`
		SELECT ITSNumber, FullName, Email, JamiatCode, JamaatCode, IsActive, LastModified
		FROM %s
		WHERE ITSNumber = @its`, a.cfg.MemberTable)

	row := db.QueryRowContext(ctx, query, sql.Named("its", itsNumber))

	var record MemberRecord
	var email, jamiatCode, jamaatCode sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(&record.ITSNumber, &record.FullName, &email,
		&jamiatCode, &jamaatCode, &record.IsActive, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member not found: %s", itsNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}

	if email.Valid {
		record.Email = email.String
	}
	if jamiatCode.Valid {
		record.JamiatCode = jamiatCode.String
	}
	if jamaatCode.Valid {
		record.JamaatCode = jamaatCode.String
	}
	if updatedAt.Valid {
		record.UpdatedAt = &updatedAt.Time
	}

	return &record, nil
}

// changedSince fetches members modified after the given time
func (a *Adapter) changedSince(ctx context.Context, since time.Time) ([]MemberRecord, error) {
	query := fmt.Sprintf(`
		SELECT ITSNumber, FullName, Email, JamiatCode, JamaatCode, IsActive, LastModified
		FROM %s
		WHERE LastModified > @since
		ORDER BY LastModified ASC`, a.cfg.MemberTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, fmt.Errorf("failed to query changed members: %w", err)
	}
	defer rows.Close()

	var records []MemberRecord
	for rows.Next() {
		var record MemberRecord
		var email, jamiatCode, jamaatCode sql.NullString
		var updatedAt sql.NullTime

		if err := rows.Scan(&record.ITSNumber, &record.FullName, &email,
			&jamiatCode, &jamaatCode, &record.IsActive, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		if email.Valid {
			record.Email = email.String
		}
		if jamiatCode.Valid {
			record.JamiatCode = jamiatCode.String
		}
		if jamaatCode.Valid {
			record.JamaatCode = jamaatCode.String
		}
		if updatedAt.Valid {
			record.UpdatedAt = &updatedAt.Time
		}

		records = append(records, record)
	}

	return records, nil
}

func (a *Adapter) syncLoop(ctx context.Context, syncer Syncer) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	lastPoll := time.Now().Add(-a.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := lastPoll
			lastPoll = time.Now()

			records, err := a.changedSince(ctx, since)
			if err != nil {
				a.logger.WithError(err).Warn("directory poll failed")
				continue
			}
			if len(records) == 0 {
				continue
			}

			applied, err := syncer.Apply(ctx, records)
			if err != nil {
				a.logger.WithError(err).Warn("directory sync failed")
				continue
			}

			a.logger.WithFields(logrus.Fields{
				"changed": len(records),
				"applied": applied,
			}).Info("directory sync completed")
		}
	}
}
