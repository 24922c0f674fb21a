package directory

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/openwelfare/caseflow/internal/masterdata"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
	"github.com/openwelfare/caseflow/internal/user"
)

// Syncer applies a batch of directory records and reports how many were
// applied.
type Syncer interface {
	Apply(ctx context.Context, records []MemberRecord) (int, error)
}

// UserSyncer updates user area assignments from directory records. The
// directory is authoritative for where a member lives; local user data
// (role, email) is never touched.
type UserSyncer struct {
	users  *user.Repository
	areas  *masterdata.Repository
	logger *logrus.Logger
}

// NewUserSyncer creates a user syncer
func NewUserSyncer(users *user.Repository, areas *masterdata.Repository, logger *logrus.Logger) *UserSyncer {
	return &UserSyncer{users: users, areas: areas, logger: logger}
}

// Apply matches records to local users by ITS number and updates their
// jamiat/jamaat. Unknown members and unknown area codes are skipped;
// one bad record does not abort the batch.
func (s *UserSyncer) Apply(ctx context.Context, records []MemberRecord) (int, error) {
	applied := 0

	for _, record := range records {
		u, err := s.users.GetByITSNumber(ctx, record.ITSNumber)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return applied, err
		}

		jamiatID, jamaatID, err := s.resolveArea(ctx, record)
		if err != nil {
			s.logger.WithError(err).WithField("its_number", record.ITSNumber).
				Warn("skipping directory record with unknown area")
			continue
		}

		if areaEqual(u.JamiatID, jamiatID) && areaEqual(u.JamaatID, jamaatID) {
			continue
		}

		if err := s.users.UpdateArea(ctx, u.ID, jamiatID, jamaatID); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}

// Directory is the lookup surface the reconcile pass needs.
type Directory interface {
	Lookup(ctx context.Context, itsNumber string) (*MemberRecord, error)
}

// Reconcile walks every local user that carries a membership number and
// refreshes their area from the directory. The poll loop only sees
// records changed since startup, so this runs once to catch drift
// accumulated while the service was down.
func (s *UserSyncer) Reconcile(ctx context.Context, dir Directory) (int, error) {
	users, err := s.users.ListWithITSNumber(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, u := range users {
		record, err := dir.Lookup(ctx, u.ITSNumber)
		if err != nil {
			s.logger.WithError(err).WithField("its_number", u.ITSNumber).
				Debug("member not found in directory during reconcile")
			continue
		}

		n, err := s.Apply(ctx, []MemberRecord{*record})
		if err != nil {
			return applied, err
		}
		applied += n
	}

	return applied, nil
}

// resolveArea maps directory codes to local area IDs. The jamaat code
// wins when present; its parent jamiat is implied.
func (s *UserSyncer) resolveArea(ctx context.Context, record MemberRecord) (*types.ID, *types.ID, error) {
	if record.JamaatCode != "" {
		jamaat, err := s.areas.GetJamaatByCode(ctx, record.JamaatCode)
		if err != nil {
			return nil, nil, err
		}
		return &jamaat.JamiatID, &jamaat.ID, nil
	}

	if record.JamiatCode != "" {
		jamiat, err := s.areas.GetJamiatByCode(ctx, record.JamiatCode)
		if err != nil {
			return nil, nil, err
		}
		return &jamiat.ID, nil, nil
	}

	return nil, nil, nil
}

func areaEqual(a, b *types.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
