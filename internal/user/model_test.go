package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

func TestNew(t *testing.T) {
	roleID := types.NewID()

	t.Run("valid user", func(t *testing.T) {
		u, err := New(Attrs{
			ITSNumber: "20412345",
			FullName:  "Amina Hodzic",
			Email:     "amina@example.org",
			RoleID:    &roleID,
		})
		require.NoError(t, err)
		assert.True(t, u.IsActive)
		assert.Equal(t, "20412345", u.ITSNumber)
		assert.Equal(t, &roleID, u.RoleID)
	})

	t.Run("its number is optional", func(t *testing.T) {
		u, err := New(Attrs{FullName: "Amina Hodzic", Email: "amina@example.org"})
		require.NoError(t, err)
		assert.Empty(t, u.ITSNumber)
	})

	t.Run("missing full name", func(t *testing.T) {
		_, err := New(Attrs{Email: "amina@example.org"})
		assert.Error(t, err)
	})

	t.Run("bad email", func(t *testing.T) {
		_, err := New(Attrs{FullName: "Amina Hodzic", Email: "not-an-email"})
		assert.Error(t, err)
	})

	for _, its := range []string{"1234567", "123456789", "2041234a"} {
		t.Run("bad its number "+its, func(t *testing.T) {
			_, err := New(Attrs{FullName: "Amina Hodzic", Email: "amina@example.org", ITSNumber: its})
			assert.Error(t, err)
		})
	}
}
