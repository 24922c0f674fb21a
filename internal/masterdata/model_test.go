package masterdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

func TestNewJamiat(t *testing.T) {
	jamiat, err := NewJamiat("SRB", "Serbia")
	require.NoError(t, err)
	assert.True(t, jamiat.IsActive)
	assert.False(t, jamiat.ID.IsZero())

	_, err = NewJamiat("", "Serbia")
	assert.Error(t, err)
	_, err = NewJamiat("SRB", "")
	assert.Error(t, err)
}

func TestNewJamaat(t *testing.T) {
	jamiatID := types.NewID()

	jamaat, err := NewJamaat(jamiatID, "BG", "Belgrade")
	require.NoError(t, err)
	assert.Equal(t, jamiatID, jamaat.JamiatID)
	assert.True(t, jamaat.IsActive)

	_, err = NewJamaat(types.ID(""), "BG", "Belgrade")
	assert.Error(t, err)
	_, err = NewJamaat(jamiatID, "", "Belgrade")
	assert.Error(t, err)
}

func TestNewCaseType(t *testing.T) {
	caseType, err := NewCaseType("housing", "Housing Assistance", "Housing support cases")
	require.NoError(t, err)
	assert.True(t, caseType.IsActive)

	// Description is optional
	caseType, err = NewCaseType("medical", "Medical Assistance", "")
	require.NoError(t, err)
	assert.Empty(t, caseType.Description)

	_, err = NewCaseType("", "Housing", "")
	assert.Error(t, err)
}

func TestNewLookup(t *testing.T) {
	lookup, err := NewLookup("Carpenter")
	require.NoError(t, err)
	assert.True(t, lookup.IsActive)

	_, err = NewLookup("")
	assert.Error(t, err)
}
