package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

func validAttrs() Attrs {
	return Attrs{
		CaseTypeID:    types.NewID(),
		ApplicantName: "Emir Kovac",
		Description:   "Housing support request",
	}
}

func TestNewCase(t *testing.T) {
	createdBy := types.NewID()

	c, err := NewCase(validAttrs(), "intake", createdBy)
	require.NoError(t, err)
	assert.Equal(t, "intake", c.Status)
	assert.Equal(t, createdBy, c.CreatedBy)
	assert.False(t, c.IsClosed())
	assert.Nil(t, c.ClosedAt)

	_, err = NewCase(Attrs{ApplicantName: "Emir Kovac"}, "intake", createdBy)
	assert.Error(t, err, "case type required")

	_, err = NewCase(Attrs{CaseTypeID: types.NewID()}, "intake", createdBy)
	assert.Error(t, err, "applicant name required")

	_, err = NewCase(validAttrs(), "", createdBy)
	assert.Error(t, err, "initial status required")
}

func TestCaseLifecycle(t *testing.T) {
	c, err := NewCase(validAttrs(), "intake", types.NewID())
	require.NoError(t, err)

	counselorID := types.NewID()
	require.NoError(t, c.AssignCounselor(&counselorID))
	assert.Equal(t, &counselorID, c.AssignedCounselorID)

	require.NoError(t, c.AssignCounselor(nil))
	assert.Nil(t, c.AssignedCounselorID)

	require.NoError(t, c.Advance("counselor"))
	assert.Equal(t, "counselor", c.Status)

	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	require.NotNil(t, c.ClosedAt)

	assert.Error(t, c.Advance("intake"), "closed cases do not move")
	assert.Error(t, c.AssignCounselor(&counselorID), "closed cases cannot be reassigned")
	assert.Error(t, c.Close(), "close is not idempotent")
}
