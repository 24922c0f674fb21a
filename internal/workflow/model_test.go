package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

func intPtr(v int) *int          { return &v }
func unitPtr(u SLAUnit) *SLAUnit { return &u }

func TestNewStage(t *testing.T) {
	caseTypeID := types.NewID()

	t.Run("valid stage", func(t *testing.T) {
		stage, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Counselor Review",
			StageKey:  "counselor",
		})
		require.NoError(t, err)
		assert.Equal(t, caseTypeID, stage.CaseTypeID)
		assert.Equal(t, "counselor", stage.StageKey)
		assert.True(t, stage.IsActive)
		assert.Equal(t, -1, stage.SortOrder, "sort order left for the repository to assign")
		assert.False(t, stage.ID.IsZero())
	})

	t.Run("explicit sort order", func(t *testing.T) {
		stage, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Final Approval",
			StageKey:  "final_approval",
			SortOrder: intPtr(3),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, stage.SortOrder)
	})

	t.Run("missing case type", func(t *testing.T) {
		_, err := NewStage(types.ID(""), StageAttrs{StageName: "X", StageKey: "x"})
		assert.Error(t, err)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{StageKey: "x"})
		assert.Error(t, err)
	})

	for _, key := range []string{"", "Counselor", "stage-1", "stage 1", "stage1"} {
		t.Run("bad key "+key, func(t *testing.T) {
			_, err := NewStage(caseTypeID, StageAttrs{StageName: "X", StageKey: key})
			assert.Error(t, err)
		})
	}

	t.Run("valid SLA", func(t *testing.T) {
		stage, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Review",
			StageKey:  "review",
			SLAValue:  intPtr(5),
			SLAUnit:   unitPtr(SLAUnitBusinessDays),
		})
		require.NoError(t, err)
		assert.Equal(t, 5, *stage.SLAValue)
	})

	t.Run("SLA value without unit", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Review",
			StageKey:  "review",
			SLAValue:  intPtr(5),
		})
		assert.Error(t, err)
	})

	t.Run("SLA unit without value", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Review",
			StageKey:  "review",
			SLAUnit:   unitPtr(SLAUnitDays),
		})
		assert.Error(t, err)
	})

	t.Run("non-positive SLA value", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Review",
			StageKey:  "review",
			SLAValue:  intPtr(0),
			SLAUnit:   unitPtr(SLAUnitDays),
		})
		assert.Error(t, err)
	})

	t.Run("invalid SLA unit", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{
			StageName: "Review",
			StageKey:  "review",
			SLAValue:  intPtr(5),
			SLAUnit:   unitPtr(SLAUnit("fortnights")),
		})
		assert.Error(t, err)
	})

	t.Run("warning SLA validated independently", func(t *testing.T) {
		_, err := NewStage(caseTypeID, StageAttrs{
			StageName:       "Review",
			StageKey:        "review",
			SLAValue:        intPtr(5),
			SLAUnit:         unitPtr(SLAUnitDays),
			SLAWarningValue: intPtr(-2),
			SLAWarningUnit:  unitPtr(SLAUnitDays),
		})
		assert.Error(t, err)
	})
}

func TestValidSLAUnit(t *testing.T) {
	for _, u := range []SLAUnit{SLAUnitHours, SLAUnitDays, SLAUnitBusinessDays, SLAUnitWeeks, SLAUnitMonths} {
		assert.True(t, ValidSLAUnit(u), string(u))
	}
	assert.False(t, ValidSLAUnit("minutes"))
	assert.False(t, ValidSLAUnit(""))
}

func makeStages(n int) []Stage {
	stages := make([]Stage, n)
	for i := range stages {
		stages[i] = Stage{ID: types.NewID(), SortOrder: i, IsActive: true}
	}
	return stages
}

func TestPlanReorder(t *testing.T) {
	stages := makeStages(3)

	t.Run("reversal renumbers densely", func(t *testing.T) {
		plan, err := planReorder(stages, []types.ID{stages[2].ID, stages[1].ID, stages[0].ID})
		require.NoError(t, err)
		assert.Equal(t, 0, plan[stages[2].ID])
		assert.Equal(t, 1, plan[stages[1].ID])
		assert.Equal(t, 2, plan[stages[0].ID])
	})

	t.Run("identity order is allowed", func(t *testing.T) {
		plan, err := planReorder(stages, []types.ID{stages[0].ID, stages[1].ID, stages[2].ID})
		require.NoError(t, err)
		for i, s := range stages {
			assert.Equal(t, i, plan[s.ID])
		}
	})

	t.Run("too few ids", func(t *testing.T) {
		_, err := planReorder(stages, []types.ID{stages[0].ID, stages[1].ID})
		assert.Error(t, err)
	})

	t.Run("too many ids", func(t *testing.T) {
		_, err := planReorder(stages, []types.ID{stages[0].ID, stages[1].ID, stages[2].ID, types.NewID()})
		assert.Error(t, err)
	})

	t.Run("foreign id", func(t *testing.T) {
		_, err := planReorder(stages, []types.ID{stages[0].ID, stages[1].ID, types.NewID()})
		assert.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := planReorder(stages, []types.ID{stages[0].ID, stages[1].ID, stages[1].ID})
		assert.Error(t, err)
	})

	t.Run("empty set", func(t *testing.T) {
		plan, err := planReorder(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, plan)
	})
}

func TestDefaultRoleFlags(t *testing.T) {
	flags := DefaultRoleFlags()
	assert.True(t, flags.CanView)
	assert.False(t, flags.CanApprove)
	assert.False(t, flags.CanReject)
	assert.False(t, flags.CanReview)
	assert.False(t, flags.CanEdit)
	assert.False(t, flags.CanDelete)
	assert.False(t, flags.CanCreateCase)
	assert.False(t, flags.CanFillCase)
}

func TestSelectCounselors(t *testing.T) {
	jamiat := types.NewID()
	jamaat := types.NewID()
	otherJamiat := types.NewID()
	otherJamaat := types.NewID()

	candidate := func(name string, jamiatID, jamaatID *types.ID) counselorCandidate {
		return counselorCandidate{
			ref:      UserRef{ID: types.NewID(), FullName: name},
			jamiatID: jamiatID,
			jamaatID: jamaatID,
		}
	}

	t.Run("no area returns the whole population", func(t *testing.T) {
		pool := []counselorCandidate{
			candidate("Amina", &jamiat, &jamaat),
			candidate("Tarik", nil, nil),
		}
		refs := selectCounselors(pool, nil, nil, nil)
		assert.Len(t, refs, 2)
	})

	t.Run("jamaat narrows harder than jamiat", func(t *testing.T) {
		pool := []counselorCandidate{
			candidate("Amina", &jamiat, &jamaat),
			candidate("Tarik", &jamiat, &otherJamaat),
		}
		refs := selectCounselors(pool, nil, &jamiat, &jamaat)
		require.Len(t, refs, 1)
		assert.Equal(t, "Amina", refs[0].FullName)
	})

	t.Run("jamiat filter applies without a jamaat", func(t *testing.T) {
		pool := []counselorCandidate{
			candidate("Amina", &jamiat, nil),
			candidate("Tarik", &otherJamiat, nil),
		}
		refs := selectCounselors(pool, nil, &jamiat, nil)
		require.Len(t, refs, 1)
		assert.Equal(t, "Amina", refs[0].FullName)
	})

	t.Run("role-bound fallback only when no user bindings exist", func(t *testing.T) {
		roleBound := []counselorCandidate{candidate("Amina", &jamiat, nil)}

		refs := selectCounselors(nil, roleBound, &jamiat, nil)
		require.Len(t, refs, 1)
		assert.Equal(t, "Amina", refs[0].FullName)

		// User bindings outside the area mean nobody is available,
		// not a fall-through to role-bound users.
		userBound := []counselorCandidate{candidate("Tarik", &otherJamiat, nil)}
		refs = selectCounselors(userBound, roleBound, &jamiat, nil)
		assert.Empty(t, refs)
	})
}
