package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	payload := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": 2, "a": []any{"x", "y"}},
		"mid":   nil,
	}

	first, err := canonicalJSON(payload)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := canonicalJSON(payload)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}

	assert.Equal(t, `{"alpha":{"a":["x","y"],"b":2},"mid":null,"zeta":1}`, string(first))
}

func TestAuditEntryHash(t *testing.T) {
	entry := NewAuditEntry(types.NewID(), "supervisor", "case.approved", "case",
		map[string]any{"status": "counselor"})
	entry.PrevHash = "abc123"
	entry.Hash = entry.ComputeHash()

	assert.True(t, entry.VerifyHash())

	t.Run("changing content breaks the hash", func(t *testing.T) {
		tampered := *entry
		tampered.Action = "case.deleted"
		assert.False(t, tampered.VerifyHash())
	})

	t.Run("changing the chain link breaks the hash", func(t *testing.T) {
		tampered := *entry
		tampered.PrevHash = "different"
		assert.False(t, tampered.VerifyHash())
	})

	t.Run("hash ignores map ordering", func(t *testing.T) {
		assert.Equal(t, entry.ComputeHash(), entry.ComputeHash())
	})
}
