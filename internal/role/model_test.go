package role

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionSetUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PermissionSet
		wantErr bool
	}{
		{
			name:  "object form",
			input: `{"cases": ["update", "create"], "users": ["view"]}`,
			want:  PermissionSet{"cases": {"create", "update"}, "users": {"view"}},
		},
		{
			name:  "legacy list form",
			input: `["cases.create", "cases.update", "users.view"]`,
			want:  PermissionSet{"cases": {"create", "update"}, "users": {"view"}},
		},
		{
			name:  "duplicates collapse",
			input: `["cases.create", "cases.create"]`,
			want:  PermissionSet{"cases": {"create"}},
		},
		{
			name:  "null becomes empty",
			input: `null`,
			want:  PermissionSet{},
		},
		{
			name:    "list entry without action",
			input:   `["cases"]`,
			wantErr: true,
		},
		{
			name:    "list entry with empty resource",
			input:   `[".create"]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got PermissionSet
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissionSetMarshalIsCanonical(t *testing.T) {
	var set PermissionSet
	require.NoError(t, json.Unmarshal([]byte(`["cases.update", "cases.create"]`), &set))

	out, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cases": ["create", "update"]}`, string(out))

	var nilSet PermissionSet
	out, err = json.Marshal(nilSet)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestPermissionSetHas(t *testing.T) {
	set := PermissionSet{"cases": {"create", "update"}}

	assert.True(t, set.Has("cases", "create"))
	assert.False(t, set.Has("cases", "delete"))
	assert.False(t, set.Has("users", "view"))
}

func TestNewRole(t *testing.T) {
	r, err := New("case_worker", "Case Worker", "handles intake", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "case_worker", r.Name)
	assert.True(t, r.IsActive)
	assert.NotNil(t, r.Permissions)
	assert.False(t, r.IsSuperAdmin())

	_, err = New("Case Worker", "", "", nil, nil)
	assert.Error(t, err)

	admin, err := New("super_admin", "", "", nil, nil)
	require.NoError(t, err)
	assert.True(t, admin.IsSuperAdmin())
	assert.Equal(t, "super_admin", admin.DisplayName)
}

func TestFormStageLookup(t *testing.T) {
	r, err := New("counselor", "Counselor", "", nil, []FormStagePermission{
		{StageKey: "counselor", CanRead: true, CanUpdate: true},
		{StageKey: "final_approval", CanRead: true},
	})
	require.NoError(t, err)

	fs, ok := r.FormStage("counselor")
	require.True(t, ok)
	assert.True(t, fs.CanUpdate)

	fs, ok = r.FormStage("final_approval")
	require.True(t, ok)
	assert.False(t, fs.CanUpdate)

	_, ok = r.FormStage("intake")
	assert.False(t, ok)
}
