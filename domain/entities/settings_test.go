package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermission(t *testing.T) {
	tests := []struct {
		input   string
		want    Permission
		wantErr bool
	}{
		{"database", PermissionDatabase, false},
		{"file_read", PermissionFileRead, false},
		{"file_write", PermissionFileWrite, false},
		{"http", PermissionHTTP, false},
		{"sleep", PermissionSleep, false},
		{"exec", "", true},
		{"", "", true},
		{"Database", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePermission(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissionsAllowDeny(t *testing.T) {
	p := PermissionsSettings{
		Required: []Permission{PermissionFileRead, PermissionDatabase},
	}

	// Allowing an unrequested permission is rejected, not silently kept.
	assert.False(t, p.Allow(PermissionHTTP))
	assert.Empty(t, p.Allowed)

	assert.True(t, p.Allow(PermissionDatabase))
	assert.True(t, p.IsAllowed(PermissionDatabase))

	// Allowing twice reports no change.
	assert.False(t, p.Allow(PermissionDatabase))
	assert.Len(t, p.Allowed, 1)

	assert.True(t, p.Deny(PermissionDatabase))
	assert.False(t, p.IsAllowed(PermissionDatabase))

	// Denying what is not allowed reports no change.
	assert.False(t, p.Deny(PermissionDatabase))
	assert.False(t, p.Deny(PermissionSleep))
}

func TestPermissionsAllowedSubsetInvariant(t *testing.T) {
	p := PermissionsSettings{
		Required: []Permission{PermissionFileRead, PermissionFileWrite, PermissionHTTP},
	}
	for _, perm := range AllPermissions() {
		p.Allow(perm)
	}
	for _, perm := range p.Allowed {
		assert.True(t, p.IsRequired(perm), "allowed %q must be required", perm)
	}
}

func TestPermissionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		perms   PermissionsSettings
		wantErr string
	}{
		{
			name:  "valid subset",
			perms: PermissionsSettings{Required: []Permission{PermissionDatabase, PermissionHTTP}, Allowed: []Permission{PermissionHTTP}},
		},
		{
			name:    "unknown required",
			perms:   PermissionsSettings{Required: []Permission{"exec"}},
			wantErr: "unknown",
		},
		{
			name:    "allowed not required",
			perms:   PermissionsSettings{Required: []Permission{PermissionDatabase}, Allowed: []Permission{PermissionHTTP}},
			wantErr: "not required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.perms.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := PermissionDenied("calc", PermissionDatabase)
	assert.True(t, IsKind(err, KindPermissionDenied))
	assert.False(t, IsKind(err, KindNotLoaded))
	assert.Equal(t, KindPermissionDenied, ErrKind(err))
	assert.Contains(t, err.Error(), "calc")
	assert.Contains(t, err.Error(), "database")

	wrapped := InstantiationError("compile", err)
	assert.Equal(t, KindInstantiation, ErrKind(wrapped))
	assert.ErrorIs(t, wrapped.Unwrap(), err)
}
