package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/directory"
)

type brokenDirectory struct{}

func (brokenDirectory) FindUser(ctx context.Context, id string, fields ...auth.Field) (*auth.UserRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenDirectory) FindResource(ctx context.Context, id string) (*auth.Resource, error) {
	return nil, errors.New("connection refused")
}

func TestRoleCheck(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	rec := auth.UserRecord{ID: "u1", Role: auth.RoleRadiologist, Active: true}
	dir.PutUser(rec)
	ident := identityFor(rec)

	dec, err := Roles(auth.RoleRadiologist).Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = Roles(auth.RoleAdmin, auth.RoleStaff).Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, auth.ReasonRoleNotAllowed, dec.Reason)
	assert.Equal(t, "admin,staff", dec.Target)

	// Snapshot trusted by default; Fresh sees the demotion
	dir.SetRole("u1", auth.RoleStaff)
	dec, _ = Roles(auth.RoleRadiologist).Evaluate(context.Background(), ident, Scope{})
	assert.True(t, dec.Allowed)

	fresh := &RoleCheck{Allowed: []auth.Role{auth.RoleRadiologist}, Fresh: true, Directory: dir}
	dec, err = fresh.Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	dir.DeleteUser("u1")
	dec, err = fresh.Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	fresh.Directory = brokenDirectory{}
	_, err = fresh.Evaluate(context.Background(), ident, Scope{})
	assert.Error(t, err)
}

func TestPermissionCheck_RereadsDirectory(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	rec := auth.UserRecord{ID: "u1", Role: auth.RolePhysician, Permissions: []string{"case:read", "case:write"}, Active: true}
	dir.PutUser(rec)
	ident := identityFor(rec)

	check := Permissions(dir, auth.PermissionCaseWrite, auth.PermissionCaseRead)
	dec, err := check.Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, "case:read,case:write", dec.Target)

	// Revoked after the identity was built
	dir.SetPermissions("u1", "case:read")
	require.True(t, ident.Permissions.Has(auth.PermissionCaseWrite))

	dec, err = check.Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, auth.ReasonMissingPermission, dec.Reason)

	dir.DeleteUser("u1")
	dec, err = check.Evaluate(context.Background(), ident, Scope{})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	_, err = Permissions(brokenDirectory{}, auth.PermissionCaseRead).Evaluate(context.Background(), ident, Scope{})
	assert.Error(t, err)
	_, err = Permissions(nil, auth.PermissionCaseRead).Evaluate(context.Background(), ident, Scope{})
	assert.Error(t, err)
}

func TestDepartmentCheck(t *testing.T) {
	admin := identityFor(auth.UserRecord{ID: "a1", Role: auth.RoleAdmin})
	tech := identityFor(auth.UserRecord{ID: "t1", Role: auth.RoleTechnician, Department: strPtr("breast-imaging")})
	noDept := identityFor(auth.UserRecord{ID: "s1", Role: auth.RoleStaff})

	tests := []struct {
		name    string
		ident   *auth.Identity
		target  string
		allowed bool
		reason  auth.Reason
	}{
		{"admin without target", admin, "", true, ""},
		{"admin any target", admin, "cardiology", true, ""},
		{"missing target", tech, "", false, auth.ReasonDepartmentNotSpecified},
		{"mismatch", tech, "cardiology", false, auth.ReasonDepartmentMismatch},
		{"match", tech, "breast-imaging", true, ""},
		{"identity without department", noDept, "cardiology", false, auth.ReasonDepartmentMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := Department().Evaluate(context.Background(), tt.ident, Scope{Department: tt.target})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, dec.Allowed)
			assert.Equal(t, tt.reason, dec.Reason)
		})
	}
}

func TestResourceCheck(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.PutResource(auth.Resource{ID: "case-1", AssignedPrincipalID: strPtr("r1"), Department: strPtr("cardiology"), Status: "open"})
	dir.PutResource(auth.Resource{ID: "case-2", Department: strPtr("breast-imaging"), Status: "open"})
	dir.PutResource(auth.Resource{ID: "case-3", Status: "open"})

	radiologist := identityFor(auth.UserRecord{ID: "r1", Role: auth.RoleRadiologist, Department: strPtr("breast-imaging")})
	other := identityFor(auth.UserRecord{ID: "p1", Role: auth.RolePhysician, Department: strPtr("neuro")})
	admin := identityFor(auth.UserRecord{ID: "a1", Role: auth.RoleAdmin})

	tests := []struct {
		name     string
		ident    *auth.Identity
		resource string
		allowed  bool
		reason   auth.Reason
	}{
		{"not specified", radiologist, "", false, auth.ReasonResourceNotSpecified},
		{"not found", admin, "case-404", false, auth.ReasonResourceNotFound},
		{"admin", admin, "case-3", true, ""},
		{"assigned despite department mismatch", radiologist, "case-1", true, ""},
		{"department match", radiologist, "case-2", true, ""},
		{"unrelated", other, "case-1", false, auth.ReasonResourceAccessDenied},
		{"resource without department", other, "case-3", false, auth.ReasonResourceAccessDenied},
	}

	check := ResourceAccess(dir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := check.Evaluate(context.Background(), tt.ident, Scope{ResourceID: tt.resource})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, dec.Allowed)
			assert.Equal(t, tt.reason, dec.Reason)
		})
	}

	_, err := ResourceAccess(brokenDirectory{}).Evaluate(context.Background(), admin, Scope{ResourceID: "case-1"})
	assert.Error(t, err)
}
