package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

func TestEventPolicies(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	neuro := "neuro"
	rad := "rad-1"
	dir.PutUser(auth.UserRecord{ID: rad, Role: auth.RoleRadiologist, Department: &neuro, Active: true,
		Permissions: []string{string(auth.PermissionCaseRead), string(auth.PermissionReportSign)}})
	dir.PutUser(auth.UserRecord{ID: "desk-1", Role: auth.RoleStaff, Active: true,
		Permissions: []string{string(auth.PermissionCaseRead)}})
	dir.PutResource(auth.Resource{ID: "c-1", AssignedPrincipalID: &rad, Status: "open"})
	dir.PutResource(auth.Resource{ID: "c-2", Department: &neuro, Status: "open"})

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	trail := audit.NewTrail(context.Background(), audit.NewMemorySink(), audit.TrailConfig{}, logger, nil)
	defer trail.Close(context.Background())
	policies := eventPolicies(trail, nil, dir)

	identity := func(id string) *auth.Identity {
		rec, err := dir.FindUser(context.Background(), id)
		require.NoError(t, err)
		ident := auth.NewIdentity(rec, time.Now())
		return &ident
	}

	tests := []struct {
		event   string
		user    string
		scope   rbac.Scope
		allowed bool
	}{
		{"case:view", rad, rbac.Scope{ResourceID: "c-1"}, true},
		{"case:view", rad, rbac.Scope{ResourceID: "c-2"}, true},
		{"case:view", "desk-1", rbac.Scope{ResourceID: "c-1"}, false},
		{"report:sign", rad, rbac.Scope{ResourceID: "c-1"}, true},
		{"case:assign", rad, rbac.Scope{ResourceID: "c-1"}, false},
		{"department:subscribe", rad, rbac.Scope{Department: "neuro"}, true},
		{"department:subscribe", rad, rbac.Scope{Department: "cardio"}, false},
		{"user:update", rad, rbac.Scope{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.event+"/"+tt.user, func(t *testing.T) {
			chain, ok := policies.Lookup(tt.event)
			require.True(t, ok)
			err := chain.Evaluate(context.Background(), rbac.Request{ConnectionID: "c", Identity: identity(tt.user), Scope: tt.scope})
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, auth.CodeAuthorizationDenied, auth.CodeOf(err))
			}
		})
	}
}

func TestAdminChains(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.PutUser(auth.UserRecord{ID: "root", Role: auth.RoleAdmin, Active: true,
		Permissions: []string{string(auth.PermissionAuditRead), string(auth.PermissionUserManage)}})
	dir.PutUser(auth.UserRecord{ID: "auditor", Role: auth.RoleAdmin, Active: true,
		Permissions: []string{string(auth.PermissionAuditRead)}})

	identity := func(id string) *auth.Identity {
		rec, err := dir.FindUser(context.Background(), id)
		require.NoError(t, err)
		ident := auth.NewIdentity(rec, time.Now())
		return &ident
	}
	req := func(id string) rbac.Request {
		return rbac.Request{ConnectionID: "http", Identity: identity(id)}
	}

	audits := adminChain(nil, nil, dir)
	limits := limitsChain(nil, nil, dir)
	assert.Equal(t, 2, limits.Len())

	assert.NoError(t, audits.Evaluate(context.Background(), req("auditor")))
	assert.NoError(t, limits.Evaluate(context.Background(), req("root")))
	err := limits.Evaluate(context.Background(), req("auditor"))
	assert.Equal(t, auth.ReasonMissingPermission, auth.ReasonOf(err))
}
