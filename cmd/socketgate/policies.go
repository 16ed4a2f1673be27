package main

import (
	"context"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
	"github.com/platinummonkey/socketgate/pkg/transport"
)

var clinicalRoles = []auth.Role{auth.RoleAdmin, auth.RoleRadiologist, auth.RolePhysician, auth.RoleTechnician}

// connectChain admits every known role
func connectChain(trail *audit.Trail, metrics *observability.Metrics) *rbac.Chain {
	return rbac.NewChain("connect", trail, metrics,
		rbac.Roles(auth.RoleAdmin, auth.RoleRadiologist, auth.RolePhysician, auth.RoleTechnician, auth.RoleStaff))
}

// eventPolicies guards the built-in events
func eventPolicies(trail *audit.Trail, metrics *observability.Metrics, store directory.Store) rbac.Policies {
	chain := func(name string, checks ...rbac.Check) *rbac.Chain {
		return rbac.NewChain(name, trail, metrics, checks...)
	}
	return rbac.Policies{
		"case:view": chain("case:view",
			rbac.Roles(clinicalRoles...),
			rbac.Permissions(store, auth.PermissionCaseRead),
			rbac.ResourceAccess(store)),
		"case:update": chain("case:update",
			rbac.Roles(clinicalRoles...),
			rbac.Permissions(store, auth.PermissionCaseWrite),
			rbac.ResourceAccess(store)),
		"case:assign": chain("case:assign",
			&rbac.RoleCheck{Allowed: []auth.Role{auth.RoleAdmin, auth.RoleRadiologist}, Fresh: true, Directory: store},
			rbac.Permissions(store, auth.PermissionCaseAssign),
			rbac.ResourceAccess(store)),
		"report:sign": chain("report:sign",
			&rbac.RoleCheck{Allowed: []auth.Role{auth.RoleRadiologist}, Fresh: true, Directory: store},
			rbac.Permissions(store, auth.PermissionReportSign),
			rbac.ResourceAccess(store)),
		"department:subscribe": chain("department:subscribe",
			rbac.Roles(clinicalRoles...),
			rbac.Department()),
		"user:update": chain("user:update",
			rbac.Roles(auth.RoleAdmin),
			rbac.Permissions(store, auth.PermissionUserManage)),
	}
}

// adminChain guards the audit API
func adminChain(trail *audit.Trail, metrics *observability.Metrics, store directory.Store) *rbac.Chain {
	return rbac.NewChain("admin:audit", trail, metrics,
		rbac.Roles(auth.RoleAdmin),
		rbac.Permissions(store, auth.PermissionAuditRead))
}

// limitsChain guards the limiter admin API
func limitsChain(trail *audit.Trail, metrics *observability.Metrics, store directory.Store) *rbac.Chain {
	return rbac.NewChain("admin:limits", trail, metrics,
		rbac.Roles(auth.RoleAdmin),
		rbac.Permissions(store, auth.PermissionUserManage))
}

// registerHandlers adds the application handlers
func registerHandlers(registry *transport.Registry) {
	registry.Register("whoami", whoami)
}

func whoami(_ context.Context, conn *gateway.Conn, _ transport.Inbound) (interface{}, error) {
	id := conn.Identity()
	if id == nil {
		return nil, auth.NewError(auth.CodeSessionInvalidated, auth.ReasonDeactivated, nil)
	}
	return map[string]interface{}{
		"id":         id.ID,
		"name":       id.Name,
		"role":       id.Role,
		"department": id.Department,
		"loginTime":  id.LoginTime,
	}, nil
}
