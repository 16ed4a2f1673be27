// Package rbac evaluates authorization chains for authenticated connections.
//
// A Chain is an ordered list of Checks (role, permission, department,
// resource). Evaluation stops at the first denial and records one audit
// decision for every check it actually ran:
//
//	chain := rbac.NewChain("case:assign", trail, metrics,
//	    rbac.Roles(auth.RoleAdmin, auth.RoleRadiologist),
//	    rbac.Permissions(dir, auth.PermissionCaseAssign),
//	    rbac.ResourceAccess(cases),
//	)
//	err := chain.Evaluate(ctx, rbac.Request{ConnectionID: id, Identity: &ident, Scope: scope})
//
// Denials are *auth.Error values with code AUTHORIZATION_DENIED and the
// reason of the failing check. Permission and resource checks always read
// the directory; nothing is cached.
package rbac
