package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/platinummonkey/socketgate/pkg/auth"
)

// CheckKind names a check type in audit entries and metrics
type CheckKind string

const (
	KindRole       CheckKind = "role"
	KindPermission CheckKind = "permission"
	KindDepartment CheckKind = "department"
	KindResource   CheckKind = "resource"
)

// Scope is the target of an authorization request
type Scope struct {
	// Department is the target department; empty means not specified
	Department string
	// ResourceID is the target case; empty means not specified
	ResourceID string
}

// Decision is the result of one check
type Decision struct {
	Allowed bool
	Reason  auth.Reason
	// Target is the evaluated role set, permission set, department or resource
	Target string
}

func grant(target string) Decision {
	return Decision{Allowed: true, Target: target}
}

func deny(reason auth.Reason, target string) Decision {
	return Decision{Reason: reason, Target: target}
}

// Check is one independent grant-or-deny rule. A returned error means the
// check could not be evaluated.
type Check interface {
	Kind() CheckKind
	Evaluate(ctx context.Context, id *auth.Identity, scope Scope) (Decision, error)
}

// RoleCheck grants iff the identity's role is in Allowed. The role comes from
// the Identity snapshot unless Fresh is set, in which case it is re-read from
// Directory.
type RoleCheck struct {
	Allowed   []auth.Role
	Fresh     bool
	Directory auth.UserDirectory
}

// Roles builds a RoleCheck trusting the Identity snapshot
func Roles(allowed ...auth.Role) *RoleCheck {
	return &RoleCheck{Allowed: allowed}
}

func (c *RoleCheck) Kind() CheckKind { return KindRole }

func (c *RoleCheck) target() string {
	names := make([]string, len(c.Allowed))
	for i, r := range c.Allowed {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

func (c *RoleCheck) Evaluate(ctx context.Context, id *auth.Identity, _ Scope) (Decision, error) {
	role := id.Role
	if c.Fresh && c.Directory != nil {
		rec, err := c.Directory.FindUser(ctx, id.ID, auth.FieldRole)
		if errors.Is(err, auth.ErrNotFound) {
			return deny(auth.ReasonRoleNotAllowed, c.target()), nil
		}
		if err != nil {
			return Decision{}, err
		}
		role = rec.Role
	}

	for _, allowed := range c.Allowed {
		if role == allowed {
			return grant(c.target()), nil
		}
	}
	return deny(auth.ReasonRoleNotAllowed, c.target()), nil
}

// PermissionCheck grants iff every Required permission is currently held. It
// always re-reads permissions from Directory and ignores the snapshot.
type PermissionCheck struct {
	Required  []auth.Permission
	Directory auth.UserDirectory
}

// Permissions builds a PermissionCheck
func Permissions(dir auth.UserDirectory, required ...auth.Permission) *PermissionCheck {
	return &PermissionCheck{Required: required, Directory: dir}
}

func (c *PermissionCheck) Kind() CheckKind { return KindPermission }

func (c *PermissionCheck) target() string {
	names := make([]string, len(c.Required))
	for i, p := range c.Required {
		names[i] = string(p)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (c *PermissionCheck) Evaluate(ctx context.Context, id *auth.Identity, _ Scope) (Decision, error) {
	if c.Directory == nil {
		return Decision{}, errors.New("permission check has no directory")
	}
	rec, err := c.Directory.FindUser(ctx, id.ID, auth.FieldPermissions)
	if errors.Is(err, auth.ErrNotFound) {
		return deny(auth.ReasonMissingPermission, c.target()), nil
	}
	if err != nil {
		return Decision{}, err
	}

	if missing := auth.PermissionsFromStrings(rec.Permissions).Missing(c.Required...); len(missing) > 0 {
		return deny(auth.ReasonMissingPermission, c.target()), nil
	}
	return grant(c.target()), nil
}

// DepartmentCheck grants admins unconditionally, otherwise requires the scope
// department to equal the identity's department
type DepartmentCheck struct{}

// Department builds a DepartmentCheck
func Department() *DepartmentCheck {
	return &DepartmentCheck{}
}

func (c *DepartmentCheck) Kind() CheckKind { return KindDepartment }

func (c *DepartmentCheck) Evaluate(_ context.Context, id *auth.Identity, scope Scope) (Decision, error) {
	// Admin bypass precedes the missing-target denial
	if id.IsAdmin() {
		return grant(scope.Department), nil
	}
	if scope.Department == "" {
		return deny(auth.ReasonDepartmentNotSpecified, ""), nil
	}
	if id.Department == nil || *id.Department != scope.Department {
		return deny(auth.ReasonDepartmentMismatch, scope.Department), nil
	}
	return grant(scope.Department), nil
}

// ResourceCheck decides case-style access. The resource is looked up on every
// evaluation.
type ResourceCheck struct {
	Store auth.ResourceStore
}

// ResourceAccess builds a ResourceCheck
func ResourceAccess(store auth.ResourceStore) *ResourceCheck {
	return &ResourceCheck{Store: store}
}

func (c *ResourceCheck) Kind() CheckKind { return KindResource }

func (c *ResourceCheck) Evaluate(ctx context.Context, id *auth.Identity, scope Scope) (Decision, error) {
	if scope.ResourceID == "" {
		return deny(auth.ReasonResourceNotSpecified, ""), nil
	}
	if c.Store == nil {
		return Decision{}, errors.New("resource check has no store")
	}

	res, err := c.Store.FindResource(ctx, scope.ResourceID)
	if errors.Is(err, auth.ErrNotFound) {
		return deny(auth.ReasonResourceNotFound, scope.ResourceID), nil
	}
	if err != nil {
		return Decision{}, err
	}

	switch {
	case id.IsAdmin():
		return grant(res.ID), nil
	case res.AssignedPrincipalID != nil && *res.AssignedPrincipalID == id.ID:
		return grant(res.ID), nil
	case res.Department != nil && id.Department != nil && *res.Department == *id.Department:
		return grant(res.ID), nil
	default:
		return deny(auth.ReasonResourceAccessDenied, res.ID), nil
	}
}
