package auth

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Role is the fixed set of account roles
type Role string

const (
	RoleAdmin       Role = "admin"       // Bypasses department and resource scoping
	RoleRadiologist Role = "radiologist" // Reads and reports on assigned cases
	RolePhysician   Role = "physician"   // Referring physician, views own department's cases
	RoleTechnician  Role = "technician"  // Acquires studies, department scoped
	RoleStaff       Role = "staff"       // Front desk and scheduling
)

// Roles lists every valid role
var Roles = []Role{RoleAdmin, RoleRadiologist, RolePhysician, RoleTechnician, RoleStaff}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Permission is a named capability granted to an account
type Permission string

const (
	PermissionCaseRead    Permission = "case:read"
	PermissionCaseWrite   Permission = "case:write"
	PermissionCaseAssign  Permission = "case:assign"
	PermissionReportSign  Permission = "report:sign"
	PermissionUserManage  Permission = "user:manage"
	PermissionAuditRead   Permission = "audit:read"
	PermissionNotifyWrite Permission = "notification:write"
)

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list, ignoring duplicates
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PermissionsFromStrings builds a set from raw strings
func PermissionsFromStrings(perms []string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[Permission(p)] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Missing returns the required permissions not present in the set
func (s PermissionSet) Missing(required ...Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Slice returns the permissions sorted, for stable output
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UserRecord is a projected row from the user directory. Fields outside the
// requested projection are left at their zero value.
type UserRecord struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name"`
	Role           Role                   `json:"role"`
	Permissions    []string               `json:"permissions"`
	Department     *string                `json:"department,omitempty"`
	Active         bool                   `json:"active"`
	LastLogin      *time.Time             `json:"last_login,omitempty"`
	LastLogout     *time.Time             `json:"last_logout,omitempty"`
	SessionExpires *time.Time             `json:"session_expires,omitempty"`
	Preferences    map[string]interface{} `json:"preferences,omitempty"`
}

// Field names a projectable user attribute
type Field string

const (
	FieldEmail          Field = "email"
	FieldName           Field = "name"
	FieldRole           Field = "role"
	FieldPermissions    Field = "permissions"
	FieldDepartment     Field = "department"
	FieldActive         Field = "active"
	FieldLastLogin      Field = "last_login"
	FieldLastLogout     Field = "last_logout"
	FieldSessionExpires Field = "session_expires"
	FieldPreferences    Field = "preferences"
)

// Projections used by the gateway stages
var (
	// IdentityFields is what authentication needs to build an Identity
	IdentityFields = []Field{FieldEmail, FieldName, FieldRole, FieldPermissions, FieldDepartment, FieldActive, FieldLastLogin, FieldPreferences}
	// SessionFields is what SessionGuard re-reads
	SessionFields = []Field{FieldActive, FieldLastLogout, FieldSessionExpires}
)

// Resource is a projected case record
type Resource struct {
	ID                  string  `json:"id"`
	AssignedPrincipalID *string `json:"assigned_principal_id,omitempty"`
	Department          *string `json:"department,omitempty"`
	Status              string  `json:"status"`
}

// ErrNotFound is returned by directories when a record does not exist
var ErrNotFound = errors.New("record not found")

// UserDirectory resolves user ids to projected records. An empty field list
// means every field.
type UserDirectory interface {
	FindUser(ctx context.Context, id string, fields ...Field) (*UserRecord, error)
}

// ResourceStore resolves resource ids. Results are never cached by callers.
type ResourceStore interface {
	FindResource(ctx context.Context, id string) (*Resource, error)
}

// Identity is the authenticated principal bound to one connection. It is a
// point-in-time snapshot; LoginTime anchors later session checks.
type Identity struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	Permissions PermissionSet
	Department  *string
	Active      bool
	LastLogin   *time.Time
	Preferences map[string]interface{}
	LoginTime   time.Time
}

// NewIdentity builds an Identity from a directory record
func NewIdentity(rec *UserRecord, loginTime time.Time) Identity {
	id := Identity{
		ID:          rec.ID,
		Email:       rec.Email,
		Name:        rec.Name,
		Role:        rec.Role,
		Permissions: PermissionsFromStrings(rec.Permissions),
		Active:      rec.Active,
		Preferences: make(map[string]interface{}, len(rec.Preferences)),
		LoginTime:   loginTime,
	}
	if rec.Department != nil {
		dept := *rec.Department
		id.Department = &dept
	}
	if rec.LastLogin != nil {
		last := *rec.LastLogin
		id.LastLogin = &last
	}
	for k, v := range rec.Preferences {
		id.Preferences[k] = v
	}
	return id
}

// IsAdmin reports whether the identity holds the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// DepartmentName returns the department or "" when unset
func (i Identity) DepartmentName() string {
	if i.Department == nil {
		return ""
	}
	return *i.Department
}
