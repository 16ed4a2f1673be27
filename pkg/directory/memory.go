package directory

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/socketgate/pkg/auth"
)

// MemoryDirectory is an in-process UserDirectory and ResourceStore for
// development mode and tests
type MemoryDirectory struct {
	mu        sync.RWMutex
	users     map[string]auth.UserRecord
	resources map[string]auth.Resource
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[string]auth.UserRecord),
		resources: make(map[string]auth.Resource),
	}
}

// PutUser inserts or replaces a user
func (d *MemoryDirectory) PutUser(rec auth.UserRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[rec.ID] = cloneUser(rec)
}

// PutResource inserts or replaces a case
func (d *MemoryDirectory) PutResource(res auth.Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resources[res.ID] = res
}

// DeleteUser removes a user
func (d *MemoryDirectory) DeleteUser(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
}

func (d *MemoryDirectory) update(id string, fn func(rec *auth.UserRecord)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[id]
	if !ok {
		return false
	}
	fn(&rec)
	d.users[id] = rec
	return true
}

// SetPermissions replaces a user's permissions
func (d *MemoryDirectory) SetPermissions(id string, perms ...string) bool {
	return d.update(id, func(rec *auth.UserRecord) {
		rec.Permissions = append([]string(nil), perms...)
	})
}

// SetRole changes a user's role
func (d *MemoryDirectory) SetRole(id string, role auth.Role) bool {
	return d.update(id, func(rec *auth.UserRecord) { rec.Role = role })
}

// SetActive toggles a user's active flag
func (d *MemoryDirectory) SetActive(id string, active bool) bool {
	return d.update(id, func(rec *auth.UserRecord) { rec.Active = active })
}

// RecordLogout stamps the user's last logout
func (d *MemoryDirectory) RecordLogout(id string, at time.Time) bool {
	return d.update(id, func(rec *auth.UserRecord) { rec.LastLogout = &at })
}

// SetSessionExpiry sets or clears the user's session expiry
func (d *MemoryDirectory) SetSessionExpiry(id string, at *time.Time) bool {
	return d.update(id, func(rec *auth.UserRecord) { rec.SessionExpires = at })
}

// FindUser returns a copy of the user holding only the requested fields
func (d *MemoryDirectory) FindUser(ctx context.Context, id string, fields ...auth.Field) (*auth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	rec, ok := d.users[id]
	d.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}

	if len(fields) == 0 {
		out := cloneUser(rec)
		return &out, nil
	}
	return project(rec, fields), nil
}

// FindResource returns a copy of the case
func (d *MemoryDirectory) FindResource(ctx context.Context, id string) (*auth.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	res, ok := d.resources[id]
	d.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &res, nil
}

func cloneUser(rec auth.UserRecord) auth.UserRecord {
	out := rec
	out.Permissions = append([]string(nil), rec.Permissions...)
	if rec.Department != nil {
		dept := *rec.Department
		out.Department = &dept
	}
	out.LastLogin = cloneTime(rec.LastLogin)
	out.LastLogout = cloneTime(rec.LastLogout)
	out.SessionExpires = cloneTime(rec.SessionExpires)
	if rec.Preferences != nil {
		out.Preferences = make(map[string]interface{}, len(rec.Preferences))
		for k, v := range rec.Preferences {
			out.Preferences[k] = v
		}
	}
	return out
}

func project(rec auth.UserRecord, fields []auth.Field) *auth.UserRecord {
	src := cloneUser(rec)
	out := &auth.UserRecord{ID: src.ID}
	for _, f := range fields {
		switch f {
		case auth.FieldEmail:
			out.Email = src.Email
		case auth.FieldName:
			out.Name = src.Name
		case auth.FieldRole:
			out.Role = src.Role
		case auth.FieldPermissions:
			out.Permissions = src.Permissions
		case auth.FieldDepartment:
			out.Department = src.Department
		case auth.FieldActive:
			out.Active = src.Active
		case auth.FieldLastLogin:
			out.LastLogin = src.LastLogin
		case auth.FieldLastLogout:
			out.LastLogout = src.LastLogout
		case auth.FieldSessionExpires:
			out.SessionExpires = src.SessionExpires
		case auth.FieldPreferences:
			out.Preferences = src.Preferences
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
