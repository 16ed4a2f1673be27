package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/socketgate/pkg/auth"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open connects to PostgreSQL and verifies the connection
func Open(config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// PostgresDirectory reads users and cases from PostgreSQL. It never caches.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory over an open database
func NewPostgresDirectory(db *sql.DB) (*PostgresDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresDirectory{db: db}, nil
}

// EnsureSchema creates the users and cases tables if they don't exist
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(32) NOT NULL,
		permissions TEXT[] NOT NULL DEFAULT '{}',
		department VARCHAR(128),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMP WITH TIME ZONE,
		last_logout TIMESTAMP WITH TIME ZONE,
		session_expires TIMESTAMP WITH TIME ZONE,
		preferences JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS cases (
		id VARCHAR(64) PRIMARY KEY,
		assigned_to VARCHAR(64) REFERENCES users(id),
		department VARCHAR(128),
		status VARCHAR(32) NOT NULL DEFAULT 'open',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_cases_assigned_to ON cases(assigned_to);
	CREATE INDEX IF NOT EXISTS idx_cases_department ON cases(department);
	`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

var allFields = []auth.Field{
	auth.FieldEmail, auth.FieldName, auth.FieldRole, auth.FieldPermissions,
	auth.FieldDepartment, auth.FieldActive, auth.FieldLastLogin, auth.FieldLastLogout,
	auth.FieldSessionExpires, auth.FieldPreferences,
}

// projection collects the columns and scan targets for a field list
type projection struct {
	columns []string
	dests   []interface{}
	apply   []func(rec *auth.UserRecord) error
}

func newProjection(rec *auth.UserRecord, fields []auth.Field) (*projection, error) {
	if len(fields) == 0 {
		fields = allFields
	}

	p := &projection{
		columns: []string{"id"},
		dests:   []interface{}{&rec.ID},
	}
	seen := make(map[auth.Field]bool, len(fields))

	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true

		switch f {
		case auth.FieldEmail:
			p.add("email", &rec.Email, nil)
		case auth.FieldName:
			p.add("name", &rec.Name, nil)
		case auth.FieldRole:
			var role string
			p.add("role", &role, func(r *auth.UserRecord) error {
				r.Role = auth.Role(role)
				return nil
			})
		case auth.FieldPermissions:
			p.add("permissions", pq.Array(&rec.Permissions), nil)
		case auth.FieldDepartment:
			var dept sql.NullString
			p.add("department", &dept, func(r *auth.UserRecord) error {
				if dept.Valid {
					r.Department = &dept.String
				}
				return nil
			})
		case auth.FieldActive:
			p.add("active", &rec.Active, nil)
		case auth.FieldLastLogin:
			p.addTime("last_login", &rec.LastLogin)
		case auth.FieldLastLogout:
			p.addTime("last_logout", &rec.LastLogout)
		case auth.FieldSessionExpires:
			p.addTime("session_expires", &rec.SessionExpires)
		case auth.FieldPreferences:
			var raw []byte
			p.add("preferences", &raw, func(r *auth.UserRecord) error {
				if len(raw) == 0 {
					return nil
				}
				if err := json.Unmarshal(raw, &r.Preferences); err != nil {
					return fmt.Errorf("failed to decode preferences: %w", err)
				}
				return nil
			})
		default:
			return nil, fmt.Errorf("unknown user field %q", f)
		}
	}

	return p, nil
}

func (p *projection) add(column string, dest interface{}, apply func(*auth.UserRecord) error) {
	p.columns = append(p.columns, column)
	p.dests = append(p.dests, dest)
	if apply != nil {
		p.apply = append(p.apply, apply)
	}
}

func (p *projection) addTime(column string, target **time.Time) {
	var t sql.NullTime
	p.add(column, &t, func(*auth.UserRecord) error {
		if t.Valid {
			v := t.Time
			*target = &v
		}
		return nil
	})
}

// FindUser loads the requested fields for a user
func (d *PostgresDirectory) FindUser(ctx context.Context, id string, fields ...auth.Field) (*auth.UserRecord, error) {
	rec := &auth.UserRecord{}
	p, err := newProjection(rec, fields)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", strings.Join(p.columns, ", "))
	err = d.db.QueryRowContext(ctx, query, id).Scan(p.dests...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	for _, apply := range p.apply {
		if err := apply(rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// FindResource loads a case
func (d *PostgresDirectory) FindResource(ctx context.Context, id string) (*auth.Resource, error) {
	var (
		res        auth.Resource
		assignedTo sql.NullString
		department sql.NullString
	)

	query := `SELECT id, assigned_to, department, status FROM cases WHERE id = $1`
	err := d.db.QueryRowContext(ctx, query, id).Scan(&res.ID, &assignedTo, &department, &res.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	if assignedTo.Valid {
		res.AssignedPrincipalID = &assignedTo.String
	}
	if department.Valid {
		res.Department = &department.String
	}
	return &res, nil
}

// Ping verifies the database is reachable
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
