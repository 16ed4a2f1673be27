package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const decisionColumns = `id, decided_at, connection_id, subject_id, kind, stage, policy, resource, outcome, reason, admin_interest`

// DBSink stores decisions in the Postgres auth_decisions table
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database-backed sink. Call EnsureSchema before use
// when the table may not exist.
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBSink{db: db}, nil
}

// EnsureSchema creates the auth_decisions table and its indexes
func (s *DBSink) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS auth_decisions (
		id VARCHAR(26) PRIMARY KEY,
		decided_at TIMESTAMP WITH TIME ZONE NOT NULL,
		connection_id VARCHAR(64) NOT NULL,
		subject_id VARCHAR(255),
		kind VARCHAR(40) NOT NULL,
		stage VARCHAR(64),
		policy VARCHAR(128),
		resource VARCHAR(255),
		outcome VARCHAR(10) NOT NULL,
		reason VARCHAR(64),
		admin_interest BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_auth_decisions_decided_at ON auth_decisions(decided_at DESC);
	CREATE INDEX IF NOT EXISTS idx_auth_decisions_subject ON auth_decisions(subject_id);
	CREATE INDEX IF NOT EXISTS idx_auth_decisions_connection ON auth_decisions(connection_id);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure auth_decisions table: %w", err)
	}
	return nil
}

// Write inserts the decision. Re-inserting the same id is a no-op.
func (s *DBSink) Write(ctx context.Context, d Decision) error {
	query := `INSERT INTO auth_decisions (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Timestamp, d.ConnectionID, nullString(d.SubjectID),
		string(d.Kind), d.Stage, d.Policy, d.Resource,
		string(d.Outcome), d.Reason, d.AdminInterest,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth decision: %w", err)
	}
	return nil
}

// Search returns matching decisions, newest first
func (s *DBSink) Search(ctx context.Context, filter Filter) ([]Decision, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Since != nil {
		where = append(where, "decided_at >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "decided_at <= "+arg(*filter.Until))
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = "+arg(filter.SubjectID))
	}
	if filter.ConnectionID != "" {
		where = append(where, "connection_id = "+arg(filter.ConnectionID))
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = "+arg(string(filter.Outcome)))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		where = append(where, "kind = ANY("+arg(pq.Array(kinds))+")")
	}

	query := "SELECT " + decisionColumns + " FROM auth_decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY decided_at DESC, id DESC"
	query += " LIMIT " + arg(filter.limit())
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search auth decisions: %w", err)
	}
	defer rows.Close()

	out := []Decision{}
	for rows.Next() {
		var (
			d                               Decision
			subject                         sql.NullString
			kind, outcome                   string
			stage, policy, resource, reason sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.ConnectionID, &subject, &kind,
			&stage, &policy, &resource, &outcome, &reason, &d.AdminInterest); err != nil {
			return nil, fmt.Errorf("failed to scan auth decision: %w", err)
		}
		if subject.Valid {
			v := subject.String
			d.SubjectID = &v
		}
		d.Kind = Kind(kind)
		d.Outcome = Outcome(outcome)
		d.Stage = stage.String
		d.Policy = policy.String
		d.Resource = resource.String
		d.Reason = reason.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Purge deletes decisions older than the cutoff and reports how many
func (s *DBSink) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM auth_decisions WHERE decided_at < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge auth decisions: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the caller owns the database handle
func (s *DBSink) Close() error { return nil }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
