// Package store persists incident records in SQLite so the service can
// recover unfinished work across restarts and serve history queries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// ErrNotFound signals a missing incident id.
var ErrNotFound = errors.New("incident not found")

// Store wraps the SQLite handle. SQLite allows a single writer, so the
// connection pool is capped at one.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	category            TEXT NOT NULL,
	severity            TEXT NOT NULL,
	source              TEXT NOT NULL,
	status              TEXT NOT NULL,
	tier                INTEGER NOT NULL DEFAULT 1,
	detected_at         TEXT NOT NULL,
	payload             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source);
`

// Open creates or opens the incident database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save upserts the full incident record.
func (s *Store) Save(ctx context.Context, inc models.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO incidents (id, type, category, severity, source, status, tier, detected_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	type = excluded.type,
	category = excluded.category,
	severity = excluded.severity,
	source = excluded.source,
	status = excluded.status,
	tier = excluded.tier,
	payload = excluded.payload`,
		inc.ID, inc.Type, string(inc.Category), string(inc.Severity), inc.Source,
		string(inc.Status), inc.Tier, inc.DetectedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

// Get returns the incident with the given id.
func (s *Store) Get(ctx context.Context, id string) (models.Incident, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM incidents WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, ErrNotFound
	}
	if err != nil {
		return models.Incident{}, fmt.Errorf("get incident %s: %w", id, err)
	}
	return decode(payload)
}

// Filter narrows List results; zero values mean no constraint.
type Filter struct {
	Status   models.Status
	Severity models.Severity
	Category models.Category
	Source   string
	Limit    int
	Offset   int
}

// List returns incidents matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Incident, error) {
	query := `SELECT payload FROM incidents`
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY detected_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]models.Incident, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc, err := decode(payload)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Unfinished returns incidents whose workflow has not reached a terminal
// state, used to re-enqueue work after a restart. Resolved and recovered
// incidents are included: their remaining steps still have to run.
func (s *Store) Unfinished(ctx context.Context) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM incidents
WHERE status NOT IN ('documented', 'error')
ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query unfinished: %w", err)
	}
	defer rows.Close()

	incidents := make([]models.Incident, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc, err := decode(payload)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// StatusCounts aggregates incident counts per status for the stats endpoint.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	return s.countsBy(ctx, "status")
}

// SeverityCounts aggregates incident counts per severity.
func (s *Store) SeverityCounts(ctx context.Context) (map[string]int, error) {
	return s.countsBy(ctx, "severity")
}

func (s *Store) countsBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s, COUNT(*) FROM incidents GROUP BY %s`, column, column))
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(payload string) (models.Incident, error) {
	var inc models.Incident
	if err := json.Unmarshal([]byte(payload), &inc); err != nil {
		return models.Incident{}, fmt.Errorf("decode incident payload: %w", err)
	}
	return inc, nil
}
