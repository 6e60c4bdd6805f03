package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/interlinker/models"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// RunSummary is a list row for a stored run
type RunSummary struct {
	ID           string    `json:"id"`
	PrincipalURL string    `json:"principal_url"`
	TotalLinks   int       `json:"total_links"`
	Rejected     int       `json:"rejected"`
	ViewsPath    string    `json:"views_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkRecord is one committed edit indexed by target
type LinkRecord struct {
	RunID        string    `json:"run_id"`
	PrincipalURL string    `json:"principal_url"`
	BlockID      string    `json:"block_id"`
	TargetURL    string    `json:"target_url"`
	Anchor       string    `json:"anchor"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats aggregates stored runs
type Stats struct {
	TotalRuns      int     `json:"total_runs"`
	TotalLinks     int     `json:"total_links"`
	AvgLinksPerRun float64 `json:"avg_links_per_run"`
	DistinctPages  int     `json:"distinct_principal_urls"`
}

// Open connects to PostgreSQL without touching the schema
func Open(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn}, nil
}

// New connects and applies pending migrations
func New(config Config) (*DB, error) {
	db, err := Open(config)
	if err != nil {
		return nil, err
	}

	// Run PostgreSQL migrations
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := Migrate(ctx, db.conn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// SaveRun stores a run and indexes its edits by target URL. Saving an existing
// id replaces the run and its edits.
func (db *DB) SaveRun(run *models.RunResult) error {
	// Begin transaction to save the run and its edits atomically
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize the run to JSON
	jsonData, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// Insert or replace the run
	query := `
		INSERT INTO interlinker_runs (id, principal_url, data, total_links, rejected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			total_links = excluded.total_links,
			rejected = excluded.rejected,
			updated_at = excluded.updated_at
	`
	_, err = tx.Exec(
		query,
		run.ID,
		run.PrincipalURL,
		string(jsonData),
		len(run.Edits),
		len(run.Rejected),
		run.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	// Delete old edits for this run (if re-saving)
	if _, err := tx.Exec("DELETE FROM interlinker_edits WHERE run_id = $1", run.ID); err != nil {
		return fmt.Errorf("failed to delete old edits: %w", err)
	}

	// Save edits to separate table
	for _, e := range run.Edits {
		_, err = tx.Exec(`
			INSERT INTO interlinker_edits (run_id, block_id, target_url, anchor, score, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, run.ID, e.BlockID, e.TargetURL, e.Anchor, e.Score, run.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save edit for block %s: %w", e.BlockID, err)
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID; a missing run returns nil without error
func (db *DB) GetRun(id string) (*models.RunResult, error) {
	var jsonData string
	err := db.conn.QueryRow("SELECT data FROM interlinker_runs WHERE id = $1", id).Scan(&jsonData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	// Deserialize JSON data
	var run models.RunResult
	if err := json.Unmarshal([]byte(jsonData), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// LatestRunForURL returns the most recent run for a principal URL
func (db *DB) LatestRunForURL(principalURL string) (*models.RunResult, error) {
	// Find the newest run id, then load it
	var id string
	err := db.conn.QueryRow(`
		SELECT id FROM interlinker_runs
		WHERE principal_url = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, principalURL).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return db.GetRun(id)
}

// DeleteRun deletes a run; its edits cascade
func (db *DB) DeleteRun(id string) error {
	result, err := db.conn.Exec("DELETE FROM interlinker_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns run summaries, newest first
func (db *DB) ListRuns(limit, offset int) ([]RunSummary, error) {
	rows, err := db.conn.Query(`
		SELECT id, principal_url, total_links, rejected, COALESCE(views_path, ''), created_at
		FROM interlinker_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	results := []RunSummary{}
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.PrincipalURL, &s.TotalLinks, &s.Rejected, &s.ViewsPath, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// CountRuns returns the number of stored runs
func (db *DB) CountRuns() (int, error) {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM interlinker_runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// SetViewsPath records where a run's rendered views were stored
func (db *DB) SetViewsPath(id, path string) error {
	result, err := db.conn.Exec(
		"UPDATE interlinker_runs SET views_path = $1, updated_at = $2 WHERE id = $3",
		path, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update views path: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LinksToURL returns every stored edit targeting targetURL, newest first. It
// answers "which pages already link here" across runs.
func (db *DB) LinksToURL(targetURL string) ([]LinkRecord, error) {
	rows, err := db.conn.Query(`
		SELECT e.run_id, r.principal_url, e.block_id, e.target_url, e.anchor, e.created_at
		FROM interlinker_edits e
		JOIN interlinker_runs r ON r.id = e.run_id
		WHERE e.target_url = $1
		ORDER BY e.created_at DESC
	`, targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer rows.Close()

	results := []LinkRecord{}
	for rows.Next() {
		var l LinkRecord
		if err := rows.Scan(&l.RunID, &l.PrincipalURL, &l.BlockID, &l.TargetURL, &l.Anchor, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// GetStats aggregates stored runs
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(total_links), 0), COUNT(DISTINCT principal_url)
		FROM interlinker_runs
	`).Scan(&s.TotalRuns, &s.TotalLinks, &s.DistinctPages)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	// Average only when there is at least one run
	if s.TotalRuns > 0 {
		s.AvgLinksPerRun = float64(s.TotalLinks) / float64(s.TotalRuns)
	}
	return &s, nil
}

// GetViewsPath returns the stored views prefix of a run, or "" when none was stored
func (db *DB) GetViewsPath(id string) (string, error) {
	var p sql.NullString
	err := db.conn.QueryRow("SELECT views_path FROM interlinker_runs WHERE id = $1", id).Scan(&p)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query views path: %w", err)
	}
	return p.String, nil
}
