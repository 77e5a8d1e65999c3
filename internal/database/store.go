// Package database persists estimation runs and forecast-loss reports in
// SQLite. Parameter matrices and reports are stored as msgpack blobs.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/avolkov/bekk/internal/modules/forecast"
	"github.com/avolkov/bekk/internal/modules/params"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	model TEXT NOT NULL,
	restriction TEXT NOT NULL,
	use_target INTEGER NOT NULL,
	loss REAL NOT NULL,
	loglik REAL NOT NULL,
	converged INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	params BLOB NOT NULL,
	theta BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS loss_reports (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	window INTEGER NOT NULL,
	report BLOB NOT NULL
);
`

// Run is one persisted estimation result.
type Run struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"createdAt"`
	Model         string          `json:"model"`
	Restriction   string          `json:"restriction"`
	UseTarget     bool            `json:"useTarget"`
	Loss          float64         `json:"loss"`
	LogLikelihood float64         `json:"logLikelihood"`
	Converged     bool            `json:"converged"`
	Iterations    int             `json:"iterations"`
	Params        params.Snapshot `json:"params"`
	Theta         []float64       `json:"theta"`
}

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the runs database at the given path.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := absPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{conn: conn, path: absPath}, nil
}

// OpenInMemory opens an ephemeral database, used by tests.
func OpenInMemory() (*Store, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Blob round-trips break across pooled connections of an in-memory DB.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{conn: conn, path: ":memory:"}, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SaveRun persists one estimation run.
func (s *Store) SaveRun(run *Run) error {
	paramsBlob, err := msgpack.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	thetaBlob, err := msgpack.Marshal(run.Theta)
	if err != nil {
		return fmt.Errorf("failed to encode theta: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO runs (id, created_at, model, restriction, use_target, loss, loglik, converged, iterations, params, theta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC(), run.Model, run.Restriction,
		boolToInt(run.UseTarget), run.Loss, run.LogLikelihood,
		boolToInt(run.Converged), run.Iterations, paramsBlob, thetaBlob,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.conn.QueryRow(`
		SELECT id, created_at, model, restriction, use_target, loss, loglik, converged, iterations, params, theta
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, created_at, model, restriction, use_target, loss, loglik, converged, iterations, params, theta
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs older than the cutoff and returns the number of
// rows removed.
func (s *Store) PruneRuns(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.conn.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// SaveLossReport persists one forecast-loss report.
func (s *Store) SaveLossReport(id string, report *forecast.Report) error {
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO loss_reports (id, created_at, window, report) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC(), report.Window, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", id, err)
	}
	return nil
}

// GetLossReport loads one report by id.
func (s *Store) GetLossReport(id string) (*forecast.Report, error) {
	var blob []byte
	err := s.conn.QueryRow(`SELECT report FROM loss_reports WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", id, err)
	}

	var report forecast.Report
	if err := msgpack.Unmarshal(blob, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var useTarget, converged int
	var paramsBlob, thetaBlob []byte

	err := row.Scan(&run.ID, &run.CreatedAt, &run.Model, &run.Restriction,
		&useTarget, &run.Loss, &run.LogLikelihood, &converged,
		&run.Iterations, &paramsBlob, &thetaBlob)
	if err != nil {
		return nil, err
	}

	run.UseTarget = useTarget != 0
	run.Converged = converged != 0
	if err := msgpack.Unmarshal(paramsBlob, &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode parameters for run %s: %w", run.ID, err)
	}
	if err := msgpack.Unmarshal(thetaBlob, &run.Theta); err != nil {
		return nil, fmt.Errorf("failed to decode theta for run %s: %w", run.ID, err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
