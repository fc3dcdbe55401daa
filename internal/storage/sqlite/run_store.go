package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rodtracker/internal/timeutil"
	"github.com/banshee-data/rodtracker/internal/version"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted invocation of a reconstruction or tracking pass.
type Run struct {
	RunID       string          `json:"run_id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
	Error       string          `json:"error,omitempty"`
	Version     string          `json:"version"`
	GitSHA      string          `json:"git_sha"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunStore provides persistence for runs and their rods.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore. A nil clock uses the wall clock.
func NewRunStore(db *sql.DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db, clock: clock}
}

// StartRun records a new running run of the given kind. params is stored as
// JSON and may be nil.
func (s *RunStore) StartRun(kind string, params interface{}) (*Run, error) {
	run := &Run{
		RunID:     uuid.New().String(),
		Kind:      kind,
		Status:    RunStatusRunning,
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		StartedAt: s.clock.Now().UTC(),
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding run params: %w", err)
		}
		run.Params = b
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (run_id, kind, status, params, version, git_sha, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Kind, run.Status, nullJSON(run.Params),
			run.Version, run.GitSHA, run.StartedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return run, nil
}

// CompleteRun stores the final status, diagnostics and error of a run.
func (s *RunStore) CompleteRun(runID, status string, diagnostics interface{}, runErr error) error {
	var diag json.RawMessage
	if diagnostics != nil {
		b, err := json.Marshal(diagnostics)
		if err != nil {
			return fmt.Errorf("encoding diagnostics for %s: %w", runID, err)
		}
		diag = b
	}
	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	completed := s.clock.Now().UTC().UnixNano()

	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE runs SET status = ?, diagnostics = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, nullJSON(diag), nullStr(errMsg), completed, runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("completing run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, kind, status, params, diagnostics, error, version, git_sha, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                  Run
		params, diag, errMsg sql.NullString
		ver, sha             sql.NullString
		startedAt            int64
		completedAt          sql.NullInt64
	)
	if err := row.Scan(&run.RunID, &run.Kind, &run.Status, &params, &diag, &errMsg,
		&ver, &sha, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Params = jsonOrNil(params)
	run.Diagnostics = jsonOrNil(diag)
	run.Error = errMsg.String
	run.Version = ver.String
	run.GitSHA = sha.String
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	return &run, nil
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recent first. A non-positive limit
// returns all runs.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullJSON(data json.RawMessage) *string {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonOrNil converts a sql.NullString to json.RawMessage, returning nil for NULL values.
func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
