package simulation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/horizon/internal/database"
	"github.com/aristath/horizon/internal/domain"
)

// ErrRunNotFound indicates the requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL,
	trials      INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	summary     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario_id);

CREATE TABLE IF NOT EXISTS run_trials (
	run_id      TEXT NOT NULL,
	trial       INTEGER NOT NULL,
	final_value REAL NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	trace       BLOB,
	PRIMARY KEY (run_id, trial)
);
`

// Repository archives completed runs. Summaries are queryable JSON; the
// month-by-month traces are opaque msgpack blobs, written once and never
// updated.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the repository and ensures the schema exists.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("creating runs schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}, nil
}

// StoredRun is the archived view of a run.
type StoredRun struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id"`
	Trials     int       `json:"trials"`
	Seed       uint64    `json:"seed"`
	Summary    Summary   `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveRun archives a completed run atomically and returns its id.
func (r *Repository) SaveRun(scenarioID string, opts Options, res *RunResult) (string, error) {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return "", fmt.Errorf("encoding run summary: %w", err)
	}

	id := uuid.New().String()
	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO runs (id, scenario_id, trials, seed, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, scenarioID, opts.Trials, int64(opts.Seed), string(summary), time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}

		stmt, err := tx.Prepare(
			`INSERT INTO run_trials (run_id, trial, final_value, error, trace) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tr := range res.Trials {
			var trace []byte
			if len(tr.Months) > 0 {
				if trace, err = msgpack.Marshal(tr.Months); err != nil {
					return fmt.Errorf("encoding trial %d trace: %w", tr.Trial, err)
				}
			}
			if _, err := stmt.Exec(id, tr.Trial, tr.FinalValue, tr.Err, trace); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving run for scenario %s: %w", scenarioID, err)
	}

	r.log.Info().Str("id", id).Str("scenario_id", scenarioID).
		Int("trials", opts.Trials).Msg("run archived")
	return id, nil
}

// GetRun loads one run's metadata and summary.
func (r *Repository) GetRun(id string) (*StoredRun, error) {
	var run StoredRun
	var summary, createdAt string
	var seed int64
	err := r.db.Conn().QueryRow(
		`SELECT id, scenario_id, trials, seed, summary, created_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.ScenarioID, &run.Trials, &seed, &summary, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	run.Seed = uint64(seed)
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("decoding run %s summary: %w", id, err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &run, nil
}

// ListRuns returns all archived runs for a scenario, newest first. An empty
// scenario id lists everything.
func (r *Repository) ListRuns(scenarioID string) ([]StoredRun, error) {
	query := `SELECT id, scenario_id, trials, seed, summary, created_at FROM runs`
	var args []any
	if scenarioID != "" {
		query += ` WHERE scenario_id = ?`
		args = append(args, scenarioID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []StoredRun
	for rows.Next() {
		var run StoredRun
		var summary, createdAt string
		var seed int64
		if err := rows.Scan(&run.ID, &run.ScenarioID, &run.Trials, &seed, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		run.Seed = uint64(seed)
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, fmt.Errorf("decoding run %s summary: %w", run.ID, err)
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTrials loads a run's per-trial results, decoding the stored traces.
func (r *Repository) GetTrials(runID string) ([]TrialResult, error) {
	rows, err := r.db.Conn().Query(
		`SELECT trial, final_value, error, trace FROM run_trials WHERE run_id = ? ORDER BY trial`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading trials for run %s: %w", runID, err)
	}
	defer rows.Close()

	var trials []TrialResult
	for rows.Next() {
		var tr TrialResult
		var trace []byte
		if err := rows.Scan(&tr.Trial, &tr.FinalValue, &tr.Err, &trace); err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		if len(trace) > 0 {
			var months []domain.MonthRecord
			if err := msgpack.Unmarshal(trace, &months); err != nil {
				return nil, fmt.Errorf("decoding trial %d trace: %w", tr.Trial, err)
			}
			tr.Months = months
		}
		trials = append(trials, tr)
	}
	if len(trials) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return trials, rows.Err()
}
