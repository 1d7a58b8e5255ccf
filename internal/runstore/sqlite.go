package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bld-ci/bld/internal/blderr"
)

var (
	_ RunStore  = (*SQLite)(nil)
	_ RunLister = (*SQLite)(nil)
)

// SQLite is a pure-Go, cgo-free run-state store backed by
// modernc.org/sqlite. It implements the logical `pipeline_runs` table
// from the engine's external interface spec.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) the sqlite database at path
// and runs its migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run-state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to run-state database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			app_user TEXT NOT NULL,
			state TEXT NOT NULL,
			stopped INTEGER NOT NULL DEFAULT 0,
			start_date TEXT,
			end_date TEXT,
			date_created TEXT NOT NULL,
			date_updated TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_state ON pipeline_runs(state)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_name ON pipeline_runs(name)`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			date_created TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
			schedule TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			date_created TEXT NOT NULL,
			date_updated TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cron_job_variables (
			cron_job_id TEXT NOT NULL REFERENCES cron_jobs(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cron_job_environment_variables (
			cron_job_id TEXT NOT NULL REFERENCES cron_jobs(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating run-state database: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Insert(ctx context.Context, id, name, user string) (*Run, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, name, app_user, state, stopped, date_created, date_updated)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, name, user, string(StateInitial), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting run %s: %w", id, err)
	}
	return &Run{ID: id, Name: name, User: user, State: StateInitial, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLite) transition(ctx context.Context, id string, to State, stampCol string) error {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM pipeline_runs WHERE id = ?`, id)
	var current string
	if err := row.Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return &blderr.NotFound{Resource: "run", ID: id}
		}
		return fmt.Errorf("reading run %s: %w", id, err)
	}
	from := State(current)
	if to == from {
		return nil
	}
	if order[to] != order[from]+1 && !(to == StateFaulted && order[from] < order[StateFaulted]) {
		return &blderr.InvalidStateTransition{RunID: id, From: current, To: string(to)}
	}

	now := fmtTime(time.Now().UTC())
	query := `UPDATE pipeline_runs SET state = ?, date_updated = ?`
	args := []interface{}{string(to), now}
	if stampCol != "" {
		query += fmt.Sprintf(", %s = ?", stampCol)
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkQueued(ctx context.Context, id string) error {
	return s.transition(ctx, id, StateQueued, "")
}

func (s *SQLite) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, StateRunning, "start_date")
}

func (s *SQLite) MarkFinished(ctx context.Context, id string) error {
	return s.transition(ctx, id, StateFinished, "end_date")
}

func (s *SQLite) MarkFaulted(ctx context.Context, id string) error {
	return s.transition(ctx, id, StateFaulted, "end_date")
}

func (s *SQLite) SetStopped(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET stopped = 1, date_updated = ? WHERE id = ?`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("stopping run %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &blderr.NotFound{Resource: "run", ID: id}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, app_user, state, stopped, start_date, end_date, date_created, date_updated
		FROM pipeline_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &blderr.NotFound{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLite) List(ctx context.Context, f Filter) ([]*Run, error) {
	query := `
		SELECT id, name, app_user, state, stopped, start_date, end_date, date_created, date_updated
		FROM pipeline_runs WHERE 1=1`
	var args []interface{}
	if f.State != nil {
		query += " AND state = ?"
		args = append(args, string(*f.State))
	}
	if f.Name != "" {
		query += " AND name = ?"
		args = append(args, f.Name)
	}
	query += " ORDER BY COALESCE(start_date, date_created) DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var state string
	var stopped int
	var startDate, endDate, created, updated sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.User, &state, &stopped, &startDate, &endDate, &created, &updated); err != nil {
		return nil, err
	}
	r.State = State(state)
	r.Stopped = stopped != 0
	if startDate.Valid {
		t := parseTime(startDate.String)
		r.StartedAt = &t
	}
	if endDate.Valid {
		t := parseTime(endDate.String)
		r.EndedAt = &t
	}
	r.CreatedAt = parseTime(created.String)
	r.UpdatedAt = parseTime(updated.String)
	return &r, nil
}

// CronJob is one scheduled pipeline invocation row, joined with its
// variable and environment tables.
type CronJob struct {
	ID           string
	PipelineName string
	Schedule     string
	Vars         map[string]string
	Env          map[string]string
}

// EnsurePipeline inserts a pipeline name row if absent, returning its
// id (name is used as the id since pipeline names are unique by
// convention in this store).
func (s *SQLite) EnsurePipeline(ctx context.Context, name string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, date_created) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, name, name, fmtTime(time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("ensuring pipeline %s: %w", name, err)
	}
	return name, nil
}

// AddCronJob schedules pipelineName on schedule, persisting vars/env
// as the cron runner's default inputs/environment for each fire.
func (s *SQLite) AddCronJob(ctx context.Context, id, pipelineName, schedule string, vars, env map[string]string) error {
	pipelineID, err := s.EnsurePipeline(ctx, pipelineName)
	if err != nil {
		return err
	}
	now := fmtTime(time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, pipeline_id, schedule, date_created) VALUES (?, ?, ?, ?)`,
		id, pipelineID, schedule, now); err != nil {
		return fmt.Errorf("adding cron job %s: %w", id, err)
	}
	for k, v := range vars {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO cron_job_variables (cron_job_id, name, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return fmt.Errorf("adding cron job variable: %w", err)
		}
	}
	for k, v := range env {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO cron_job_environment_variables (cron_job_id, name, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return fmt.Errorf("adding cron job environment variable: %w", err)
		}
	}
	return nil
}

// ListCronJobs returns every scheduled job with its pipeline name and
// resolved variable/environment maps.
func (s *SQLite) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cron_jobs.id, pipelines.name, cron_jobs.schedule
		FROM cron_jobs JOIN pipelines ON pipelines.id = cron_jobs.pipeline_id`)
	if err != nil {
		return nil, fmt.Errorf("listing cron jobs: %w", err)
	}
	defer rows.Close()

	var jobs []CronJob
	for rows.Next() {
		var j CronJob
		if err := rows.Scan(&j.ID, &j.PipelineName, &j.Schedule); err != nil {
			return nil, fmt.Errorf("scanning cron job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range jobs {
		vars, err := s.cronKV(ctx, "cron_job_variables", jobs[i].ID)
		if err != nil {
			return nil, err
		}
		env, err := s.cronKV(ctx, "cron_job_environment_variables", jobs[i].ID)
		if err != nil {
			return nil, err
		}
		jobs[i].Vars = vars
		jobs[i].Env = env
	}
	return jobs, nil
}

func (s *SQLite) cronKV(ctx context.Context, table, cronJobID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name, value FROM %s WHERE cron_job_id = ?`, table), cronJobID)
	if err != nil {
		return nil, fmt.Errorf("reading %s for %s: %w", table, cronJobID, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
