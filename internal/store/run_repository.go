package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is a persisted record of one drafting run.
type Run struct {
	ID         string
	Task       string
	Model      string
	FinalDraft string
	Iterations int
	IssueCount int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunEvent is one persisted state transition within a run.
type RunEvent struct {
	ID        string
	RunID     string
	Timestamp time.Time
	State     string
	Changed   map[string]string
}

// RunRepository persists run history and transition events.
type RunRepository struct {
	store *Store
}

// NewRunRepository creates a RunRepository backed by the store.
func NewRunRepository(s *Store) *RunRepository {
	return &RunRepository{store: s}
}

// Create records the start of a run. A missing ID is generated.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.Task == "" {
		return fmt.Errorf("run task is required")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	} else {
		run.StartedAt = run.StartedAt.UTC()
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, model, iterations, issue_count, started_at)
		VALUES (?, ?, ?, 0, 0, ?)
	`, run.ID, run.Task, run.Model, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Finish records the terminal outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, id, finalDraft string, iterations, issueCount int) error {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE runs SET final_draft = ?, iterations = ?, issue_count = ?, finished_at = ?
		WHERE id = ?
	`, finalDraft, iterations, issueCount, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}

// AppendEvent persists one transition event for a run.
func (r *RunRepository) AppendEvent(ctx context.Context, ev *RunEvent) error {
	if ev.RunID == "" || ev.State == "" {
		return fmt.Errorf("event run id and state are required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}

	var changedJSON *string
	if len(ev.Changed) > 0 {
		data, err := json.Marshal(ev.Changed)
		if err != nil {
			return fmt.Errorf("marshaling changed fields: %w", err)
		}
		s := string(data)
		changedJSON = &s
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, timestamp, state, changed_json)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.RunID, ev.Timestamp.Format(time.RFC3339Nano), ev.State, changedJSON)
	if err != nil {
		return fmt.Errorf("inserting run event: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, task, model, final_draft, iterations, issue_count, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Get returns one run by id.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, task, model, final_draft, iterations, issue_count, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying run: %w", err)
		}
		return nil, fmt.Errorf("run %q not found", id)
	}
	return scanRun(rows)
}

// Events returns a run's transition events in insertion order. Ordering is
// by the monotonic seq column, not by timestamp: a full run fits in well
// under a second, so wall-clock order cannot be trusted to replay it.
func (r *RunRepository) Events(ctx context.Context, runID string) ([]*RunEvent, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, state, changed_json
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run events: %w", err)
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		var ev RunEvent
		var ts string
		var changedJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ts, &ev.State, &changedJSON); err != nil {
			return nil, fmt.Errorf("scanning run event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if changedJSON.Valid {
			if err := json.Unmarshal([]byte(changedJSON.String), &ev.Changed); err != nil {
				return nil, fmt.Errorf("unmarshaling changed fields: %w", err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run events: %w", err)
	}
	return events, nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var run Run
	var finalDraft sql.NullString
	var startedAt string
	var finishedAt sql.NullString
	if err := rows.Scan(&run.ID, &run.Task, &run.Model, &finalDraft,
		&run.Iterations, &run.IssueCount, &startedAt, &finishedAt); err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	run.FinalDraft = finalDraft.String
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt.String)
	}
	return &run, nil
}
