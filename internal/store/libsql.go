package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/wfstatus/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/wfstatus.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// A single connection serializes writers, which keeps per-workflow
	// event sequences gap-free.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

const workflowColumns = `id, tracker, seq, name, conf, run_state, failure_info, submission_time, created_at, updated_at`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	conf, err := json.Marshal(wf.Conf)
	if err != nil {
		return fmt.Errorf("marshal conf: %w", err)
	}
	if wf.RunState == "" {
		wf.RunState = schema.RunStatePrep
	}
	if wf.FailureInfo == "" {
		wf.FailureInfo = "NA"
	}
	if wf.SubmissionTime == 0 {
		wf.SubmissionTime = -1
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = timeOrNow(wf.UpdatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Tracker, wf.Seq, wf.Name, string(conf), string(wf.RunState),
		wf.FailureInfo, wf.SubmissionTime, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil && isConstraint(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.RunState != nil {
		sets = append(sets, "run_state = ?")
		args = append(args, string(*update.RunState))
	}
	if update.FailureInfo != nil {
		sets = append(sets, "failure_info = ?")
		args = append(args, *update.FailureInfo)
	}
	if update.SubmissionTime != nil {
		sets = append(sets, "submission_time = ?")
		args = append(args, *update.SubmissionTime)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.RunState != nil {
		where = append(where, "run_state = ?")
		args = append(args, string(*filter.RunState))
	}
	if filter.Tracker != "" {
		where = append(where, "tracker = ?")
		args = append(args, filter.Tracker)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY tracker, seq"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes the record together with its events and snapshots.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var confJSON, runState string
	if err := row.Scan(&wf.ID, &wf.Tracker, &wf.Seq, &wf.Name, &confJSON, &runState,
		&wf.FailureInfo, &wf.SubmissionTime, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.RunState = schema.RunState(runState)
	if err := json.Unmarshal([]byte(confJSON), &wf.Conf); err != nil {
		return nil, fmt.Errorf("unmarshal conf: %w", err)
	}
	return wf, nil
}

// --- Events ---

// AppendEvent stores event with the next per-workflow sequence number and
// writes the assigned sequence back into event.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	ts := timeOrNow(event.Timestamp)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, job, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.WorkflowID, nullStr(event.Job), event.Type, nullRaw(event.Payload), ts, seq,
	)
	if err != nil {
		if isConstraint(err) {
			return storeNotFound("workflow", event.WorkflowID).WithCause(err)
		}
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = ts
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetEvents returns events for a workflow with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, job, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Job != "" {
		where = append(where, "job = ?")
		args = append(args, filter.Job)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, job, event_type, payload, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY timestamp DESC, id DESC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var job, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &job, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Job = job.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if len(snap.Data) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "snapshot for %q has no data", snap.WorkflowID)
	}
	snap.TakenAt = timeOrNow(snap.TakenAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (workflow_id, run_state, finished, data, taken_at) VALUES (?, ?, ?, ?, ?)`,
		snap.WorkflowID, string(snap.RunState), snap.Finished, snap.Data, snap.TakenAt,
	)
	if err != nil {
		if isConstraint(err) {
			return storeNotFound("workflow", snap.WorkflowID).WithCause(err)
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

func (s *LibSQLStore) LatestSnapshot(ctx context.Context, workflowID string) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, run_state, finished, data, taken_at FROM snapshots
		 WHERE workflow_id = ? ORDER BY taken_at DESC, id DESC LIMIT 1`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, storeNotFound("snapshot for workflow", workflowID)
	}
	return snaps[0], nil
}

func (s *LibSQLStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.RunState != nil {
		where = append(where, "run_state = ?")
		args = append(args, string(*filter.RunState))
	}
	if filter.Since != nil {
		where = append(where, "taken_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, run_state, finished, data, taken_at FROM snapshots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY taken_at DESC, id DESC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	var snaps []*Snapshot
	for rows.Next() {
		sn := &Snapshot{}
		var runState string
		if err := rows.Scan(&sn.ID, &sn.WorkflowID, &runState, &sn.Finished, &sn.Data, &sn.TakenAt); err != nil {
			return nil, err
		}
		sn.RunState = schema.RunState(runState)
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isConstraint(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	q := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", offset)
	}
	return q
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
