package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, type, status, creator, release_id, properties,
COALESCE(from_schema_version_id, ''), COALESCE(to_schema_version_id, ''), node_name,
completion_count, COALESCE(error_message, ''), COALESCE(error_detail, ''),
created_at, started_at, stopped_at`

// Store persists jobs and version edges.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Enqueue persists a new QUEUED job. A migration job also records the
// edge to its target schema version as QUEUED.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Type == "" {
		return "", fmt.Errorf("job type is empty")
	}
	if req.Creator == "" {
		return "", fmt.Errorf("creator is empty")
	}
	if req.Type == TypeSchemaMigration && (req.FromSchemaVersionID == "" || req.ToSchemaVersionID == "") {
		return "", fmt.Errorf("migration job needs from and to schema versions")
	}
	if req.Type == TypeSchemaMigration && req.ReleaseID == "" {
		return "", fmt.Errorf("migration job needs a release")
	}

	props := req.Properties
	if props == nil {
		props = map[string]string{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}

	id := uuid.NewString()
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO jobs(id, type, status, creator, release_id, properties,
  from_schema_version_id, to_schema_version_id, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		id, string(req.Type), string(StatusQueued), req.Creator, req.ReleaseID, string(raw),
		nullString(req.FromSchemaVersionID), nullString(req.ToSchemaVersionID), now,
	); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	if req.ToSchemaVersionID != "" && req.ReleaseID != "" {
		if err := upsertEdge(ctx, tx, id, StatusQueued, EdgeState{
			ReleaseID:       req.ReleaseID,
			SchemaVersionID: req.ToSchemaVersionID,
		}, now); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j          Job
		typeS      string
		statusS    string
		props      string
		createdAtS string
		startedAtS sql.NullString
		stoppedAtS sql.NullString
	)
	if err := row.Scan(
		&j.ID, &typeS, &statusS, &j.Creator, &j.ReleaseID, &props,
		&j.FromSchemaVersionID, &j.ToSchemaVersionID, &j.NodeName,
		&j.CompletionCount, &j.ErrorMessage, &j.ErrorDetail,
		&createdAtS, &startedAtS, &stoppedAtS,
	); err != nil {
		return nil, err
	}
	j.Type = Type(typeS)
	j.Status = ParseStatus(statusS)
	if props != "" {
		if err := json.Unmarshal([]byte(props), &j.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of job %q: %w", j.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	j.StartedAt = parseNullTime(startedAtS)
	j.StoppedAt = parseNullTime(stoppedAtS)
	return &j, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}
	return j, nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// FindByStatus returns jobs in any of the given statuses, oldest first.
func (s *Store) FindByStatus(ctx context.Context, statuses ...Status) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY created_at ASC, rowid ASC;`,
		args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// NextQueued returns the oldest QUEUED job, or (nil, nil) when there is none.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE status = ?
ORDER BY created_at ASC, rowid ASC
LIMIT 1;`, string(StatusQueued)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return j, nil
}

// Start moves a QUEUED job to STARTING, stamping the start time and the
// worker's node name in one statement. ErrNotClaimable means another
// worker got there first or the job is no longer queued.
func (s *Store) Start(ctx context.Context, id, nodeName string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
UPDATE jobs
SET status = ?, started_at = ?, stopped_at = NULL, node_name = ?
WHERE id = ? AND status = ?
RETURNING `+jobColumns+`;`,
		string(StatusStarting), s.timestamp(), nodeName, id, string(StatusQueued)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	if err != nil {
		return nil, fmt.Errorf("start job %q: %w", id, err)
	}
	return j, nil
}

// SaveProgress persists st on the job and, when edge is set, mirrors the
// status onto the version edge. Both writes share one transaction.
func (s *Store) SaveProgress(ctx context.Context, id string, st State, edge *EdgeState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, completion_count = ?, started_at = ?, stopped_at = ?, error_message = ?, error_detail = ?
WHERE id = ?;`,
		string(st.Status), st.CompletionCount, formatTime(st.StartedAt), formatTime(st.StoppedAt),
		nullString(st.ErrorMessage), nullString(st.ErrorDetail), id,
	)
	if err != nil {
		return fmt.Errorf("save job %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if edge != nil {
		if err := upsertEdge(ctx, tx, id, st.Status, *edge, s.timestamp()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsertEdge(ctx context.Context, tx *sql.Tx, jobID string, status Status, edge EdgeState, now string) error {
	active := 0
	if edge.Active {
		active = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO release_schema_versions(release_id, schema_version_id, job_id, migration_status, active, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(release_id, schema_version_id) DO UPDATE SET
  job_id = excluded.job_id,
  migration_status = excluded.migration_status,
  active = excluded.active,
  updated_at = excluded.updated_at;`,
		edge.ReleaseID, edge.SchemaVersionID, jobID, string(status), active, now,
	); err != nil {
		return fmt.Errorf("save version edge %s/%s: %w", edge.ReleaseID, edge.SchemaVersionID, err)
	}
	if !edge.Active || edge.Supersedes == "" || edge.Supersedes == edge.SchemaVersionID {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE release_schema_versions SET active = 0, updated_at = ?
WHERE release_id = ? AND schema_version_id = ?;`,
		now, edge.ReleaseID, edge.Supersedes,
	); err != nil {
		return fmt.Errorf("deactivate version edge %s/%s: %w", edge.ReleaseID, edge.Supersedes, err)
	}
	return nil
}

// Edge returns the version edge between a release and a schema version.
func (s *Store) Edge(ctx context.Context, releaseID, schemaVersionID string) (*Edge, error) {
	var (
		e        Edge
		jobID    sql.NullString
		statusS  string
		active   int
		updatedS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT release_id, schema_version_id, job_id, migration_status, active, updated_at
FROM release_schema_versions WHERE release_id = ? AND schema_version_id = ?;`,
		releaseID, schemaVersionID,
	).Scan(&e.ReleaseID, &e.SchemaVersionID, &jobID, &statusS, &active, &updatedS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrEdgeNotFound, releaseID, schemaVersionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get version edge: %w", err)
	}
	e.JobID = jobID.String
	e.MigrationStatus = ParseStatus(statusS)
	e.Active = active == 1
	if t, err := time.Parse(time.RFC3339Nano, updatedS); err == nil {
		e.UpdatedAt = t
	}
	return &e, nil
}

// Reset returns a finished job to QUEUED, clearing timestamps, progress and
// errors so it can run again. Active jobs are refused with ErrJobActive.
func (s *Store) Reset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var statusS string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, id).Scan(&statusS)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load job %q: %w", id, err)
	}
	if ParseStatus(statusS).Active() {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, started_at = NULL, stopped_at = NULL, node_name = '',
    completion_count = 0, error_message = NULL, error_detail = NULL
WHERE id = ?;`, string(StatusQueued), id); err != nil {
		return fmt.Errorf("reset job %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE release_schema_versions SET migration_status = ?, active = 0, updated_at = ?
WHERE job_id = ?;`, string(StatusQueued), s.timestamp(), id); err != nil {
		return fmt.Errorf("reset version edge of job %q: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Delete removes a job that is not running. Its version edge stays, detached.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var statusS string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, id).Scan(&statusS)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load job %q: %w", id, err)
	}
	if ParseStatus(statusS).Active() {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE release_schema_versions SET job_id = NULL WHERE job_id = ?;`, id); err != nil {
		return fmt.Errorf("detach version edge of job %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PruneFinished deletes COMPLETED and FAILED jobs that stopped more than
// olderThan ago.
func (s *Store) PruneFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan).UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const finished = `status IN (?, ?) AND stopped_at IS NOT NULL AND stopped_at < ?`
	args := []any{string(StatusCompleted), string(StatusFailed), cutoff}
	if _, err := tx.ExecContext(ctx,
		`UPDATE release_schema_versions SET job_id = NULL WHERE job_id IN (SELECT id FROM jobs WHERE `+finished+`);`,
		args...); err != nil {
		return 0, fmt.Errorf("detach pruned version edges: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE `+finished+`;`, args...)
	if err != nil {
		return 0, fmt.Errorf("prune finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

// MarkOrphaned fails every STARTING or RUNNING job owned by nodeName, or by
// any node when nodeName is empty. It is meant for startup, before this node
// runs anything, and returns the ids it failed.
func (s *Store) MarkOrphaned(ctx context.Context, nodeName, message string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT id FROM jobs WHERE status IN (?, ?)`
	args := []any{string(StatusStarting), string(StatusRunning)}
	if nodeName != "" {
		query += ` AND node_name = ?`
		args = append(args, nodeName)
	}
	rows, err := tx.QueryContext(ctx, query+` ORDER BY created_at ASC, rowid ASC;`, args...)
	if err != nil {
		return nil, fmt.Errorf("find orphaned jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	now := s.timestamp()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, stopped_at = ?, error_message = ?, error_detail = ?
WHERE id = ?;`, string(StatusFailed), now, message, message, id); err != nil {
			return nil, fmt.Errorf("fail orphaned job %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE release_schema_versions SET migration_status = ?, updated_at = ? WHERE job_id = ?;`,
			string(StatusFailed), now, id); err != nil {
			return nil, fmt.Errorf("fail version edge of job %q: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return ids, nil
}
