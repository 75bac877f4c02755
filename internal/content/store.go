// Package content is the versioned content graph: schemas, releases, nodes,
// node versions and binary content entities, persisted in SQLite.
package content

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/csdb/internal/blob"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store reads and writes the content graph. A Store returned inside
// WithTransaction is bound to that transaction.
type Store struct {
	db    *sql.DB
	q     dbtx
	inTx  bool
	blobs blob.Store
	now   func() time.Time
}

func New(db *sql.DB, blobs blob.Store) *Store {
	return &Store{db: db, q: db, blobs: blobs, now: time.Now}
}

// Blobs exposes the blob store behind binary content entities.
func (s *Store) Blobs() blob.Store { return s.blobs }

// WithTransaction runs fn inside one transaction, committing when fn returns nil.
// Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	scoped := &Store{db: s.db, q: sqlTx, inTx: true, blobs: s.blobs, now: s.now}
	if err := fn(ctx, scoped); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}
