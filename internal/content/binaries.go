package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// CreateBinary persists a binary content entity's metadata. The caller stores
// the bytes in the blob store under the returned ID.
func (s *Store) CreateBinary(ctx context.Context, b *Binary) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Kind == "" {
		b.Kind = BinaryKindXML
	}
	now := s.timestamp()
	if _, err := s.q.ExecContext(ctx, `
INSERT INTO binaries(id, kind, size, checksum, schema_name, schema_variant, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);`,
		b.ID, b.Kind, b.Size, b.Checksum, b.SchemaName, b.SchemaVariant, now,
	); err != nil {
		return fmt.Errorf("insert binary %q: %w", b.ID, err)
	}
	b.CreatedAt = parseTime(now)
	return nil
}

// Binary returns a binary content entity by id.
func (s *Store) Binary(ctx context.Context, id string) (*Binary, error) {
	var b Binary
	var created string
	err := s.q.QueryRowContext(ctx, `
SELECT id, kind, size, checksum, schema_name, schema_variant, created_at
FROM binaries WHERE id = ?;`, id,
	).Scan(&b.ID, &b.Kind, &b.Size, &b.Checksum, &b.SchemaName, &b.SchemaVariant, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("binary %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get binary %q: %w", id, err)
	}
	b.CreatedAt = parseTime(created)
	return &b, nil
}

// OpenBinary streams the bytes of a binary content entity from the blob store.
func (s *Store) OpenBinary(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.Binary(ctx, id); err != nil {
		return nil, err
	}
	return s.blobs.Read(ctx, id)
}

// BinaryField returns the edge for a version's field.
func (s *Store) BinaryField(ctx context.Context, versionID, field string) (*BinaryField, error) {
	bf := BinaryField{VersionID: versionID, Field: field}
	err := s.q.QueryRowContext(ctx,
		`SELECT binary_id, filename FROM binary_fields WHERE version_id = ? AND field = ?;`,
		versionID, field,
	).Scan(&bf.BinaryID, &bf.Filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("field %q of version %q: %w", field, versionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get field %q of version %q: %w", field, versionID, err)
	}
	return &bf, nil
}

// SetBinaryField points field on the latest draft at binaryID, replacing any
// existing edge. A replaced entity stays until PruneOrphanBinaries finds it unreferenced.
func (s *Store) SetBinaryField(ctx context.Context, v *Version, field, binaryID, filename string) error {
	if !v.Latest || v.State != StateDraft {
		return fmt.Errorf("set %q on version %q: %w", field, v.ID, ErrImmutable)
	}
	return s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM binary_fields WHERE version_id = ? AND field = ?;`, v.ID, field,
		); err != nil {
			return fmt.Errorf("remove field %q of version %q: %w", field, v.ID, err)
		}
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO binary_fields(version_id, field, binary_id, filename) VALUES(?, ?, ?, ?);`,
			v.ID, field, binaryID, filename,
		); err != nil {
			return fmt.Errorf("link field %q of version %q: %w", field, v.ID, err)
		}
		return nil
	})
}

// DeleteBinary removes a binary content entity and its blob. Field edges
// pointing at it are removed too.
func (s *Store) DeleteBinary(ctx context.Context, id string) error {
	if err := s.blobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete blob of binary %q: %w", id, err)
	}
	return s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM binary_fields WHERE binary_id = ?;`, id); err != nil {
			return fmt.Errorf("unlink binary %q: %w", id, err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM binaries WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete binary %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("binary %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

// PruneOrphanBinaries deletes binaries older than olderThan that no version
// field references any more, returning how many were removed.
func (s *Store) PruneOrphanBinaries(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC().Format(timeFormat)
	rows, err := s.q.QueryContext(ctx, `
SELECT b.id FROM binaries b
WHERE b.created_at < ?
  AND NOT EXISTS (SELECT 1 FROM binary_fields f WHERE f.binary_id = b.id);`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find orphan binaries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for i, id := range ids {
		if err := s.DeleteBinary(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
