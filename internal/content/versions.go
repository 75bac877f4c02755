package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// ErrImmutable is returned when writing to a version that is no longer the latest draft.
var ErrImmutable = errors.New("version is immutable")

// NewVersion describes a draft version to create.
type NewVersion struct {
	NodeID          string
	Language        string
	ReleaseID       string
	SchemaVersionID string
	Editor          string
}

const versionColumns = `id, node_id, language, release_id, state, schema_version_id, display_value,
fields, COALESCE(previous_id, ''), latest, editor, created_at`

// CreateDraftVersion creates a new latest draft for (node, language, release).
// When a prior draft exists the new one is derived from it: string fields and
// binary field edges are copied and the prior draft stops being latest.
func (s *Store) CreateDraftVersion(ctx context.Context, in NewVersion) (*Version, error) {
	var out *Version
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		sv, err := tx.SchemaVersion(ctx, in.SchemaVersionID)
		if err != nil {
			return err
		}

		v := &Version{
			ID:        uuid.NewString(),
			NodeID:    in.NodeID,
			Language:  in.Language,
			ReleaseID: in.ReleaseID,
			State:     StateDraft,
			Schema:    sv,
			Fields:    map[string]string{},
			Latest:    true,
			Editor:    in.Editor,
		}

		prev, err := tx.LatestVersion(ctx, in.NodeID, in.Language, in.ReleaseID, StateDraft)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			v.PreviousID = prev.ID
			maps.Copy(v.Fields, prev.Fields)
			if _, err := tx.q.ExecContext(ctx, `UPDATE node_versions SET latest = 0 WHERE id = ?;`, prev.ID); err != nil {
				return fmt.Errorf("retire draft %q: %w", prev.ID, err)
			}
		}
		if sv.DisplayField != "" {
			v.DisplayValue = v.Fields[sv.DisplayField]
		}

		raw, err := json.Marshal(v.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		now := tx.timestamp()
		if _, err := tx.q.ExecContext(ctx, `
INSERT INTO node_versions(id, node_id, language, release_id, state, schema_version_id, display_value,
  fields, previous_id, latest, editor, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?);`,
			v.ID, v.NodeID, v.Language, v.ReleaseID, string(v.State), sv.ID, v.DisplayValue,
			string(raw), nullString(v.PreviousID), v.Editor, now,
		); err != nil {
			return fmt.Errorf("insert draft for node %q: %w", in.NodeID, err)
		}
		v.CreatedAt = parseTime(now)

		if v.PreviousID != "" {
			if _, err := tx.q.ExecContext(ctx, `
INSERT INTO binary_fields(version_id, field, binary_id, filename)
SELECT ?, field, binary_id, filename FROM binary_fields WHERE version_id = ?;`,
				v.ID, v.PreviousID,
			); err != nil {
				return fmt.Errorf("copy binary fields: %w", err)
			}
		}

		out = v
		return nil
	})
	return out, err
}

// LatestVersion returns the latest version for (node, language, release, state).
func (s *Store) LatestVersion(ctx context.Context, nodeID, language, releaseID string, state State) (*Version, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+versionColumns+`
FROM node_versions
WHERE node_id = ? AND language = ? AND release_id = ? AND state = ? AND latest = 1;`,
		nodeID, language, releaseID, string(state))
	return s.scanVersion(ctx, row, nodeID)
}

// Version returns a version by id.
func (s *Store) Version(ctx context.Context, id string) (*Version, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM node_versions WHERE id = ?;`, id)
	return s.scanVersion(ctx, row, id)
}

// DraftsBoundTo lists the latest drafts in a release bound to a schema version.
func (s *Store) DraftsBoundTo(ctx context.Context, schemaVersionID, releaseID string) ([]*Version, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT id FROM node_versions
WHERE schema_version_id = ? AND release_id = ? AND state = 'draft' AND latest = 1
ORDER BY rowid ASC;`, schemaVersionID, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list drafts bound to %q: %w", schemaVersionID, err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Version, 0, len(ids))
	for _, id := range ids {
		v, err := s.Version(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) scanVersion(ctx context.Context, row *sql.Row, key string) (*Version, error) {
	var v Version
	var state, svID, fields, created string
	var latest int
	err := row.Scan(&v.ID, &v.NodeID, &v.Language, &v.ReleaseID, &state, &svID, &v.DisplayValue,
		&fields, &v.PreviousID, &latest, &v.Editor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version for %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %q: %w", key, err)
	}
	v.State = State(state)
	v.Latest = latest == 1
	v.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(fields), &v.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of version %q: %w", v.ID, err)
	}
	if v.Fields == nil {
		v.Fields = map[string]string{}
	}
	sv, err := s.SchemaVersion(ctx, svID)
	if err != nil {
		return nil, err
	}
	v.Schema = sv
	return &v, nil
}

// SetStringField writes a string field on the latest draft and keeps the
// cached display value in step when field is the display field.
func (s *Store) SetStringField(ctx context.Context, v *Version, field, value string) error {
	if !v.Latest || v.State != StateDraft {
		return fmt.Errorf("set %q on version %q: %w", field, v.ID, ErrImmutable)
	}
	if !v.Schema.HasField(field, FieldString) {
		return fmt.Errorf("schema %q has no string field %q", v.Schema.SchemaName, field)
	}

	fields := maps.Clone(v.Fields)
	if fields == nil {
		fields = map[string]string{}
	}
	fields[field] = value
	display := v.DisplayValue
	if field == v.Schema.DisplayField {
		display = value
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE node_versions SET fields = ?, display_value = ? WHERE id = ?;`,
		string(raw), display, v.ID,
	); err != nil {
		return fmt.Errorf("update version %q: %w", v.ID, err)
	}
	v.Fields = fields
	v.DisplayValue = display
	return nil
}
