package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateSchema creates a schema with its first version.
func (s *Store) CreateSchema(ctx context.Context, name, displayField string, fields []FieldSchema) (*SchemaVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is empty")
	}

	var out *SchemaVersion
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		schemaID := uuid.NewString()
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO schemas(id, name, created_at) VALUES(?, ?, ?);`,
			schemaID, name, tx.timestamp(),
		); err != nil {
			return fmt.Errorf("insert schema %q: %w", name, err)
		}

		sv, err := tx.insertSchemaVersion(ctx, schemaID, name, 1, displayField, fields)
		if err != nil {
			return err
		}
		out = sv
		return nil
	})
	return out, err
}

// AddSchemaVersion appends a new version to an existing schema.
func (s *Store) AddSchemaVersion(ctx context.Context, schemaID, displayField string, fields []FieldSchema) (*SchemaVersion, error) {
	var out *SchemaVersion
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		latest, err := tx.LatestSchemaVersion(ctx, schemaID)
		if err != nil {
			return err
		}
		sv, err := tx.insertSchemaVersion(ctx, schemaID, latest.SchemaName, latest.Version+1, displayField, fields)
		if err != nil {
			return err
		}
		out = sv
		return nil
	})
	return out, err
}

func (s *Store) insertSchemaVersion(ctx context.Context, schemaID, schemaName string, version int, displayField string, fields []FieldSchema) (*SchemaVersion, error) {
	sv := &SchemaVersion{
		ID:           uuid.NewString(),
		SchemaID:     schemaID,
		SchemaName:   schemaName,
		Version:      version,
		DisplayField: displayField,
		Fields:       fields,
	}
	if displayField != "" && !sv.HasField(displayField, FieldString) {
		return nil, fmt.Errorf("display field %q must be a declared string field", displayField)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	now := s.timestamp()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO schema_versions(id, schema_id, version, display_field, fields, created_at) VALUES(?, ?, ?, ?, ?, ?);`,
		sv.ID, schemaID, version, displayField, string(raw), now,
	); err != nil {
		return nil, fmt.Errorf("insert schema version: %w", err)
	}
	sv.CreatedAt = parseTime(now)
	return sv, nil
}

// Schema returns a schema by id.
func (s *Store) Schema(ctx context.Context, id string) (*Schema, error) {
	return s.scanSchema(s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM schemas WHERE id = ?;`, id), id)
}

// SchemaByName returns a schema by its unique name.
func (s *Store) SchemaByName(ctx context.Context, name string) (*Schema, error) {
	return s.scanSchema(s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM schemas WHERE name = ?;`, name), name)
}

func (s *Store) scanSchema(row *sql.Row, key string) (*Schema, error) {
	var sc Schema
	var created string
	if err := row.Scan(&sc.ID, &sc.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schema %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get schema %q: %w", key, err)
	}
	sc.CreatedAt = parseTime(created)
	return &sc, nil
}

const schemaVersionColumns = `sv.id, sv.schema_id, s.name, sv.version, sv.display_field, sv.fields, sv.created_at`

// LatestSchemaVersion resolves the newest version of a schema.
func (s *Store) LatestSchemaVersion(ctx context.Context, schemaID string) (*SchemaVersion, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+schemaVersionColumns+`
FROM schema_versions sv JOIN schemas s ON s.id = sv.schema_id
WHERE sv.schema_id = ?
ORDER BY sv.version DESC
LIMIT 1;`, schemaID)
	return scanSchemaVersion(row, schemaID)
}

// SchemaVersion returns a schema version by id.
func (s *Store) SchemaVersion(ctx context.Context, id string) (*SchemaVersion, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+schemaVersionColumns+`
FROM schema_versions sv JOIN schemas s ON s.id = sv.schema_id
WHERE sv.id = ?;`, id)
	return scanSchemaVersion(row, id)
}

func scanSchemaVersion(row *sql.Row, key string) (*SchemaVersion, error) {
	var sv SchemaVersion
	var fields, created string
	if err := row.Scan(&sv.ID, &sv.SchemaID, &sv.SchemaName, &sv.Version, &sv.DisplayField, &fields, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schema version for %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get schema version %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(fields), &sv.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of schema version %q: %w", sv.ID, err)
	}
	sv.CreatedAt = parseTime(created)
	return &sv, nil
}

// EnsureLanguage creates the language if missing and returns it.
func (s *Store) EnsureLanguage(ctx context.Context, tag, name string) (*Language, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("language tag is empty")
	}
	if name == "" {
		name = tag
	}
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO languages(tag, name) VALUES(?, ?) ON CONFLICT(tag) DO NOTHING;`, tag, name,
	); err != nil {
		return nil, fmt.Errorf("insert language %q: %w", tag, err)
	}
	return s.Language(ctx, tag)
}

// Language resolves a language by tag.
func (s *Store) Language(ctx context.Context, tag string) (*Language, error) {
	var l Language
	err := s.q.QueryRowContext(ctx, `SELECT tag, name FROM languages WHERE tag = ?;`, tag).Scan(&l.Tag, &l.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("language %q: %w", tag, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get language %q: %w", tag, err)
	}
	return &l, nil
}

// CreateRelease creates a named release.
func (s *Store) CreateRelease(ctx context.Context, name string) (*Release, error) {
	r := &Release{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	if r.Name == "" {
		return nil, fmt.Errorf("release name is empty")
	}
	now := s.timestamp()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO releases(id, name, created_at) VALUES(?, ?, ?);`, r.ID, r.Name, now,
	); err != nil {
		return nil, fmt.Errorf("insert release %q: %w", r.Name, err)
	}
	r.CreatedAt = parseTime(now)
	return r, nil
}

// Release returns a release by id.
func (s *Store) Release(ctx context.Context, id string) (*Release, error) {
	return s.scanRelease(s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM releases WHERE id = ?;`, id), id)
}

// ReleaseByName returns a release by name.
func (s *Store) ReleaseByName(ctx context.Context, name string) (*Release, error) {
	return s.scanRelease(s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM releases WHERE name = ?;`, name), name)
}

func (s *Store) scanRelease(row *sql.Row, key string) (*Release, error) {
	var r Release
	var created string
	if err := row.Scan(&r.ID, &r.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("release %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get release %q: %w", key, err)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}
