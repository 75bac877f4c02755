package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the job and content graph tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalDisk("state.path", path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN applies the pragmas on every pooled connection, not just the first.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
  id                     TEXT PRIMARY KEY,
  type                   TEXT NOT NULL,
  status                 TEXT NOT NULL DEFAULT '',
  creator                TEXT NOT NULL DEFAULT '',
  release_id             TEXT NOT NULL DEFAULT '',
  properties             JSON NOT NULL DEFAULT '{}',
  from_schema_version_id TEXT,
  to_schema_version_id   TEXT,
  node_name              TEXT NOT NULL DEFAULT '',
  completion_count       INTEGER NOT NULL DEFAULT 0,
  error_message          TEXT,
  error_detail           TEXT,
  created_at             TEXT NOT NULL,
  started_at             TEXT,
  stopped_at             TEXT
);`,
		`CREATE INDEX IF NOT EXISTS jobs_status_created_at_idx ON jobs(status, created_at);`,
		`CREATE TABLE IF NOT EXISTS release_schema_versions (
  release_id        TEXT NOT NULL,
  schema_version_id TEXT NOT NULL,
  job_id            TEXT,
  migration_status  TEXT NOT NULL DEFAULT 'UNKNOWN',
  active            INTEGER NOT NULL DEFAULT 0,
  updated_at        TEXT NOT NULL,
  PRIMARY KEY (release_id, schema_version_id)
);`,
		`CREATE TABLE IF NOT EXISTS languages (
  tag  TEXT PRIMARY KEY,
  name TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS releases (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS schemas (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS schema_versions (
  id            TEXT PRIMARY KEY,
  schema_id     TEXT NOT NULL REFERENCES schemas(id),
  version       INTEGER NOT NULL,
  display_field TEXT NOT NULL,
  fields        JSON NOT NULL,
  created_at    TEXT NOT NULL,
  UNIQUE (schema_id, version)
);`,
		`CREATE TABLE IF NOT EXISTS nodes (
  id         TEXT PRIMARY KEY,
  schema_id  TEXT NOT NULL REFERENCES schemas(id),
  creator    TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS node_parents (
  node_id    TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
  release_id TEXT NOT NULL REFERENCES releases(id),
  parent_id  TEXT REFERENCES nodes(id),
  PRIMARY KEY (node_id, release_id)
);`,
		`CREATE INDEX IF NOT EXISTS node_parents_parent_idx ON node_parents(parent_id, release_id);`,
		`CREATE TABLE IF NOT EXISTS node_versions (
  id                TEXT PRIMARY KEY,
  node_id           TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
  language          TEXT NOT NULL REFERENCES languages(tag),
  release_id        TEXT NOT NULL REFERENCES releases(id),
  state             TEXT NOT NULL,
  schema_version_id TEXT NOT NULL REFERENCES schema_versions(id),
  display_value     TEXT NOT NULL DEFAULT '',
  fields            JSON NOT NULL DEFAULT '{}',
  previous_id       TEXT,
  latest            INTEGER NOT NULL DEFAULT 1,
  editor            TEXT NOT NULL DEFAULT '',
  created_at        TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS node_versions_latest_idx
  ON node_versions(node_id, language, release_id, state) WHERE latest = 1;`,
		`CREATE INDEX IF NOT EXISTS node_versions_schema_version_idx ON node_versions(schema_version_id, latest);`,
		`CREATE TABLE IF NOT EXISTS binaries (
  id             TEXT PRIMARY KEY,
  kind           TEXT NOT NULL,
  size           INTEGER NOT NULL,
  checksum       TEXT NOT NULL,
  schema_name    TEXT NOT NULL DEFAULT '',
  schema_variant TEXT NOT NULL DEFAULT '',
  created_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS binary_fields (
  version_id TEXT NOT NULL REFERENCES node_versions(id) ON DELETE CASCADE,
  field      TEXT NOT NULL,
  binary_id  TEXT NOT NULL REFERENCES binaries(id),
  filename   TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (version_id, field)
);`,
		`CREATE INDEX IF NOT EXISTS binary_fields_binary_idx ON binary_fields(binary_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
