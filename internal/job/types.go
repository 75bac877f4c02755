// Package job persists background jobs and drives their status lifecycle.
package job

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusQueued    Status = "QUEUED"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus maps a persisted value to a Status. Empty and unrecognised
// values read back as StatusUnknown.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusQueued, StatusStarting, StatusRunning, StatusCompleted, StatusFailed:
		return st
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether an execution owns the job.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// Type selects the task that runs a job.
type Type string

const (
	TypeArchiveImport   Type = "archive-import"
	TypeSchemaMigration Type = "schema-migration"
)

// MessageFailed is the error message recorded when a task fails without a
// more specific message key.
const MessageFailed = "job_error_failed"

type Job struct {
	ID                  string            `json:"id"`
	Type                Type              `json:"type"`
	Status              Status            `json:"status"`
	Creator             string            `json:"creator"`
	ReleaseID           string            `json:"release_id"`
	Properties          map[string]string `json:"properties,omitempty"`
	FromSchemaVersionID string            `json:"from_schema_version_id,omitempty"`
	ToSchemaVersionID   string            `json:"to_schema_version_id,omitempty"`
	NodeName            string            `json:"node_name,omitempty"`
	CompletionCount     int               `json:"completion_count"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	ErrorDetail         string            `json:"error_detail,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	StoppedAt           *time.Time        `json:"stopped_at,omitempty"`
}

// IsMigration reports whether the job carries a schema version pair.
func (j *Job) IsMigration() bool {
	return j.FromSchemaVersionID != "" && j.ToSchemaVersionID != ""
}

type EnqueueRequest struct {
	Type                Type
	Creator             string
	ReleaseID           string
	Properties          map[string]string
	FromSchemaVersionID string
	ToSchemaVersionID   string
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status Status
	Type   Type
	Limit  int
}

// Edge is the release to schema version edge whose migration status mirrors
// the job migrating it.
type Edge struct {
	ReleaseID       string    `json:"release_id"`
	SchemaVersionID string    `json:"schema_version_id"`
	JobID           string    `json:"job_id,omitempty"`
	MigrationStatus Status    `json:"migration_status"`
	Active          bool      `json:"active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EdgeState is the edge part of a progress commit. When Active is set, the
// release's edge to Supersedes, if any, is deactivated in the same commit.
type EdgeState struct {
	ReleaseID       string
	SchemaVersionID string
	Supersedes      string
	Active          bool
}

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrNotClaimable = errors.New("job is not queued")
	ErrJobActive    = errors.New("job is running")
	ErrTerminal     = errors.New("job already finished")
	ErrEdgeNotFound = errors.New("version edge not found")
)
