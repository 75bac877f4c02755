package api

import "github.com/mattjoyce/csdb/internal/job"

// ImportRequest is the JSON body for POST /jobs/import.
type ImportRequest struct {
	User string `json:"user"`
	// Release is a release id or name.
	Release         string `json:"release"`
	Language        string `json:"language"`
	ArchivePath     string `json:"archive_path"`
	RootNode        string `json:"root_node,omitempty"`
	SchemaForFolder string `json:"schema_for_folder,omitempty"`
	SchemaForXML    string `json:"schema_for_xml,omitempty"`
	SchemaForBinary string `json:"schema_for_binary,omitempty"`
}

// EnqueueResponse is returned when a job is queued.
type EnqueueResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []*job.Job `json:"jobs"`
}

// PopulatorSummary describes one registered populator.
type PopulatorSummary struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// PopulatorListResponse lists populators in selection order.
type PopulatorListResponse struct {
	Populators []PopulatorSummary `json:"populators"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueueDepth      int    `json:"queue_depth"`
	PopulatorsCount int    `json:"populators_loaded"`
}
