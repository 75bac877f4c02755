package webhook

import (
	"context"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/job"
)

// JobQueuer enqueues webhook-triggered imports.
type JobQueuer interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (string, error)
}

// ReleaseResolver finds the release an import targets.
type ReleaseResolver interface {
	Release(ctx context.Context, id string) (*content.Release, error)
	ReleaseByName(ctx context.Context, name string) (*content.Release, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	Path   string
	Secret string
	// SignatureHeader is the request header carrying the HMAC signature,
	// e.g. X-Hub-Signature-256.
	SignatureHeader string
	MaxBodySize     int64

	// Defaults applied when the body leaves them empty.
	Release  string
	Language string
	User     string
}

// TriggerRequest is the JSON body a webhook caller posts.
type TriggerRequest struct {
	ArchivePath     string `json:"archive_path"`
	Release         string `json:"release,omitempty"`
	Language        string `json:"language,omitempty"`
	RootNode        string `json:"root_node,omitempty"`
	SchemaForFolder string `json:"schema_for_folder,omitempty"`
	SchemaForXML    string `json:"schema_for_xml,omitempty"`
	SchemaForBinary string `json:"schema_for_binary,omitempty"`
}

// TriggerResponse is the JSON response for successful webhook triggers.
type TriggerResponse struct {
	JobID string `json:"job_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize = 1 << 20
	DefaultUser        = "webhook"
)
