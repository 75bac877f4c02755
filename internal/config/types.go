package config

import "time"

// Config represents the complete csdb configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	State      StateConfig      `yaml:"state"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Blob       BlobConfig       `yaml:"blob"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Populators PopulatorsConfig `yaml:"populators"`
	Import     ImportConfig     `yaml:"import"`
	API        APIConfig        `yaml:"api,omitempty"`
	Webhooks   *WebhooksConfig  `yaml:"webhooks,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// NodeName identifies this worker on the jobs it runs. Defaults to the hostname.
	NodeName           string        `yaml:"node_name" env:"CSDB_NODE_NAME"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	LogLevel           string        `yaml:"log_level" env:"CSDB_LOG_LEVEL"`
	LogFormat          string        `yaml:"log_format" env:"CSDB_LOG_FORMAT"`
	JobRetention       time.Duration `yaml:"job_retention"`
	WorkspaceRetention time.Duration `yaml:"workspace_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" env:"CSDB_STATE_PATH"`
}

// WorkspaceConfig defines where archives are extracted.
type WorkspaceConfig struct {
	Dir string `yaml:"dir" env:"CSDB_WORKSPACE_DIR"`
}

// BlobConfig selects and configures the blob store backend.
type BlobConfig struct {
	Backend string       `yaml:"backend" env:"CSDB_BLOB_BACKEND"`
	FS      BlobFSConfig `yaml:"fs"`
	S3      BlobS3Config `yaml:"s3"`
}

// BlobFSConfig configures the filesystem blob backend.
type BlobFSConfig struct {
	Dir string `yaml:"dir" env:"CSDB_BLOB_FS_DIR"`
}

// BlobS3Config configures the S3 blob backend.
type BlobS3Config struct {
	Bucket          string `yaml:"bucket" env:"CSDB_BLOB_S3_BUCKET"`
	Region          string `yaml:"region" env:"CSDB_BLOB_S3_REGION"`
	Endpoint        string `yaml:"endpoint" env:"CSDB_BLOB_S3_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"CSDB_BLOB_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"CSDB_BLOB_S3_SECRET_ACCESS_KEY"`
	KeyPrefix       string `yaml:"key_prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	CreateBucket    bool   `yaml:"create_bucket"`
}

// JobsConfig tunes job execution.
type JobsConfig struct {
	Workers      int           `yaml:"workers" env:"CSDB_JOBS_WORKERS"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// CommitEvery is the number of units of work between progress commits.
	CommitEvery int `yaml:"commit_every"`
	// ErrorDetailMax bounds the persisted error detail, marker included.
	ErrorDetailMax int `yaml:"error_detail_max"`
}

// PopulatorsConfig configures the populator registry.
type PopulatorsConfig struct {
	ManifestDirs []string  `yaml:"manifest_dirs" env:"CSDB_POPULATOR_DIRS" env-separator:","`
	Disabled     []string  `yaml:"disabled"`
	XML          XMLConfig `yaml:"xml"`
}

// XMLConfig carries the metadata stamped on stored XML content.
type XMLConfig struct {
	SchemaName    string `yaml:"schema_name"`
	SchemaVariant string `yaml:"schema_variant"`
}

// ImportConfig holds the default schema selection rules for archive imports.
type ImportConfig struct {
	FolderSchema  string       `yaml:"folder_schema"`
	DefaultSchema string       `yaml:"default_schema"`
	Rules         []SchemaRule `yaml:"rules"`
}

// SchemaRule maps a doublestar glob over the archive-relative path to a schema name.
type SchemaRule struct {
	Glob   string `yaml:"glob"`
	Schema string `yaml:"schema"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"CSDB_API_ENABLED"`
	Listen  string `yaml:"listen" env:"CSDB_API_LISTEN"`
	// APIKey enables bearer authentication on every route except /healthz.
	APIKey string `yaml:"api_key" env:"CSDB_API_KEY"`
}

// WebhooksConfig defines the signed import-trigger listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint maps a path to an archive import. Release and Language
// are defaults the request body may override.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
	Release         string `yaml:"release"`
	Language        string `yaml:"language"`
	User            string `yaml:"user"`
}

const (
	SchemaFolder = "folder"
	SchemaXML    = "xml-document"
	SchemaBinary = "binary"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:               "csdb",
			TickInterval:       60 * time.Second,
			LogLevel:           "info",
			LogFormat:          "json",
			JobRetention:       30 * 24 * time.Hour,
			WorkspaceRetention: 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/csdb.db",
		},
		Blob: BlobConfig{
			Backend: "fs",
		},
		Jobs: JobsConfig{
			Workers:        1,
			PollInterval:   time.Second,
			CommitEvery:    50,
			ErrorDetailMax: 50000,
		},
		Populators: PopulatorsConfig{
			XML: XMLConfig{
				SchemaName:    "descript.xsd",
				SchemaVariant: "S1000D_4-2",
			},
		},
		Import: ImportConfig{
			FolderSchema:  SchemaFolder,
			DefaultSchema: SchemaBinary,
			Rules: []SchemaRule{
				{Glob: "**/*.xml", Schema: SchemaXML},
			},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
