package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file (or a directory containing config.yaml),
// expands ${VAR} references, overlays CSDB_* environment variables, fills
// defaults and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}
	// Manifest dirs are relative to the config file, not the working directory.
	for i, dir := range cfg.Populators.ManifestDirs {
		if dir != "" && !filepath.IsAbs(dir) {
			cfg.Populators.ManifestDirs[i] = filepath.Join(filepath.Dir(absPath), dir)
		}
	}
	return cfg, nil
}

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	applyConfigDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CSDB_CONFIG, ~/.config/csdb, /etc/csdb, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("CSDB_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "csdb")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	if _, err := os.Stat("/etc/csdb/config.yaml"); err == nil {
		return "/etc/csdb", nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $CSDB_CONFIG, ~/.config/csdb, /etc/csdb, ./config.yaml)")
}

// Redacted returns YAML for display with secrets masked.
func Redacted(cfg *Config) ([]byte, error) {
	clone := *cfg
	if clone.Blob.S3.SecretAccessKey != "" {
		clone.Blob.S3.SecretAccessKey = "********"
	}
	if clone.API.APIKey != "" {
		clone.API.APIKey = "********"
	}
	if cfg.Webhooks != nil {
		wh := *cfg.Webhooks
		wh.Endpoints = append([]WebhookEndpoint(nil), cfg.Webhooks.Endpoints...)
		for i := range wh.Endpoints {
			if wh.Endpoints[i].Secret != "" {
				wh.Endpoints[i].Secret = "********"
			}
		}
		clone.Webhooks = &wh
	}
	return yaml.Marshal(&clone)
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.NodeName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Service.NodeName = host
		} else {
			cfg.Service.NodeName = cfg.Service.Name
		}
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.JobRetention == 0 {
		cfg.Service.JobRetention = defaults.Service.JobRetention
	}
	if cfg.Service.WorkspaceRetention == 0 {
		cfg.Service.WorkspaceRetention = defaults.Service.WorkspaceRetention
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	stateDir := filepath.Dir(cfg.State.Path)
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = filepath.Join(stateDir, "workspaces")
	}

	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = defaults.Blob.Backend
	}
	if cfg.Blob.FS.Dir == "" {
		cfg.Blob.FS.Dir = filepath.Join(stateDir, "blobs")
	}

	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = defaults.Jobs.Workers
	}
	if cfg.Jobs.PollInterval == 0 {
		cfg.Jobs.PollInterval = defaults.Jobs.PollInterval
	}
	if cfg.Jobs.CommitEvery == 0 {
		cfg.Jobs.CommitEvery = defaults.Jobs.CommitEvery
	}
	if cfg.Jobs.ErrorDetailMax == 0 {
		cfg.Jobs.ErrorDetailMax = defaults.Jobs.ErrorDetailMax
	}

	if cfg.Populators.XML.SchemaName == "" {
		cfg.Populators.XML.SchemaName = defaults.Populators.XML.SchemaName
	}
	if cfg.Populators.XML.SchemaVariant == "" {
		cfg.Populators.XML.SchemaVariant = defaults.Populators.XML.SchemaVariant
	}

	if cfg.Import.FolderSchema == "" {
		cfg.Import.FolderSchema = defaults.Import.FolderSchema
	}
	if cfg.Import.DefaultSchema == "" {
		cfg.Import.DefaultSchema = defaults.Import.DefaultSchema
	}
	if cfg.Import.Rules == nil {
		cfg.Import.Rules = defaults.Import.Rules
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
