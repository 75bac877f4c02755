package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// minErrorDetail leaves room for the truncation marker plus some text.
const minErrorDetail = 256

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Service.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("service.tick_interval must be positive"))
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat))
	}

	if cfg.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}

	switch cfg.Blob.Backend {
	case "memory":
	case "fs":
		if cfg.Blob.FS.Dir == "" {
			errs = append(errs, fmt.Errorf("blob.fs.dir is required for the fs backend"))
		}
	case "s3":
		if cfg.Blob.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob.s3.bucket is required for the s3 backend"))
		}
		if (cfg.Blob.S3.AccessKeyID == "") != (cfg.Blob.S3.SecretAccessKey == "") {
			errs = append(errs, fmt.Errorf("blob.s3.access_key_id and blob.s3.secret_access_key must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend must be one of: memory, fs, s3 (got %q)", cfg.Blob.Backend))
	}

	if cfg.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("jobs.workers must be at least 1"))
	}
	if cfg.Jobs.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("jobs.poll_interval must be positive"))
	}
	if cfg.Jobs.CommitEvery < 1 {
		errs = append(errs, fmt.Errorf("jobs.commit_every must be at least 1"))
	}
	if cfg.Jobs.ErrorDetailMax < minErrorDetail {
		errs = append(errs, fmt.Errorf("jobs.error_detail_max must be at least %d", minErrorDetail))
	}

	for _, name := range cfg.Populators.Disabled {
		if name == "default" {
			errs = append(errs, fmt.Errorf("populators.disabled: the default populator cannot be disabled"))
		}
	}

	for i, rule := range cfg.Import.Rules {
		if rule.Glob == "" || rule.Schema == "" {
			errs = append(errs, fmt.Errorf("import.rules[%d]: glob and schema are required", i))
			continue
		}
		if _, err := doublestar.Match(rule.Glob, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("import.rules[%d]: invalid glob %q: %w", i, rule.Glob, err))
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		errs = append(errs, fmt.Errorf("api.listen is required when the API is enabled"))
	}

	if wh := cfg.Webhooks; wh != nil {
		if wh.Listen == "" {
			errs = append(errs, fmt.Errorf("webhooks.listen is required"))
		}
		seen := make(map[string]int)
		for i, ep := range wh.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d].path must start with /", i))
			}
			if prev, ok := seen[strings.TrimSuffix(ep.Path, "/")]; ok {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d].path %q conflicts with webhooks.endpoints[%d]", i, ep.Path, prev))
			}
			seen[strings.TrimSuffix(ep.Path, "/")] = i
			if ep.Secret == "" {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d].secret is required", i))
			}
			if ep.SignatureHeader == "" {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d].signature_header is required", i))
			}
		}
	}

	return errors.Join(errs...)
}
