package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/csdb/internal/config"
)

// FromGlobalConfig turns the webhooks section into listener config. Every
// endpoint needs a secret.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, errors.New("webhooks section is missing")
	}

	out := Config{Listen: wc.Listen, Endpoints: make([]EndpointConfig, 0, len(wc.Endpoints))}
	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook %s: secret is empty", ep.Path)
		}
		limit, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook %s: max_body_size: %w", ep.Path, err)
		}
		out.Endpoints = append(out.Endpoints, EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     limit,
			Release:         ep.Release,
			Language:        ep.Language,
			User:            ep.User,
		})
	}
	return out, nil
}

// parseMaxBodySize reads sizes such as "64KiB", "1MB" or "2048". SI units
// are powers of 1000, IEC units powers of 1024. Empty means the default.
func parseMaxBodySize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return DefaultMaxBodySize, nil
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 1<<40 {
		return 0, fmt.Errorf("%q is out of range", size)
	}
	return int64(n), nil
}
