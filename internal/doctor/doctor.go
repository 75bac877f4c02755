// Package doctor validates a csdb configuration and the populator manifests
// it loads.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/populator"
	"github.com/mattjoyce/csdb/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
	// configPath enables the integrity check when set.
	configPath string
	localDisk  func(setting, path string) error
}

// New creates a Doctor. configPath may be empty to skip the integrity check.
func New(cfg *config.Config, configPath string) *Doctor {
	return &Doctor{cfg: cfg, configPath: configPath, localDisk: storage.CheckLocalDisk}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	names := d.validateManifests(r)
	d.validateDisabled(r, names)
	d.validateWebhooks(r)
	d.warnImportSchemas(r)
	d.warnExposedAPI(r)
	d.warnMissingEnvVars(r)
	d.warnVolatileStorage(r)
	d.checkLocalDisks(r)
	d.checkIntegrity(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports each structural problem config.Validate finds.
func (d *Doctor) validateConfig(r *Result) {
	err := config.Validate(d.cfg)
	if err == nil {
		return
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

// validateManifests checks every populator.yaml under the manifest dirs and
// returns the names that would be registered, built-ins included.
func (d *Doctor) validateManifests(r *Result) map[string]string {
	names := map[string]string{
		populator.DefaultName:    "built-in",
		populator.XMLName:        "built-in",
		populator.DataModuleName: "built-in",
	}

	for i, dir := range d.cfg.Populators.ManifestDirs {
		field := fmt.Sprintf("populators.manifest_dirs[%d]", i)
		info, err := os.Stat(dir)
		if err != nil {
			d.addError(r, "populators", field, fmt.Sprintf("manifest dir %q: %v", dir, err))
			continue
		}
		if !info.IsDir() {
			d.addError(r, "populators", field, fmt.Sprintf("manifest dir %q is not a directory", dir))
			continue
		}

		err = filepath.WalkDir(dir, func(path string, e fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if e.IsDir() || e.Name() != populator.ManifestFilename {
				return nil
			}
			m, err := populator.CheckManifest(path)
			if err != nil {
				d.addError(r, "populators", path, err.Error())
				return nil
			}
			if prev, dup := names[m.Name]; dup {
				if prev == "built-in" {
					d.addError(r, "populators", path,
						fmt.Sprintf("populator %q reuses a built-in name", m.Name))
				} else {
					d.addWarning(r, "populators", path,
						fmt.Sprintf("populator %q already defined in %s; this manifest is ignored", m.Name, prev))
				}
				return nil
			}
			names[m.Name] = path
			return nil
		})
		if err != nil {
			d.addError(r, "populators", field, fmt.Sprintf("scan %q: %v", dir, err))
		}
	}
	return names
}

func (d *Doctor) validateDisabled(r *Result, known map[string]string) {
	for i, name := range d.cfg.Populators.Disabled {
		if name == populator.DefaultName {
			continue // already reported by validateConfig
		}
		if _, ok := known[name]; !ok {
			d.addError(r, "populators", fmt.Sprintf("populators.disabled[%d]", i),
				fmt.Sprintf("cannot disable unknown populator %q", name))
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	wh := d.cfg.Webhooks
	if wh == nil {
		return
	}
	if d.cfg.API.Enabled && wh.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen",
			fmt.Sprintf("webhook listener %q collides with api.listen", wh.Listen))
	}
	for i, ep := range wh.Endpoints {
		if ep.Release == "" {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].release", i),
				fmt.Sprintf("webhook %q has no default release; every request must name one", ep.Path))
		}
		if ep.Language == "" {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].language", i),
				fmt.Sprintf("webhook %q has no default language; every request must name one", ep.Path))
		}
	}
}

// warnImportSchemas flags schema names that a fresh database does not have.
func (d *Doctor) warnImportSchemas(r *Result) {
	seeded := map[string]bool{config.SchemaFolder: true, config.SchemaXML: true, config.SchemaBinary: true}
	check := func(field, name string) {
		if name != "" && !seeded[name] {
			d.addWarning(r, "import", field,
				fmt.Sprintf("schema %q is not created by content init; it must exist before imports run", name))
		}
	}
	check("import.folder_schema", d.cfg.Import.FolderSchema)
	check("import.default_schema", d.cfg.Import.DefaultSchema)
	for i, rule := range d.cfg.Import.Rules {
		check(fmt.Sprintf("import.rules[%d].schema", i), rule.Schema)
	}
}

func (d *Doctor) warnExposedAPI(r *Result) {
	if !d.cfg.API.Enabled || d.cfg.API.APIKey != "" {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.api_key",
			fmt.Sprintf("API listens on %q without an api_key", d.cfg.API.Listen))
	}
}

// warnMissingEnvVars warns about ${VAR} references left unexpanded.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}

	check("api.api_key", d.cfg.API.APIKey)
	check("blob.s3.access_key_id", d.cfg.Blob.S3.AccessKeyID)
	check("blob.s3.secret_access_key", d.cfg.Blob.S3.SecretAccessKey)
	if d.cfg.Webhooks != nil {
		for i, ep := range d.cfg.Webhooks.Endpoints {
			check(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret)
		}
	}
}

func (d *Doctor) warnVolatileStorage(r *Result) {
	if d.cfg.Blob.Backend == "memory" {
		d.addWarning(r, "blob", "blob.backend", "memory backend loses binary content on restart")
	}
	if d.cfg.Service.TickInterval > 0 && d.cfg.Service.TickInterval < time.Second {
		d.addWarning(r, "service", "service.tick_interval",
			fmt.Sprintf("tick interval %s is very short (< 1s)", d.cfg.Service.TickInterval))
	}
}

// checkLocalDisks rejects a state database on a network mount and warns
// about extraction and blob directories on one.
func (d *Doctor) checkLocalDisks(r *Result) {
	check := func(setting, path string, fatal bool) {
		if path == "" {
			return
		}
		if err := d.localDisk(setting, path); err != nil {
			if fatal {
				d.addError(r, "storage", setting, err.Error())
			} else {
				d.addWarning(r, "storage", setting, err.Error())
			}
		}
	}
	check("state.path", d.cfg.State.Path, true)
	check("workspace.dir", d.cfg.Workspace.Dir, false)
	if d.cfg.Blob.Backend == "fs" {
		check("blob.fs.dir", d.cfg.Blob.FS.Dir, false)
	}
}

func (d *Doctor) checkIntegrity(r *Result) {
	if d.configPath == "" {
		return
	}
	res, err := config.VerifyIntegrity(d.configPath, d.cfg)
	if err != nil {
		d.addError(r, "integrity", "", err.Error())
		return
	}
	for _, w := range res.Warnings {
		d.addWarning(r, "integrity", "", w)
	}
	for _, e := range res.Errors {
		d.addError(r, "integrity", "", e)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
