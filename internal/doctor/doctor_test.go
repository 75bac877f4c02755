package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/storage"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Service.NodeName = "node-a"
	cfg.State.Path = filepath.Join(dir, "csdb.db")
	cfg.Blob.FS.Dir = filepath.Join(dir, "blobs")
	return cfg
}

func writeManifest(t *testing.T, root, sub, body string) string {
	t.Helper()
	dir := filepath.Join(root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "populator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const ataManifest = `name: ata-chapter
priority: 1500
pattern: '^ATA-(\d{2})-.*\.xml$'
template: 'ATA chapter %s'
`

func hasIssue(issues []Issue, category, substr string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), "").Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_ReportsEachConfigError(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Jobs.Workers = 0
	cfg.Service.LogLevel = "loud"

	r := New(cfg, "").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "config", "jobs.workers") || !hasIssue(r.Errors, "config", "service.log_level") {
		t.Fatalf("expected both config errors, got %v", r.Errors)
	}
}

func TestValidate_Manifests(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeManifest(t, root, "ata", ataManifest)
	writeManifest(t, root, "ata-copy", ataManifest)
	bad := writeManifest(t, root, "bad", "name: broken\npriority: 1500\npattern: '^x$'\ntemplate: 'X %s'\n")
	clash := writeManifest(t, root, "clash", "name: xml\npriority: 1500\npattern: '^(x)$'\ntemplate: 'X %s'\n")

	cfg := validConfig(t)
	cfg.Populators.ManifestDirs = []string{root}
	cfg.Populators.Disabled = []string{"ata-chapter", "ghost"}

	r := New(cfg, "").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "populators", "capture group") {
		t.Errorf("expected capture group error for %s, got %v", bad, r.Errors)
	}
	if !hasIssue(r.Errors, "populators", "reuses a built-in name") {
		t.Errorf("expected built-in clash for %s, got %v", clash, r.Errors)
	}
	if !hasIssue(r.Warnings, "populators", "already defined") {
		t.Errorf("expected duplicate warning, got %v", r.Warnings)
	}
	if !hasIssue(r.Errors, "populators", `unknown populator "ghost"`) {
		t.Errorf("expected unknown disabled populator, got %v", r.Errors)
	}
	if hasIssue(r.Errors, "populators", `unknown populator "ata-chapter"`) {
		t.Errorf("manifest populator should be disableable, got %v", r.Errors)
	}
}

func TestValidate_MissingManifestDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Populators.ManifestDirs = []string{filepath.Join(t.TempDir(), "nope")}

	r := New(cfg, "").Validate()
	if r.Valid || !hasIssue(r.Errors, "populators", "manifest dir") {
		t.Fatalf("expected manifest dir error, got %v", r.Errors)
	}
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Blob.Backend = "memory"
	cfg.Service.TickInterval = 100 * time.Millisecond
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.Import.Rules = append(cfg.Import.Rules, config.SchemaRule{Glob: "**/*.pdf", Schema: "pdf"})
	cfg.Webhooks = &config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{{
			Path:            "/hooks/publish",
			Secret:          "${CSDB_TEST_UNSET_SECRET}",
			SignatureHeader: "X-Hub-Signature-256",
		}},
	}

	r := New(cfg, "").Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	for _, want := range []struct{ category, substr string }{
		{"blob", "memory backend"},
		{"service", "very short"},
		{"api", "without an api_key"},
		{"import", `schema "pdf"`},
		{"env_vars", "CSDB_TEST_UNSET_SECRET"},
		{"webhooks", "no default release"},
		{"webhooks", "no default language"},
	} {
		if !hasIssue(r.Warnings, want.category, want.substr) {
			t.Errorf("missing %s warning containing %q in %v", want.category, want.substr, r.Warnings)
		}
	}
}

func TestValidate_WebhookListenerCollision(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.Webhooks = &config.WebhooksConfig{Listen: cfg.API.Listen}

	r := New(cfg, "").Validate()
	if r.Valid || !hasIssue(r.Errors, "webhooks", "collides") {
		t.Fatalf("expected collision error, got %v", r.Errors)
	}
}

func TestValidate_NetworkMounts(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Workspace.Dir = filepath.Join(t.TempDir(), "ws")

	d := New(cfg, "")
	d.localDisk = func(setting, path string) error {
		return &storage.NetworkFSError{Setting: setting, Path: path, FSType: "nfs"}
	}
	r := d.Validate()
	if r.Valid || !hasIssue(r.Errors, "storage", "state.path") {
		t.Fatalf("expected state.path error, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "storage", "workspace.dir") || !hasIssue(r.Warnings, "storage", "blob.fs.dir") {
		t.Fatalf("expected workspace and blob warnings, got %v", r.Warnings)
	}
}

func TestValidate_Integrity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  name: csdb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := validConfig(t)

	r := New(cfg, configPath).Validate()
	if !hasIssue(r.Warnings, "integrity", "csdb config lock") {
		t.Fatalf("expected lock hint, got %v", r.Warnings)
	}

	if _, err := config.Lock(configPath, cfg); err != nil {
		t.Fatal(err)
	}
	if r := New(cfg, configPath).Validate(); !r.Valid || hasIssue(r.Warnings, "integrity", "") {
		t.Fatalf("expected clean integrity, got %+v", r)
	}

	if err := os.WriteFile(configPath, []byte("service:\n  name: changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := New(cfg, configPath).Validate(); r.Valid || !hasIssue(r.Errors, "integrity", "") {
		t.Fatalf("expected integrity error, got %+v", r)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out := FormatHuman(&Result{
		Errors:   []Issue{{Category: "config", Message: "bad"}},
		Warnings: []Issue{{Category: "blob", Field: "blob.backend", Message: "volatile"}},
	})
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [config] bad",
		"WARN  [blob] blob.backend: volatile",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: false, Errors: []Issue{{Category: "config", Message: "bad"}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": false`) || !strings.Contains(out, `"category": "config"`) {
		t.Fatalf("unexpected json %s", out)
	}
}
