package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/importer"
	"github.com/mattjoyce/csdb/internal/job"
)

const (
	testSecret = "test-secret"
	testHeader = "X-Hub-Signature-256"
	testPath   = "/hooks/publish"
)

type mockQueue struct {
	enqueueFn func(ctx context.Context, req job.EnqueueRequest) (string, error)
}

func (m *mockQueue) Enqueue(ctx context.Context, req job.EnqueueRequest) (string, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, req)
	}
	return "test-job-id", nil
}

type releases map[string]*content.Release

func (r releases) Release(_ context.Context, id string) (*content.Release, error) {
	for _, rel := range r {
		if rel.ID == id {
			return rel, nil
		}
	}
	return nil, content.ErrNotFound
}

func (r releases) ReleaseByName(_ context.Context, name string) (*content.Release, error) {
	if rel, ok := r[name]; ok {
		return rel, nil
	}
	return nil, content.ErrNotFound
}

var testReleases = releases{
	"main": {ID: "rel-main", Name: "main"},
	"next": {ID: "rel-next", Name: "next"},
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func endpoint() EndpointConfig {
	return EndpointConfig{
		Path:            testPath,
		Secret:          testSecret,
		SignatureHeader: testHeader,
		Release:         "main",
		Language:        "en",
		User:            "publisher",
	}
}

func post(server *Server, path string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(testHeader, signature)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_ValidSignatureUsesEndpointDefaults(t *testing.T) {
	body := []byte(`{"archive_path":"/drop/bike.zip","schema_for_xml":"dm"}`)

	var got job.EnqueueRequest
	mq := &mockQueue{enqueueFn: func(_ context.Context, req job.EnqueueRequest) (string, error) {
		got = req
		return "job-123", nil
	}}
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, mq, testReleases, testLogger())

	rec := post(server, testPath, body, Sign(body, testSecret))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp TriggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.JobID != "job-123" {
		t.Errorf("JobID = %v, want job-123", resp.JobID)
	}

	if got.Type != job.TypeArchiveImport {
		t.Errorf("Type = %v, want %v", got.Type, job.TypeArchiveImport)
	}
	if got.Creator != "publisher" || got.ReleaseID != "rel-main" {
		t.Errorf("creator/release = %q/%q", got.Creator, got.ReleaseID)
	}
	p := importer.PropertiesFrom(got.Properties)
	if p.ArchivePath != "/drop/bike.zip" || p.Language != "en" || p.Overrides.XML != "dm" {
		t.Errorf("unexpected properties %+v", p)
	}
}

func TestHandleWebhook_BodyOverridesDefaults(t *testing.T) {
	body := []byte(`{"archive_path":"/drop/bike.zip","release":"next","language":"fr"}`)

	var got job.EnqueueRequest
	mq := &mockQueue{enqueueFn: func(_ context.Context, req job.EnqueueRequest) (string, error) {
		got = req
		return "job-1", nil
	}}
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, mq, testReleases, testLogger())

	rec := post(server, testPath, body, Sign(body, testSecret))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got.ReleaseID != "rel-next" {
		t.Errorf("ReleaseID = %q, want rel-next", got.ReleaseID)
	}
	if lang := importer.PropertiesFrom(got.Properties).Language; lang != "fr" {
		t.Errorf("Language = %q, want fr", lang)
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	body := []byte(`{"archive_path":"/drop/bike.zip"}`)

	mq := &mockQueue{enqueueFn: func(context.Context, job.EnqueueRequest) (string, error) {
		t.Fatal("Enqueue should not be called with invalid signature")
		return "", nil
	}}
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, mq, testReleases, testLogger())

	rec := post(server, testPath, body, "sha256="+strings.Repeat("0", 64))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "forbidden" {
		t.Errorf("Error = %v, want generic 'forbidden'", resp.Error)
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	mq := &mockQueue{enqueueFn: func(context.Context, job.EnqueueRequest) (string, error) {
		t.Fatal("Enqueue should not be called without signature")
		return "", nil
	}}
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, mq, testReleases, testLogger())

	rec := post(server, testPath, []byte(`{}`), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 2048)
	ep := endpoint()
	ep.MaxBodySize = 1024

	server := New(Config{Endpoints: []EndpointConfig{ep}}, &mockQueue{}, testReleases, testLogger())

	rec := post(server, testPath, body, Sign(body, testSecret))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleWebhook_RejectsBadImports(t *testing.T) {
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, &mockQueue{}, testReleases, testLogger())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: `archive`, want: http.StatusBadRequest},
		{name: "missing archive", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown release", body: `{"archive_path":"/a.zip","release":"gone"}`, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			rec := post(server, testPath, body, Sign(body, testSecret))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandler_RoutesOnlyConfiguredPOSTs(t *testing.T) {
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, &mockQueue{}, testReleases, testLogger())

	body := []byte(`{"archive_path":"/a.zip"}`)
	if rec := post(server, "/hooks/unknown", body, Sign(body, testSecret)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testPath, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	server := New(Config{Endpoints: []EndpointConfig{{Path: "/hooks/test", Secret: "secret"}}}, &mockQueue{}, testReleases, testLogger())

	ep := server.endpoints[0]
	if ep.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want %d", ep.MaxBodySize, DefaultMaxBodySize)
	}
	if ep.User != DefaultUser {
		t.Errorf("User = %v, want %v", ep.User, DefaultUser)
	}
}

func TestHandleWebhook_EnqueueFailure(t *testing.T) {
	mq := &mockQueue{enqueueFn: func(context.Context, job.EnqueueRequest) (string, error) {
		return "", errors.New("database is locked")
	}}
	server := New(Config{Endpoints: []EndpointConfig{endpoint()}}, mq, testReleases, testLogger())

	body := []byte(`{"archive_path":"/a.zip"}`)
	rec := post(server, testPath, body, Sign(body, testSecret))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "locked") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{{
			Path:            testPath,
			Secret:          testSecret,
			SignatureHeader: testHeader,
			MaxBodySize:     "64KiB",
			Release:         "main",
			Language:        "en",
		}},
	})
	if err != nil {
		t.Fatalf("FromGlobalConfig() error = %v", err)
	}
	if got := cfg.Endpoints[0]; got.MaxBodySize != 64<<10 || got.Release != "main" || got.Language != "en" {
		t.Errorf("unexpected endpoint %+v", got)
	}

	if _, err := FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: testPath}}}); err == nil {
		t.Error("expected error for endpoint without secret")
	}
	if _, err := FromGlobalConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
