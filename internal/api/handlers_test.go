package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/csdb/internal/blob"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/importer"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/metrics"
	"github.com/mattjoyce/csdb/internal/populator"
	"github.com/mattjoyce/csdb/internal/storage"
)

type testServer struct {
	*httptest.Server
	jobs   *job.Store
	hub    *events.Hub
	seeded *content.Seeded
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := content.New(db, blob.NewMemoryStore())
	seeded, err := store.Seed(ctx, content.SeedOptions{Creator: "tester"})
	require.NoError(t, err)
	registry, err := populator.NewRegistry(populator.Builtins(populator.Deps{Store: store})...)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics.New(reg).NodeCreated()

	jobs := job.NewStore(db)
	hub := events.NewHub(16)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{APIKey: apiKey}, Deps{
		Jobs:       jobs,
		Populators: registry,
		Releases:   store,
		Events:     hub,
		Gatherer:   reg,
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, jobs: jobs, hub: hub, seeded: seeded}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestImportEnqueuesJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")

	body, _ := json.Marshal(ImportRequest{
		User:         "alice",
		Release:      "main",
		Language:     "en",
		ArchivePath:  "/tmp/upload.zip",
		SchemaForXML: "dm",
	})
	resp := ts.do(t, http.MethodPost, "/jobs/import", string(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	enq := decode[EnqueueResponse](t, resp)
	assert.Equal(t, job.StatusQueued, enq.Status)

	resp = ts.do(t, http.MethodGet, "/jobs/"+enq.JobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	j := decode[job.Job](t, resp)
	assert.Equal(t, job.TypeArchiveImport, j.Type)
	assert.Equal(t, "alice", j.Creator)
	assert.Equal(t, ts.seeded.Release.ID, j.ReleaseID)
	assert.Equal(t, "/tmp/upload.zip", j.Properties[importer.PropArchivePath])
	assert.Equal(t, "dm", j.Properties[importer.PropSchemaForXML])

	resp = ts.do(t, http.MethodGet, "/jobs?status=queued", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[JobListResponse](t, resp)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, enq.JobID, list.Jobs[0].ID)
}

func TestImportValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: "{", want: http.StatusBadRequest},
		{name: "unknown release", body: `{"release":"nope","language":"en","archive_path":"a.zip"}`, want: http.StatusNotFound},
		{name: "missing archive", body: `{"release":"main","language":"en"}`, want: http.StatusBadRequest},
		{name: "missing language", body: `{"release":"main","archive_path":"a.zip"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/jobs/import", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestResetAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := newTestServer(t, "")

	id, err := ts.jobs.Enqueue(ctx, job.EnqueueRequest{Type: job.TypeArchiveImport, Creator: "tester", ReleaseID: ts.seeded.Release.ID})
	require.NoError(t, err)
	_, err = ts.jobs.Start(ctx, id, "node-a")
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/jobs/"+id+"/reset", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/jobs/"+id, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, ts.jobs.SaveProgress(ctx, id, job.State{Status: job.StatusFailed, ErrorMessage: "job_error_io"}, nil))

	resp = ts.do(t, http.MethodPost, "/jobs/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	j, err := ts.jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Empty(t, j.ErrorMessage)

	resp = ts.do(t, http.MethodDelete, "/jobs/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/jobs/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/jobs/missing/reset", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsRejectsBadFilter(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/jobs?status=bogus", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/jobs?limit=-1", "").StatusCode)
}

func TestPopulatorsHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodGet, "/populators", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[PopulatorListResponse](t, resp)
	assert.Equal(t, []PopulatorSummary{
		{Name: populator.DataModuleName, Priority: populator.PriorityBase + 1000},
		{Name: populator.XMLName, Priority: populator.PriorityBase},
		{Name: populator.DefaultName, Priority: populator.PriorityBase - 1000},
	}, list.Populators)

	resp = ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthzResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.PopulatorsCount)

	resp = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "csdb_import_nodes_total")

	resp = ts.do(t, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	assert.Contains(t, doc["paths"], "/jobs/import")
	assert.NotContains(t, doc, "components")
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "secret")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/jobs", "").StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsStreamFiltersByJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")
	ts.hub.Publish(job.TopicProgress, job.ProgressEvent{JobID: "other", Status: job.StatusRunning})
	ts.hub.Publish(job.TopicProgress, job.ProgressEvent{JobID: "j1", Status: job.StatusRunning, CompletionCount: 50})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?job=j1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var frame bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
		frame.WriteString(line)
	}
	assert.Equal(t, "id: 2\nevent: job.progress\ndata: {\"job_id\":\"j1\",\"status\":\"RUNNING\",\"completion_count\":50}\n", frame.String())
}

func TestEventsStreamFiltersByTopicAndReplaysAfterLastID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")
	ts.hub.Publish("scheduler.tick", map[string]any{"n": 1})
	ts.hub.Publish(job.TopicProgress, job.ProgressEvent{JobID: "j1", Status: job.StatusRunning})
	ts.hub.Publish("scheduler.tick", map[string]any{"n": 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?topic=scheduler.tick", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 3\n", line)
}

func TestEventFilterFromQuery(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/events?job=%20j1%20&topic=a,%20b&topic=c,", nil)
	f := eventFilterFromQuery(req)
	assert.Equal(t, "j1", f.JobID)
	assert.Equal(t, []string{"a", "b", "c"}, f.Topics)

	assert.Equal(t, int64(0), parseLastEventID("nope"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(7), parseLastEventID(" 7"))
}
