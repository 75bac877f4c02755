package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FileExtracted()
	m.NodeCreated()
	m.NodeCreated()
	m.NodeReused()
	m.NodePopulated()
	done := m.JobStarted("archive-import")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRunning.WithLabelValues("archive-import")))
	done("COMPLETED")
	m.Removed("workspaces", 3)
	m.Removed("jobs", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesExtracted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodes.WithLabelValues("reused")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsRunning.WithLabelValues("archive-import")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("archive-import", "COMPLETED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.maintenance.WithLabelValues("workspaces")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "csdb_import_nodes_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FileExtracted()
	m.NodeCreated()
	m.Removed("jobs", 2)
	m.JobStarted("x")("COMPLETED")
}

func TestEventDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	var n uint64 = 4
	EventDrops(reg, func() uint64 { return n })

	expected := `
# HELP csdb_events_dropped_total Event deliveries skipped because a subscriber was full
# TYPE csdb_events_dropped_total counter
csdb_events_dropped_total 4
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "csdb_events_dropped_total"))
}
