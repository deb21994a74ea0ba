package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJob("imported", 1500*time.Millisecond)
	m.ObserveRow("type1", "processed")
	m.ObserveRow("type1", "duplicate")
	m.AddBulkRows("native", 40)
	m.AddBulkRows("fallback", 0)
	m.ObservePoll("import", "idle")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("imported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsTotal.WithLabelValues("type1", "duplicate")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.bulkRowsTotal.WithLabelValues("native")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bulkRowsTotal.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollsTotal.WithLabelValues("import", "idle")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveJob("error", time.Second)
	m.ObserveRow("default", "error")
	m.AddBulkRows("native", 3)
	m.ObservePoll("process", "error")
}

func TestHandlerHealthz(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	healthy := httptest.NewServer(Handler(reg, func(context.Context) error { return nil }))
	defer healthy.Close()

	resp, err := http.Get(healthy.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(healthy.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := httptest.NewServer(Handler(reg, func(context.Context) error { return errors.New("db down") }))
	defer failing.Close()

	resp, err = http.Get(failing.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
