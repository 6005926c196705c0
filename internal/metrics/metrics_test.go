package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("unit")
	m.WorkflowResult("upload", "ok")
	m.WorkflowResult("upload", "ok")
	m.Verification("forbidden")
	m.AllowlistRefresh("error")
	m.Publish("upload", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.workflowResults.WithLabelValues("upload", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allowlist.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("upload", "ok")))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WorkflowResult("x", "y")
		m.ObserveGateway("blobs", "put", errors.New("x"), time.Second)
		m.SetBacklog(3)
	})
}

func TestHandlerExposesSeries(t *testing.T) {
	m := New("unit")
	m.ObserveGateway("records", "get", nil, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scrub_gateway_gateway_call_duration_seconds_count{gateway="records",op="get",project="unit",status="ok"} 1`)
}
