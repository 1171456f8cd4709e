package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.RunFinished("subtype-of", OutcomeOK, 20*time.Millisecond)
	m.RunFinished("subtype-of", OutcomeOK, 10*time.Millisecond)
	m.RunFinished("implements", OutcomeFailed, time.Millisecond)
	m.Indexed(42)
	m.Inspected()
	m.Inspected()
	m.Matched("subtype-of")
	m.Diagnostic("malformed_unit")
	m.Resolutions("platform", 3)
	m.Resolutions("parsed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("subtype-of", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("implements", OutcomeFailed)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.indexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inspected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matches.WithLabelValues("subtype-of")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.diagnostics.WithLabelValues("malformed_unit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.resolutions.WithLabelValues("platform")))
	// Zero counts do not create a series.
	assert.Equal(t, 1, testutil.CollectAndCount(m.resolutions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunFinished("x", OutcomeOK, time.Second)
		m.Indexed(1)
		m.Inspected()
		m.Matched("x")
		m.Diagnostic("x")
		m.Resolutions("x", 1)
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Matched("annotated-with")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `classfind_matches_total{kind="annotated-with"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
