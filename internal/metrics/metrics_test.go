package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAnalysis(t *testing.T) {
	m := New()
	m.ObserveAnalysis("javascript", OutcomeCompleted, 2*time.Millisecond)
	m.ObserveAnalysis("javascript", OutcomeCompleted, time.Millisecond)
	m.ObserveAnalysis("python", OutcomeFailed, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.analyses.WithLabelValues("javascript", OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("python", OutcomeFailed)))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Rejected()
	m.ClientConnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsClients))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAnalysis("css", OutcomeCompleted, time.Second)
		m.SessionOpened()
		m.SessionClosed()
		m.Rejected()
		m.Saved()
		m.ClientConnected()
		m.ClientDisconnected()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Saved()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "revpad_reviews_saved_total 1"), "exposition should contain the saved counter")
}
