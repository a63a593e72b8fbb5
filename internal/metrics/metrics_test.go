package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorsExported(t *testing.T) {
	m := New()
	m.NoticeRouted("task", 1)
	m.NoticeRouted("task", 2)
	m.PayloadDropped("malformed")
	m.SetAlertsActive(3)
	m.ClearDone("payment", "ok", 20*time.Millisecond)
	m.SearchDone("error", 0)
	m.SetConnectionState(StateConnecting)
	m.SetConnectionState(StateOpen)

	out := scrape(t, m)
	assert.Contains(t, out, `taskbell_notices_total{channel="task"} 2`)
	assert.Contains(t, out, `taskbell_unread{channel="task"} 2`)
	assert.Contains(t, out, `taskbell_payloads_dropped_total{reason="malformed"} 1`)
	assert.Contains(t, out, `taskbell_alerts_active 3`)
	assert.Contains(t, out, `taskbell_clear_requests_total{channel="payment",result="ok"} 1`)
	assert.Contains(t, out, `taskbell_search_requests_total{result="error"} 1`)
	assert.Contains(t, out, `taskbell_connection_state 2`)
	assert.Contains(t, out, `taskbell_connection_attempts_total 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NoticeRouted("task", 1)
		m.PayloadDropped("x")
		m.SetAlertsActive(1)
		m.ClearDone("task", "ok", time.Second)
		m.SearchDone("ok", time.Second)
		m.SetConnectionState(StateOpen)
		m.SetUnread("task", 0)
	})
	assert.Nil(t, m.Registry())
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
