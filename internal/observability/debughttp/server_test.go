package debughttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbell/internal/metrics"
	logx "taskbell/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	m := metrics.New()
	m.NoticeRouted("task", 1)
	s := New(Config{}, logx.Nop(),
		WithMetrics(m.Handler()),
		WithStatus(func() any { return map[string]int{"task": 1} }),
	)
	h := s.Handler("", "")

	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `taskbell_notices_total{channel="task"} 1`)

	rec = get(t, h, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var doc map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc["task"])

	rec = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/debug/pprof", nil)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
}

func TestStatusRejectsPost(t *testing.T) {
	h := New(Config{}, logx.Nop()).Handler("", "")
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTokenGuard(t *testing.T) {
	h := New(Config{}, logx.Nop()).Handler("s3cret", "/dbg/")

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz?token=nope", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/dbg/?token=s3cret", nil).Code)
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
}

func TestReconfigureDisables(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: false})
	assert.False(t, s.Enabled())
	assert.Nil(t, s.Supervisor())
}

func TestLoopbackDetection(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:6060"))
	assert.True(t, isLoopbackAddr("[::1]:6060"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("0.0.0.0:6060"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "/debug/pprof/", normalizePrefix(""))
	assert.Equal(t, "/dbg/", normalizePrefix("dbg"))
}
