package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbell/internal/alert"
	"taskbell/internal/config"
	"taskbell/internal/notice"
)

const dashboardHTML = `<html><body>
<input type="hidden" name="csrfmiddlewaretoken" value="tok-abc">
<span id="notification-badge" class="badge">2</span>
<ul id="notification-dropdown">
  <li><a href="/task/detail/2/">Second task</a></li>
  <li><a href="/task/detail/1/">First task</a></li>
</ul>
<button id="clear-notifications-btn" data-url="/notifications/clear/tasks/">Clear</button>
<span id="payment-notification-badge" class="badge d-none">0</span>
<ul id="payment-notification-dropdown"><li>No new payment notifications</li></ul>
<button id="clear-payment-notifications-btn" data-url="/notifications/clear/payments/">Clear</button>
</body></html>`

const resultsHTML = `<div class="table-responsive"><table><tbody><tr><td>row</td></tr></tbody></table></div>`

type fakeServer struct {
	*httptest.Server
	clears   atomic.Int32
	searches atomic.Int32
	cookie   atomic.Value
}

func newFakeServer(t *testing.T, frames ...string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/dashboard/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(dashboardHTML))
	})
	mux.HandleFunc("/ws/notifications/", func(w http.ResponseWriter, r *http.Request) {
		fs.cookie.Store(r.Header.Get("Cookie"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/notifications/clear/tasks/", func(w http.ResponseWriter, r *http.Request) {
		fs.clears.Add(1)
		if r.Method != http.MethodPost || r.Header.Get("X-CSRFToken") != "tok-abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		fs.searches.Add(1)
		_, _ = w.Write([]byte(resultsHTML))
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

type syncWriter struct {
	mu sync.Mutex
	b  *strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "taskbell.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func baseConfig(url string) string {
	return fmt.Sprintf(`{
  "server": {"base_url": %q, "page_path": "/dashboard/", "cookie": "sessionid=s1"},
  "search": {"path": "/tasks/", "debounce": "20ms"},
  "alerts": {"delay": "1m"},
  "logging": {"level": "error", "console": true, "file": {"enabled": false, "path": ""}}
}`, url)
}

func TestAppEndToEnd(t *testing.T) {
	srv := newFakeServer(t, `{"task_id":"42","message":"Task due soon","created_by":"Ann"}`)

	var out strings.Builder
	a, err := NewApp(writeConfig(t, baseConfig(srv.URL)), WithOutput(&syncWriter{b: &out}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	require.Eventually(t, func() bool {
		handled, _ := a.router.Stats()
		return handled == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Seeded 2 from the page plus one pushed notice.
	task := a.view.Snapshot().Channels["task"]
	assert.Equal(t, 3, task.Badge)
	require.Len(t, task.Feed, 3)
	assert.Equal(t, "/task/detail/42/", task.Feed[0].Link)
	assert.Equal(t, "sessionid=s1", srv.cookie.Load())

	st := a.Status()
	assert.Equal(t, "open", st.Connection)
	assert.Equal(t, uint64(1), st.Handled)
	require.Len(t, st.View.Alerts, 1)
	assert.Equal(t, "🔔 Task due soon", st.View.Alerts[0].Headline)
	assert.Equal(t, "By: Ann", st.View.Alerts[0].Byline)

	// Dismiss by short id.
	id := st.View.Alerts[0].ID
	require.NoError(t, a.Dismiss(id[:8]))
	assert.Empty(t, a.view.AlertIDs())
	assert.ErrorIs(t, a.Dismiss(id[:8]), alert.ErrUnknownAlert)

	// Clear uses the page's CSRF token and clear URL.
	require.NoError(t, a.Clear(ctx, notice.Task))
	assert.Equal(t, int32(1), srv.clears.Load())
	task = a.view.Snapshot().Channels["task"]
	assert.True(t, task.BadgeHidden)
	assert.Equal(t, "No new notifications", task.Placeholder)
	assert.Zero(t, a.channels.Snapshot(notice.Task).Unread)

	// The fake server has no payment clear handler.
	assert.Error(t, a.Clear(ctx, notice.Payment))

	a.SearchNow("abc")
	require.Eventually(t, func() bool {
		return strings.Contains(a.view.Snapshot().Results, "row")
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "?page=1&search=abc", a.view.Snapshot().Location)
	assert.Equal(t, int32(1), srv.searches.Load())

	sum := a.Digest()
	assert.Equal(t, 0, sum.Unread["task"])
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	_, err := NewApp(writeConfig(t, `{"server":{"base_url":""},"logging":{"level":"error","console":true,"file":{"enabled":false,"path":""}}}`))
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = NewApp(writeConfig(t, `{"server":{"base_url":"http://x"},"digest":{"schedule":"nope"},"logging":{"level":"error","console":true,"file":{"enabled":false,"path":""}}}`))
	assert.ErrorContains(t, err, "digest.schedule")
}

func TestStopBeforeStart(t *testing.T) {
	a, err := NewApp(writeConfig(t, baseConfig("http://127.0.0.1:1")))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Stop(context.Background(), StopAppStop), ErrNotStarted)
}

func TestValidateRejectsBadReload(t *testing.T) {
	a, err := NewApp(writeConfig(t, baseConfig("http://127.0.0.1:1")))
	require.NoError(t, err)

	cfg := *a.cfgm.Get()
	require.NoError(t, a.validate(context.Background(), &cfg))

	bad := cfg
	bad.Digest = config.DigestConfig{Schedule: "every tuesday"}
	assert.Error(t, a.validate(context.Background(), &bad))

	bad = cfg
	bad.Reconnect = config.ReconnectConfig{Enabled: true, MinBackoff: "10s", MaxBackoff: "1s"}
	assert.Error(t, a.validate(context.Background(), &bad))

	bad = cfg
	bad.Digest = config.DigestConfig{Timezone: "Mars/Olympus"}
	assert.Error(t, a.validate(context.Background(), &bad))
}

func TestApplyConfigUpdatesComponents(t *testing.T) {
	a, err := NewApp(writeConfig(t, baseConfig("http://127.0.0.1:1")))
	require.NoError(t, err)
	oldCfg := a.cfgm.Get()

	newCfg := *oldCfg
	newCfg.Clear = config.ClearConfig{TaskURL: "/custom/clear/"}
	newCfg.Digest = config.DigestConfig{Schedule: "@every 1h"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.applyConfig(ctx, oldCfg, &newCfg)
	defer func() { _ = a.digest.Stop(context.Background()) }()

	u, err := a.clear.URL(notice.Task)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1/custom/clear/", u)
	assert.False(t, a.digest.Next().IsZero())
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	assert.Error(t, err)
}
