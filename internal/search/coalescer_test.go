package search

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<!doctype html><html><body>
<table class="summary"><tbody><tr><td>not me</td></tr></tbody></table>
<div class="card table-responsive"><table class="table"><tbody><tr><td>Task %s</td></tr></tbody></table></div>
</body></html>`

type recordingView struct {
	mu      sync.Mutex
	loading []bool
	results []string
	errors  []string
	history []string
}

func (v *recordingView) SetLoading(on bool) {
	v.mu.Lock()
	v.loading = append(v.loading, on)
	v.mu.Unlock()
}

func (v *recordingView) ReplaceResults(f string) {
	v.mu.Lock()
	v.results = append(v.results, f)
	v.mu.Unlock()
}

func (v *recordingView) ShowError(msg string) {
	v.mu.Lock()
	v.errors = append(v.errors, msg)
	v.mu.Unlock()
}

func (v *recordingView) PushHistory(q string) {
	v.mu.Lock()
	v.history = append(v.history, q)
	v.mu.Unlock()
}

// settled reports whether a run has finished (loading switched off).
func (v *recordingView) settled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.loading) > 0 && !v.loading[len(v.loading)-1]
}

func (v *recordingView) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, v.settled, 2*time.Second, time.Millisecond)
}

type requestLog struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	l.reqs = append(l.reqs, r)
	l.mu.Unlock()
}

func (l *requestLog) all() []*http.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*http.Request(nil), l.reqs...)
}

func listServer(t *testing.T, log *requestLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		_, _ = w.Write([]byte(strings.Replace(resultsPage, "%s", r.URL.Query().Get("search"), 1)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDebounceCoalescesKeystrokes(t *testing.T) {
	var log requestLog
	srv := listServer(t, &log)
	clk := clockwork.NewFakeClock()
	view := &recordingView{}

	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/", Query: "status=open&page=3"}, WithClock(clk))
	require.NoError(t, err)
	defer s.Close()

	s.OnInput("a")
	clk.Advance(100 * time.Millisecond)
	s.OnInput("ab")
	clk.Advance(100 * time.Millisecond)
	s.OnInput("abc")
	clk.Advance(300 * time.Millisecond)
	s.OnInput("abcd")
	assert.Empty(t, log.all())

	clk.Advance(399 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.all())
	clk.Advance(time.Millisecond)
	view.waitSettled(t)

	reqs := log.all()
	require.Len(t, reqs, 1)
	q := reqs[0].URL.Query()
	assert.Equal(t, "/tasks/", reqs[0].URL.Path)
	assert.Equal(t, "abcd", q.Get("search"))
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "open", q.Get("status"))
	assert.Equal(t, "1", q.Get("ajax"))

	assert.Equal(t, []bool{true, false}, view.loading)
	require.Len(t, view.results, 1)
	assert.Equal(t, "<tr><td>Task abcd</td></tr>", view.results[0])
	assert.Equal(t, []string{"?page=1&search=abcd&status=open"}, view.history)
	assert.Equal(t, "page=1&search=abcd&status=open", s.Query())
}

func TestSubmitUsesSameDebounce(t *testing.T) {
	var log requestLog
	srv := listServer(t, &log)
	clk := clockwork.NewFakeClock()

	view := &recordingView{}
	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/"}, WithClock(clk))
	require.NoError(t, err)
	defer s.Close()

	s.OnInput("inv")
	clk.Advance(200 * time.Millisecond)
	s.OnSubmit("invoice")
	clk.Advance(400 * time.Millisecond)
	view.waitSettled(t)

	reqs := log.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "invoice", reqs[0].URL.Query().Get("search"))
}

func TestSearchErrorShowsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	clk := clockwork.NewFakeClock()
	view := &recordingView{}

	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/", Query: "page=2"}, WithClock(clk))
	require.NoError(t, err)
	defer s.Close()

	s.OnInput("x")
	clk.Advance(DefaultDebounce)
	view.waitSettled(t)

	assert.Equal(t, []string{ErrorMessage}, view.errors)
	assert.Empty(t, view.results)
	assert.Empty(t, view.history)
	assert.Equal(t, []bool{true, false}, view.loading)
	assert.Equal(t, "page=2", s.Query())
}

func TestMissingTableBodyStillUpdatesHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>No tasks</p></body></html>`))
	}))
	defer srv.Close()
	clk := clockwork.NewFakeClock()
	view := &recordingView{}

	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/"}, WithClock(clk))
	require.NoError(t, err)
	defer s.Close()

	s.OnInput("zzz")
	clk.Advance(DefaultDebounce)
	view.waitSettled(t)

	assert.Empty(t, view.results)
	assert.Empty(t, view.errors)
	assert.Equal(t, []string{"?page=1&search=zzz"}, view.history)
}

func TestHistorySearchesImmediately(t *testing.T) {
	var log requestLog
	srv := listServer(t, &log)
	clk := clockwork.NewFakeClock()
	view := &recordingView{}

	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/"}, WithClock(clk))
	require.NoError(t, err)
	defer s.Close()

	s.OnInput("pending")
	s.OnHistory("?search=older&priority=high&page=4")

	reqs := log.all()
	require.Len(t, reqs, 1)
	q := reqs[0].URL.Query()
	assert.Equal(t, "older", q.Get("search"))
	assert.Equal(t, "high", q.Get("priority"))
	assert.Equal(t, "1", q.Get("page"))

	// The pending keystroke was discarded.
	clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.all(), 1)
}

func TestSupersededResponseIsDropped(t *testing.T) {
	release := make(chan struct{})
	slowStarted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("search")
		if term == "slow" {
			close(slowStarted)
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		_, _ = w.Write([]byte(strings.Replace(resultsPage, "%s", term, 1)))
	}))
	defer srv.Close()
	defer close(release)

	view := &recordingView{}
	s, err := New(view, Config{BaseURL: srv.URL, Path: "/tasks/"})
	require.NoError(t, err)
	defer s.Close()

	slowDone := make(chan struct{})
	go func() {
		s.OnHistory("?search=slow")
		close(slowDone)
	}()
	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("slow request never reached the server")
	}

	s.OnHistory("?search=fast")
	select {
	case <-slowDone:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not finish")
	}

	view.mu.Lock()
	defer view.mu.Unlock()
	assert.Equal(t, []string{"<tr><td>Task fast</td></tr>"}, view.results)
	assert.Empty(t, view.errors)
	assert.Equal(t, []string{"?page=1&search=fast"}, view.history)
}

func TestExtractResults(t *testing.T) {
	frag, found, err := ExtractResults(strings.NewReader(strings.Replace(resultsPage, "%s", "7", 1)))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "<tr><td>Task 7</td></tr>", frag)

	_, found, err = ExtractResults(strings.NewReader(`<table><tbody><tr><td>x</td></tr></tbody></table>`))
	require.NoError(t, err)
	assert.False(t, found)
}
