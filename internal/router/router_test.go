package router

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbell/internal/alert"
	"taskbell/internal/channel"
	"taskbell/internal/eventbus"
	"taskbell/internal/metrics"
	"taskbell/internal/notice"
	logx "taskbell/pkg/logx"
)

type alertView struct{ shown []alert.Rendered }

func (v *alertView) ShowAlert(r alert.Rendered) { v.shown = append(v.shown, r) }
func (v *alertView) RemoveAlert(string)         {}

type fixture struct {
	store  *channel.Store
	alerts *alert.Manager
	view   *alertView
	bus    eventbus.Bus
	router *Router
	logs   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: channel.New(nil),
		view:  &alertView{},
		bus:   eventbus.New(),
		logs:  &bytes.Buffer{},
	}
	f.alerts = alert.New(f.view, alert.WithClock(clockwork.NewFakeClock()))
	f.router = New(f.store, f.alerts,
		WithBus(f.bus),
		WithMetrics(metrics.New()),
		WithLogger(logx.NewWriter(f.logs, "debug")),
	)
	return f
}

func TestTaskNoticeOnEmptyChannel(t *testing.T) {
	f := newFixture(t)

	err := f.router.Handle(context.Background(), []byte(`{"task_id":"42","message":"Task due soon","category":"task"}`))
	require.NoError(t, err)

	st := f.store.Snapshot(notice.Task)
	assert.Equal(t, 1, st.Unread)
	assert.False(t, st.Placeholder)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "/task/detail/42/", st.Entries[0].Link)

	require.Len(t, f.view.shown, 1)
	assert.Equal(t, "🔔 Task due soon", f.view.shown[0].Headline)
	assert.Equal(t, "By: System", f.view.shown[0].Byline)
}

func TestPaymentNoticeLeavesTaskChannelUntouched(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(notice.Task, channel.State{Unread: 2, Entries: []channel.Entry{{Link: "/task/detail/1/", Message: "a"}}})
	before := f.store.Snapshot(notice.Task)

	require.NoError(t, f.router.Handle(context.Background(), []byte(`{"task_id":7,"message":"Invoice paid","category":"payment","created_by":"Alice","due_date":"2024-05-01"}`)))

	assert.Equal(t, before, f.store.Snapshot(notice.Task))
	pay := f.store.Snapshot(notice.Payment)
	assert.Equal(t, 1, pay.Unread)
	assert.Equal(t, "/task/detail/7/", pay.Entries[0].Link)
	require.Len(t, f.view.shown, 1)
	assert.Equal(t, "💰 Invoice paid", f.view.shown[0].Headline)
	assert.Equal(t, "By: Alice • Due: 2024-05-01", f.view.shown[0].Byline)
}

func TestUnknownCategoryRoutesToTask(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{
		`{"message":"no category"}`,
		`{"message":"odd","category":"invoice"}`,
		`{"message":"cased","category":"Payment"}`,
	} {
		require.NoError(t, f.router.Handle(context.Background(), []byte(raw)))
	}
	assert.Equal(t, 3, f.store.Snapshot(notice.Task).Unread)
	assert.Equal(t, 0, f.store.Snapshot(notice.Payment).Unread)
}

func TestNonStringFieldsStillRoute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.Handle(context.Background(), []byte(`{"task_id":"7","message":"m","category":5}`)))
	require.NoError(t, f.router.Handle(context.Background(), []byte(`{"task_id":8,"message":42,"due_date":20240101}`)))

	st := f.store.Snapshot(notice.Task)
	assert.Equal(t, 2, st.Unread)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, "42", st.Entries[0].Message)
	assert.Equal(t, "/task/detail/7/", st.Entries[1].Link)
	assert.Equal(t, 0, f.store.Snapshot(notice.Payment).Unread)

	require.Len(t, f.view.shown, 2)
	assert.Equal(t, "By: System • Due: 20240101", f.view.shown[1].Byline)
	_, dropped := f.router.Stats()
	assert.Zero(t, dropped)
}

func TestDuplicatesAreCounted(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(notice.Payment, channel.State{Unread: 4, Entries: []channel.Entry{{Message: "old"}}})
	raw := []byte(`{"task_id":"9","message":"dup","category":"payment"}`)
	for range 3 {
		require.NoError(t, f.router.Handle(context.Background(), raw))
	}
	assert.Equal(t, 7, f.store.Snapshot(notice.Payment).Unread)
	assert.Len(t, f.store.Snapshot(notice.Payment).Entries, 4)
	handled, dropped := f.router.Stats()
	assert.Equal(t, uint64(3), handled)
	assert.Equal(t, uint64(0), dropped)
}

func TestMalformedPayloadIsDroppedAndReported(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	err := f.router.Handle(context.Background(), []byte(`{not json`))
	require.ErrorIs(t, err, notice.ErrMalformed)

	assert.Equal(t, 0, f.store.Snapshot(notice.Task).Unread)
	assert.Empty(t, f.view.shown)
	assert.Contains(t, f.logs.String(), "payload dropped")
	assert.Contains(t, f.logs.String(), `"level":"warn"`)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TopicPayloadDropped, ev.Type)
		d, ok := ev.Data.(Dropped)
		require.True(t, ok)
		assert.Equal(t, "malformed", d.Reason)
	case <-time.After(time.Second):
		t.Fatal("no dropped event published")
	}
}

func TestRunProcessesInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	in := make(chan []byte, 3)
	in <- []byte(`{"task_id":"1","message":"first"}`)
	in <- []byte(`garbage`)
	in <- []byte(`{"task_id":"2","message":"second"}`)
	close(in)

	done := make(chan struct{})
	go func() {
		f.router.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not drain input")
	}

	st := f.store.Snapshot(notice.Task)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, "second", st.Entries[0].Message)
	assert.Equal(t, "first", st.Entries[1].Message)
	_, dropped := f.router.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.router.Run(ctx, make(chan []byte))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
}
