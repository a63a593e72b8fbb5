package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbell/internal/app"
	"taskbell/internal/digest"
	"taskbell/internal/notice"
)

type fakeController struct {
	cleared   []notice.Category
	searched  []string
	navigated []string
	dismissed []string
	clearErr  error
}

func (f *fakeController) Clear(_ context.Context, ch notice.Category) error {
	f.cleared = append(f.cleared, ch)
	return f.clearErr
}
func (f *fakeController) SearchNow(term string) { f.searched = append(f.searched, term) }
func (f *fakeController) Navigate(q string)     { f.navigated = append(f.navigated, q) }
func (f *fakeController) Dismiss(id string) error {
	f.dismissed = append(f.dismissed, id)
	return nil
}
func (f *fakeController) Digest() digest.Summary {
	return digest.Summary{Unread: map[string]int{"task": 2, "payment": 0}, Total: 2}
}
func (f *fakeController) Status() app.Status { return app.Status{Connection: "open"} }

func TestRunCommands(t *testing.T) {
	f := &fakeController{}
	in := strings.NewReader(strings.Join([]string{
		"clear task",
		"clear Payments",
		"search invoice 42",
		"back page=2&search=x",
		"dismiss 1a2b",
		"digest",
		"status",
		"",
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, runCommands(context.Background(), f, in, &out))

	assert.Equal(t, []notice.Category{notice.Task, notice.Payment}, f.cleared)
	assert.Equal(t, []string{"invoice 42"}, f.searched)
	assert.Equal(t, []string{"page=2&search=x"}, f.navigated)
	assert.Equal(t, []string{"1a2b"}, f.dismissed)
	assert.Contains(t, out.String(), "task cleared")
	assert.Contains(t, out.String(), "unread: payment=0 task=2")
	assert.Contains(t, out.String(), `"connection": "open"`)
}

func TestExecuteErrors(t *testing.T) {
	f := &fakeController{}
	var out bytes.Buffer
	ctx := context.Background()

	assert.Error(t, execute(ctx, f, "clear everything", &out))
	assert.Empty(t, f.cleared)
	assert.ErrorIs(t, execute(ctx, f, "reboot", &out), errUnknownCommand)
	assert.Error(t, execute(ctx, f, "dismiss", &out))

	f.clearErr = errors.New("rejected")
	assert.EqualError(t, execute(ctx, f, "clear task", &out), "rejected")
	assert.NotContains(t, out.String(), "cleared")
}

func TestRunCommandsReportsErrorsAndContinues(t *testing.T) {
	f := &fakeController{}
	var out bytes.Buffer
	require.NoError(t, runCommands(context.Background(), f, strings.NewReader("bogus\nsearch a\n"), &out))
	assert.Contains(t, out.String(), "error: unknown command")
	assert.Equal(t, []string{"a"}, f.searched)
}

func TestRunCommandsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	err := runCommands(ctx, &fakeController{}, r, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
