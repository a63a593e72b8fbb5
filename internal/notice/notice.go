// Package notice decodes pushed notification payloads into canonical notices.
//
// A payload is a JSON text frame produced by the server:
//
//	{"task_id": 42, "task_title": "...", "created_by": "...",
//	 "due_date": "...", "category": "payment", "message": "..."}
//
// Every field is optional; Canonicalize fills the documented defaults. Field
// values of any JSON type are accepted and kept as text. Only the exact
// category "payment" selects the payment channel; anything else, including
// non-string or missing values, falls back to the task channel.
package notice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformed reports a payload that is not a JSON object.
	ErrMalformed = errors.New("malformed notification payload")
	// ErrEmpty reports an empty frame.
	ErrEmpty = errors.New("empty notification payload")
)

const (
	DefaultTaskID    = "#"
	DefaultTitle     = "New Task"
	DefaultCreatedBy = "System"
)

// Category selects one of the two notification channels.
type Category int

const (
	Task Category = iota
	Payment
)

// Categories lists every channel in display order.
var Categories = [...]Category{Task, Payment}

// ParseCategory maps a wire value to a Category. "payment" is the only value
// that selects Payment; everything else is Task.
func ParseCategory(raw string) Category {
	if raw == "payment" {
		return Payment
	}
	return Task
}

func (c Category) String() string {
	if c == Payment {
		return "payment"
	}
	return "task"
}

// Glyph is the alert icon for the category.
func (c Category) Glyph() string {
	if c == Payment {
		return "💰"
	}
	return "🔔"
}

// Placeholder is the feed text shown when the channel has no entries.
func (c Category) Placeholder() string {
	if c == Payment {
		return "No new payment notifications"
	}
	return "No new notifications"
}

// PlaceholderMarker identifies a placeholder item in server-rendered feeds.
const PlaceholderMarker = "No new"

// IsPlaceholder reports whether a feed item text is the empty-feed placeholder.
func IsPlaceholder(text string) bool {
	return strings.Contains(text, PlaceholderMarker)
}

// Event is the wire record as produced by the server.
type Event struct {
	TaskID    FlexString `json:"task_id"`
	TaskTitle FlexString `json:"task_title"`
	CreatedBy FlexString `json:"created_by"`
	DueDate   FlexString `json:"due_date"`
	Category  FlexString `json:"category"`
	Message   FlexString `json:"message"`
}

// FlexString holds any JSON value as text. Strings are unquoted, null is
// empty and every other value keeps its compact JSON form, so the server
// emitting 42 or true where a string is expected still yields a notice.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*f = FlexString(buf.String())
	return nil
}

// Notice is a canonical event ready for routing.
type Notice struct {
	TaskID    string
	Title     string
	CreatedBy string
	DueDate   string
	Category  Category
	Message   string
	Link      string
}

// TransientAlert is the value handed to the alert manager.
type TransientAlert struct {
	Link      string
	Message   string
	CreatedBy string
	DueDate   string
	Category  Category
}

// Decode parses one raw frame.
func Decode(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{}, ErrEmpty
	}
	if raw[0] != '{' {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

// Canonicalize applies the default substitutions and resolves the channel.
func Canonicalize(ev Event) Notice {
	n := Notice{
		TaskID:    orDefault(string(ev.TaskID), DefaultTaskID),
		Title:     orDefault(string(ev.TaskTitle), DefaultTitle),
		CreatedBy: orDefault(string(ev.CreatedBy), DefaultCreatedBy),
		DueDate:   string(ev.DueDate),
		Category:  ParseCategory(string(ev.Category)),
		Message:   string(ev.Message),
	}
	n.Link = TaskLink(n.TaskID)
	return n
}

// Parse is Decode followed by Canonicalize.
func Parse(raw []byte) (Notice, error) {
	ev, err := Decode(raw)
	if err != nil {
		return Notice{}, err
	}
	return Canonicalize(ev), nil
}

// TaskLink builds the detail link for a task id.
func TaskLink(taskID string) string {
	return "/task/detail/" + taskID + "/"
}

// Alert returns the transient alert for this notice.
func (n Notice) Alert() TransientAlert {
	return TransientAlert{
		Link:      n.Link,
		Message:   n.Message,
		CreatedBy: n.CreatedBy,
		DueDate:   n.DueDate,
		Category:  n.Category,
	}
}

// Preview returns a short printable prefix of a raw payload for diagnostics.
// The cut never splits a UTF-8 sequence.
func Preview(raw []byte, n int) string {
	s := strconv.Quote(string(raw))
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
