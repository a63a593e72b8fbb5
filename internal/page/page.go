// Package page reads the initial notification state from the server-rendered
// page: unread badges, dropdown feeds, clear endpoints and the CSRF token.
package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"taskbell/internal/channel"
	"taskbell/internal/notice"
	"taskbell/pkg/htmlx"
)

const maxPage = 8 << 20

// HiddenClass hides a badge.
const HiddenClass = "d-none"

var ErrStatus = errors.New("page: unexpected http status")

// Element ids per channel.
type ids struct {
	badge, dropdown, clearBtn string
}

var channelIDs = [len(notice.Categories)]ids{
	notice.Task:    {badge: "notification-badge", dropdown: "notification-dropdown", clearBtn: "clear-notifications-btn"},
	notice.Payment: {badge: "payment-notification-badge", dropdown: "payment-notification-dropdown", clearBtn: "clear-payment-notifications-btn"},
}

// Channel is what the page shows for one channel.
type Channel struct {
	Present     bool
	Unread      int
	BadgeHidden bool
	Entries     []channel.Entry
	Placeholder bool
	ClearURL    string
}

// State converts the page view into channel state. A hidden badge means zero
// unread regardless of its text.
func (c Channel) State() channel.State {
	unread := c.Unread
	if c.BadgeHidden {
		unread = 0
	}
	return channel.State{Unread: unread, Entries: c.Entries, Placeholder: len(c.Entries) == 0}
}

type State struct {
	CSRFToken  string
	SearchTerm string
	Channels   [len(notice.Categories)]Channel
}

func (s State) Channel(ch notice.Category) Channel { return s.Channels[ch] }

// Parse extracts page state from an HTML document.
func Parse(r io.Reader) (State, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return State{}, err
	}
	var st State
	if in := htmlx.Find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Input && htmlx.Attr(n, "name") == "csrfmiddlewaretoken"
	}); in != nil {
		st.CSRFToken = htmlx.Attr(in, "value")
	}
	if in := htmlx.ByID(doc, "searchInput"); in != nil {
		st.SearchTerm = htmlx.Attr(in, "value")
	}
	for _, ch := range notice.Categories {
		st.Channels[ch] = parseChannel(doc, channelIDs[ch])
	}
	return st, nil
}

func parseChannel(doc *html.Node, id ids) Channel {
	var c Channel
	if badge := htmlx.ByID(doc, id.badge); badge != nil {
		c.Present = true
		c.Unread, _ = strconv.Atoi(strings.TrimSpace(htmlx.Text(badge)))
		c.Unread = max(c.Unread, 0)
		c.BadgeHidden = htmlx.HasClass(badge, HiddenClass)
	}
	if btn := htmlx.ByID(doc, id.clearBtn); btn != nil {
		c.ClearURL = htmlx.Attr(btn, "data-url")
	}
	dd := htmlx.ByID(doc, id.dropdown)
	if dd == nil {
		c.Placeholder = true
		return c
	}
	c.Present = true
	for li := dd.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		text := strings.TrimSpace(htmlx.Text(li))
		if notice.IsPlaceholder(text) {
			c.Placeholder = true
			continue
		}
		if text == "" {
			continue
		}
		e := channel.Entry{Message: strings.Join(strings.Fields(text), " ")}
		if a := htmlx.Find(li, func(n *html.Node) bool { return n.DataAtom == atom.A }); a != nil {
			e.Link = htmlx.Attr(a, "href")
		}
		c.Entries = append(c.Entries, e)
	}
	if len(c.Entries) == 0 {
		c.Placeholder = true
	}
	return c
}

// Fetch loads and parses the page at url.
func Fetch(ctx context.Context, client *http.Client, url string) (State, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return State{}, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return State{}, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return Parse(io.LimitReader(resp.Body, maxPage))
}
