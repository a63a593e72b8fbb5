package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"taskbell/internal/clearctl"
	"taskbell/internal/config"
	"taskbell/internal/notice"
	"taskbell/internal/page"
)

const csrfCookie = "csrftoken"

// newHTTPClient returns a client whose jar starts with the configured session
// cookie, so page, clear and search requests share one authenticated session.
func newHTTPClient(cfg *config.Config) (*http.Client, *cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}
	if raw := strings.TrimSpace(cfg.Server.Cookie); raw != "" {
		base, err := url.Parse(strings.TrimSpace(cfg.Server.BaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("server.base_url: %w", err)
		}
		cookies, err := http.ParseCookie(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("server.cookie: %w", err)
		}
		jar.SetCookies(base, cookies)
	}
	return &http.Client{Jar: jar, Timeout: 30 * time.Second}, jar, nil
}

// bootstrap fetches the page once and seeds channel state, the console model
// and clear settings from it. Failure is logged by the caller; the client then
// starts from empty channels and configured values.
func (a *App) bootstrap(ctx context.Context, cfg *config.Config) (page.State, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.Server.BaseURL))
	if err != nil {
		return page.State{}, err
	}
	target := base.ResolveReference(&url.URL{Path: pagePath(cfg)}).String()

	fctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	st, err := page.Fetch(fctx, a.client, target)
	if err != nil {
		return page.State{}, err
	}

	for _, ch := range notice.Categories {
		pc := st.Channel(ch)
		if !pc.Present {
			continue
		}
		cs := pc.State()
		a.channels.Seed(ch, cs)
		a.view.Load(ch, cs)
		a.metrics.SetUnread(ch.String(), cs.Unread)
	}
	return st, nil
}

// clearFromPage extracts clear settings from page state, falling back to the
// csrftoken cookie when the page carries no form token.
func (a *App) clearFromPage(st page.State) clearctl.Config {
	out := clearctl.Config{
		TaskURL:   st.Channel(notice.Task).ClearURL,
		PayURL:    st.Channel(notice.Payment).ClearURL,
		CSRFToken: st.CSRFToken,
	}
	if out.CSRFToken == "" && a.jar != nil && a.baseURL != nil {
		for _, c := range a.jar.Cookies(a.baseURL) {
			if c.Name == csrfCookie {
				out.CSRFToken = c.Value
				break
			}
		}
	}
	return out
}

// searchQuery turns the page's search box value into initial params.
func searchQuery(st page.State) string {
	term := strings.TrimSpace(st.SearchTerm)
	if term == "" {
		return ""
	}
	return url.Values{"search": {term}}.Encode()
}
