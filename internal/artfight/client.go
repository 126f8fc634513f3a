// Package artfight is the read-only client for the origin site: the
// paginated listing fetcher, the team-standings parser, and authentication
// surfacing. All fetches are gated by the caller through the politeness
// scheduler; this package only inserts the per-page delays of a single walk.
package artfight

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"artfightwatch/internal/config"
	"artfightwatch/internal/politeness"
	"artfightwatch/internal/store"
)

// rememberWebSuffix is the hash the origin appends to its persistent-login
// cookie name.
const rememberWebSuffix = "59ba36addc2b2f9401580f014c7f58ea4e30989d"

// authCacheDuration bounds how often the auth probe hits the origin.
const authCacheDuration = 5 * time.Minute

// AuthStatus is the process-wide authentication state surfaced to the
// status endpoint.
type AuthStatus struct {
	Configured bool       `json:"configured"`
	Valid      *bool      `json:"valid,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
}

// Client fetches and parses origin pages.
type Client struct {
	http     *resty.Client
	base     *url.URL
	store    store.Store
	sched    *politeness.Scheduler
	teams    config.TeamsConfig
	maxPages int
	hasCreds bool

	authMu        sync.Mutex
	authValid     *bool
	authCheckedAt time.Time
}

// New builds a Client from configuration. The session cookies are treated
// as opaque blobs; no refresh or expiry management happens here.
func New(cfg *config.Config, st store.Store, sched *politeness.Scheduler) (*Client, error) {
	base, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "artfight: parse base url")
	}

	http := resty.New().
		SetTimeout(30 * time.Second).
		SetHeaders(map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:140.0) Gecko/20100101 Firefox/140.0",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
			"DNT":             "1",
			"Cache-Control":   "no-cache",
		})

	hasCreds := cfg.Auth.LaravelSession != ""
	if cfg.Auth.LaravelSession != "" {
		http.SetCookie(&nethttp.Cookie{Name: "laravel_session", Value: cfg.Auth.LaravelSession})
	}
	if cfg.Auth.CFClearance != "" {
		http.SetCookie(&nethttp.Cookie{Name: "cf_clearance", Value: cfg.Auth.CFClearance})
	}
	if cfg.Auth.RememberWeb != "" {
		http.SetCookie(&nethttp.Cookie{Name: "remember_web_" + rememberWebSuffix, Value: cfg.Auth.RememberWeb})
	}

	return &Client{
		http:     http,
		base:     base,
		store:    st,
		sched:    sched,
		teams:    cfg.Teams,
		maxPages: cfg.Poll.MaxPages,
		hasCreds: hasCreds,
	}, nil
}

// getDocument fetches a path relative to the base URL and parses it. Errors
// are classified per the cycle failure taxonomy.
func (c *Client) getDocument(ctx context.Context, path string, query url.Values) (*goquery.Document, error) {
	u := *c.base
	u.Path = path
	u.RawQuery = query.Encode()

	resp, err := c.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, eris.Wrapf(err, "artfight: fetch %s cancelled", path)
		}
		return nil, eris.Wrapf(ErrNetwork, "artfight: fetch %s: %v", path, err)
	}

	// A protected page bounced to the login form means our cookies are no
	// longer accepted.
	if final := resp.RawResponse.Request.URL; final != nil && final.Path == "/login" {
		c.setAuthValid(false)
		return nil, eris.Wrapf(ErrAuth, "artfight: fetch %s: redirected to login", path)
	}

	code := resp.StatusCode()
	switch {
	case code == 401 || code == 403:
		c.setAuthValid(false)
		return nil, eris.Wrapf(ErrAuth, "artfight: fetch %s: status %d", path, code)
	case code >= 500:
		return nil, eris.Wrapf(ErrNetwork, "artfight: fetch %s: status %d", path, code)
	case code >= 400:
		return nil, eris.Wrapf(ErrParse, "artfight: fetch %s: status %d", path, code)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, eris.Wrapf(ErrParse, "artfight: parse %s: %v", path, err)
	}
	return doc, nil
}

// ValidateAuth probes a protected listing and reports whether the session
// cookies are still accepted. Results are cached for five minutes so the
// probe itself does not become a polling burden. Without configured
// credentials the check is skipped and nil is returned.
func (c *Client) ValidateAuth(ctx context.Context, probeUser string) error {
	if !c.hasCreds {
		return nil
	}

	c.authMu.Lock()
	if c.authValid != nil && time.Since(c.authCheckedAt) < authCacheDuration {
		valid := *c.authValid
		c.authMu.Unlock()
		if !valid {
			return eris.Wrap(ErrAuth, "artfight: cached auth check")
		}
		return nil
	}
	c.authMu.Unlock()

	doc, err := c.getDocument(ctx, "/~"+probeUser+"/defenses", nil)
	if err != nil {
		if IsAuth(err) {
			return err
		}
		return eris.Wrap(err, "artfight: auth probe")
	}

	// A signed-in page never renders login links.
	loggedOut := doc.Find(`a[href="/login"], form[action="/login"]`).Length() > 0
	c.setAuthValid(!loggedOut)
	if loggedOut {
		return eris.Wrap(ErrAuth, "artfight: session cookies rejected")
	}
	return nil
}

func (c *Client) setAuthValid(valid bool) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.authValid = &valid
	c.authCheckedAt = time.Now().UTC()
	if !valid {
		zap.L().Warn("artfight: authentication invalid, polling suppressed until cookies refresh")
	}
}

// Auth returns the current process-wide authentication status.
func (c *Client) Auth() AuthStatus {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	st := AuthStatus{Configured: c.hasCreds}
	if c.authValid != nil {
		v := *c.authValid
		t := c.authCheckedAt
		st.Valid = &v
		st.CheckedAt = &t
	}
	return st
}

// absoluteURL resolves a possibly-relative href against the origin base.
func (c *Client) absoluteURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.base.ResolveReference(ref).String()
}
