// Package session obtains the anti-forgery token and cookie jar that every
// provider request must carry.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/proxy"
)

// Session pairs a token with the cookie jar it was issued alongside.
// A Session is never mutated; refresh replaces it.
type Session struct {
	ID        string
	Token     string
	Jar       http.CookieJar
	CreatedAt time.Time
	Identity  string
}

// AuthError reports that no session could be established.
type AuthError struct {
	Identity string
	Err      error
}

func (e AuthError) Error() string {
	return fmt.Errorf("auth (%s): %w", e.Identity, e.Err).Error()
}

func (e AuthError) Unwrap() error {
	return e.Err
}

var (
	jsonTokenPattern    = regexp.MustCompile(`"csrfToken"\s*:\s*"([^"]+)"`)
	versionTokenPattern = regexp.MustCompile(`(?i)csrf["']?\s*[:=]\s*["']?([0-9]\.[a-zA-Z0-9._+\-/]+)`)
)

// ExtractToken finds the anti-forgery token in a bootstrap body, falling back
// to the named cookie.
func ExtractToken(body []byte, cookies []*http.Cookie, cookieName string) (string, bool) {
	if m := jsonTokenPattern.FindSubmatch(body); m != nil {
		return string(m[1]), true
	}
	if m := versionTokenPattern.FindSubmatch(body); m != nil {
		return string(m[1]), true
	}
	if cookieName != "" {
		for _, c := range cookies {
			if c.Name == cookieName && c.Value != "" {
				return c.Value, true
			}
		}
	}
	return "", false
}

// IsStale reports whether s is older than maxAge at now. A nil session is stale.
func IsStale(s *Session, maxAge time.Duration, now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.CreatedAt) > maxAge
}

// Manager acquires sessions. It holds no session state itself.
type Manager struct {
	cfg *config.Config
	now func() time.Time

	// transport overrides the identity transport; used by tests.
	transport http.RoundTripper
}

// NewManager builds a manager for cfg.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// WithTransport makes every acquisition use rt instead of the identity's own transport.
func (m *Manager) WithTransport(rt http.RoundTripper) *Manager {
	m.transport = rt
	return m
}

// BootstrapURL is the page a session is established from.
func (m *Manager) BootstrapURL() string {
	return SearchURL(m.cfg, m.cfg.BootstrapRegion)
}

// SearchURL is the HTML search page of a region.
func SearchURL(cfg *config.Config, region string) string {
	return cfg.BaseURL + cfg.SearchPath + "?search=" + url.QueryEscape(region)
}

// Acquire performs the bootstrap GET through id and returns a fresh session.
func (m *Manager) Acquire(ctx context.Context, id proxy.Identity) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, AuthError{Identity: id.Name, Err: err}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, AuthError{Identity: id.Name, Err: fmt.Errorf("cookie jar: %w", err)}
	}

	c := colly.NewCollector(
		colly.UserAgent(m.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(m.cfg.Timeout)
	if m.transport != nil {
		c.WithTransport(m.transport)
	} else {
		c.WithTransport(id.Transport(m.cfg.Timeout))
	}
	c.SetCookieJar(jar)

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	target := m.BootstrapURL()
	hdr := http.Header{}
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	hdr.Set("Accept-Language", "en-US,en;q=0.9")
	if err := c.Request(http.MethodGet, target, nil, colly.NewContext(), hdr); err != nil {
		return nil, AuthError{Identity: id.Name, Err: fmt.Errorf("bootstrap %s: %w", target, err)}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, AuthError{Identity: id.Name, Err: err}
	}
	token, ok := ExtractToken(body, jar.Cookies(u), m.cfg.TokenCookie)
	if !ok {
		return nil, AuthError{Identity: id.Name, Err: fmt.Errorf("no anti-forgery token in bootstrap response")}
	}

	return &Session{
		ID:        uuid.NewString(),
		Token:     token,
		Jar:       jar,
		CreatedAt: m.now(),
		Identity:  id.Name,
	}, nil
}
