package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/proxy"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://www.example.com"
	cfg.Timeout = 2 * time.Second
	cfg.RetryBackoffMin = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func TestExtractToken(t *testing.T) {
	cookies := []*http.Cookie{{Name: "gbcsrf", Value: "1.fromcookie"}}
	tests := []struct {
		name    string
		body    string
		cookies []*http.Cookie
		want    string
		wantOK  bool
	}{
		{
			name:   "json field",
			body:   `<script>window.gbcsrf = {"csrfToken":"1.abcDEF+/="}</script>`,
			want:   "1.abcDEF+/=",
			wantOK: true,
		},
		{
			name:   "version dot opaque pattern",
			body:   `<meta name="csrf" content=""><script>var CSRF = '1.Zx9_y-z/q+';</script>`,
			want:   "1.Zx9_y-z/q+",
			wantOK: true,
		},
		{
			name:   "json field wins over pattern",
			body:   `gbcsrf: "2.second" "csrfToken":"1.first"`,
			want:   "1.first",
			wantOK: true,
		},
		{
			name:    "cookie fallback",
			body:    `<html>no token here</html>`,
			cookies: cookies,
			want:    "1.fromcookie",
			wantOK:  true,
		},
		{
			name:   "absent",
			body:   `<html>csrf: nope</html>`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractToken([]byte(tt.body), tt.cookies, "gbcsrf")
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ExtractToken() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{name: "nil", session: nil, want: true},
		{name: "fresh", session: &Session{CreatedAt: now.Add(-time.Minute)}, want: false},
		{name: "exactly max age", session: &Session{CreatedAt: now.Add(-25 * time.Minute)}, want: false},
		{name: "aged out", session: &Session{CreatedAt: now.Add(-26 * time.Minute)}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.session, 25*time.Minute, now); got != tt.want {
				t.Fatalf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManagerAcquire(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://www.example.com/home?search=10001",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, `<html><script>{"csrfToken":"1.tok"}</script></html>`)
			resp.Header.Set("Content-Type", "text/html")
			resp.Header.Add("Set-Cookie", "visitor=abc; Path=/")
			return resp, nil
		})

	m := NewManager(cfg).WithTransport(transport)
	s, err := m.Acquire(context.Background(), proxy.Identity{Name: "isp-1"})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if s.Token != "1.tok" || s.Identity != "isp-1" || s.ID == "" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Jar == nil {
		t.Fatal("session must carry the cookie jar it was issued with")
	}
	if transport.GetCallCountInfo()["GET https://www.example.com/home?search=10001"] != 1 {
		t.Fatalf("calls = %v", transport.GetCallCountInfo())
	}
}

func TestManagerAcquireTokenFromCookie(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://www.example.com/home?search=10001",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, `<html></html>`)
			resp.Header.Add("Set-Cookie", "gbcsrf=1.cookietok; Path=/")
			return resp, nil
		})

	s, err := NewManager(cfg).WithTransport(transport).Acquire(context.Background(), proxy.Identity{Name: proxy.DirectName})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if s.Token != "1.cookietok" {
		t.Fatalf("token = %q", s.Token)
	}
}

func TestManagerAcquireFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{
			name:      "no token",
			responder: httpmock.NewStringResponder(http.StatusOK, `<html>nothing</html>`),
		},
		{
			name:      "blocked",
			responder: httpmock.NewStringResponder(http.StatusForbidden, `denied`),
		},
		{
			name:      "network error",
			responder: httpmock.NewErrorResponder(errors.New("connection reset")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, "https://www.example.com/home?search=10001", tt.responder)

			_, err := NewManager(testConfig()).WithTransport(transport).Acquire(context.Background(), proxy.Identity{Name: "isp-2"})
			var authErr AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %v", err)
			}
			if authErr.Identity != "isp-2" {
				t.Fatalf("identity = %q", authErr.Identity)
			}
		})
	}
}
