package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/proxy"
	"github.com/aluiziolira/go-scrape-stations/session"
)

const (
	searchURL  = "https://www.example.com/home?search=77494"
	graphqlURL = "https://www.example.com/graphql"
)

const firstPageHTML = `<!doctype html><html><head><title>Gas Prices</title></head><body>
<div id="root"></div>
<script>
window.__APOLLO_STATE__ = {"Location:77494":{"stations({\"fuel\":1})":{"count":34,"cursor":{"next":"20"},
"results":[{"__ref":"Station:1"},{"__ref":"Station:2"}]}},
"Station:1":{"id":"1","name":"Shell {Katy}","address":{"region":"TX","postalCode":"77494"}},
"Station:2":{"id":"2","name":"Exxon","address":{"region":"TX"}}};
</script></body></html>`

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
	errs  []error
}

func (o *recordingObserver) ObserveRequest(kind string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	o.errs = append(o.errs, err)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://www.example.com"
	cfg.Timeout = 2 * time.Second
	return cfg
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &session.Session{ID: "s1", Token: "1.token", Jar: jar, CreatedAt: time.Now()}
}

func newTestFetcher(transport http.RoundTripper, opts ...Option) *Fetcher {
	opts = append([]Option{WithTransport(transport)}, opts...)
	return New(testConfig(), proxy.Identity{Name: "isp-1"}, opts...)
}

func TestFetchFirstPage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, searchURL, httpmock.NewStringResponder(http.StatusOK, firstPageHTML))

	obs := &recordingObserver{}
	f := newTestFetcher(transport, WithObserver(obs))
	if f.Identity() != "isp-1" {
		t.Fatalf("Identity() = %q, want isp-1", f.Identity())
	}
	page, err := f.FetchFirstPage(context.Background(), "77494", testSession(t))
	if err != nil {
		t.Fatalf("FetchFirstPage() error: %v", err)
	}
	if page.Total != 34 || page.Cursor != "20" || len(page.Stations) != 2 {
		t.Fatalf("unexpected page: total=%d cursor=%q stations=%d", page.Total, page.Cursor, len(page.Stations))
	}
	if page.Stations[0].Name != "Shell {Katy}" {
		t.Fatalf("station name = %q", page.Stations[0].Name)
	}
	if len(obs.kinds) != 1 || obs.kinds[0] != KindFirstPage || obs.errs[0] != nil {
		t.Fatalf("observer saw %v %v", obs.kinds, obs.errs)
	}
}

func TestFetchFirstPageWithoutState(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, searchURL,
		httpmock.NewStringResponder(http.StatusOK, `<html><body>Checking your browser</body></html>`))

	_, err := newTestFetcher(transport).FetchFirstPage(context.Background(), "77494", testSession(t))
	var malformed ErrMalformed
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("a challenge page should be retried")
	}
}

func TestFetchNextPage(t *testing.T) {
	var captured struct {
		header http.Header
		body   apiRequest
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, graphqlURL, func(req *http.Request) (*http.Response, error) {
		captured.header = req.Header.Clone()
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &captured.body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad body"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK,
			`{"data":{"locationBySearchTerm":{"stations":{"count":34,"cursor":{"next":null},
			"results":[{"id":"21","name":"Valero"},{"id":"22","name":"Chevron"}]}}}}`), nil
	})

	page, err := newTestFetcher(transport).FetchNextPage(context.Background(), "77494", testSession(t), "20")
	if err != nil {
		t.Fatalf("FetchNextPage() error: %v", err)
	}
	if page.Cursor != "" || page.Total != 34 || len(page.Stations) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	if got := captured.header.Get("gbcsrf"); got != "1.token" {
		t.Errorf("token header = %q", got)
	}
	if got := captured.header.Get("Referer"); got != searchURL {
		t.Errorf("referer = %q", got)
	}
	if got := captured.header.Get("Origin"); got != "https://www.example.com" {
		t.Errorf("origin = %q", got)
	}
	if got := captured.header.Get("Apollo-Require-Preflight"); got != "true" {
		t.Errorf("preflight header = %q", got)
	}
	if captured.body.OperationName != "LocationBySearchTerm" {
		t.Errorf("operation = %q", captured.body.OperationName)
	}
	v := captured.body.Variables
	if v.Search != "77494" || v.Cursor != "20" || v.Fuel != 1 || v.Lang != "en" {
		t.Errorf("variables = %+v", v)
	}
	if captured.body.Query == "" {
		t.Error("query document missing")
	}
}

func TestFetchNextPageErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		label     string
		retryable bool
	}{
		{
			name:      "rate limited",
			responder: httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"),
			label:     "rate_limited",
		},
		{
			name:      "unauthorized",
			responder: httpmock.NewStringResponder(http.StatusUnauthorized, ""),
			label:     "auth_expired",
		},
		{
			name:      "forbidden",
			responder: httpmock.NewStringResponder(http.StatusForbidden, ""),
			label:     "auth_expired",
		},
		{
			name:      "server error",
			responder: httpmock.NewStringResponder(http.StatusBadGateway, ""),
			label:     "server_error",
			retryable: true,
		},
		{
			name:      "not found",
			responder: httpmock.NewStringResponder(http.StatusNotFound, ""),
			label:     "unexpected_status",
			retryable: true,
		},
		{
			name:      "malformed json",
			responder: httpmock.NewStringResponder(http.StatusOK, `{"data":`),
			label:     "malformed",
			retryable: true,
		},
		{
			name:      "graphql errors",
			responder: httpmock.NewStringResponder(http.StatusOK, `{"errors":[{"message":"boom"}]}`),
			label:     "malformed",
			retryable: true,
		},
		{
			name:      "network",
			responder: httpmock.NewErrorResponder(errors.New("connection reset by peer")),
			label:     "connection",
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodPost, graphqlURL, tt.responder)

			obs := &recordingObserver{}
			_, err := newTestFetcher(transport, WithObserver(obs)).FetchNextPage(context.Background(), "77494", testSession(t), "20")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ErrorTypeLabel(err); got != tt.label {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.label, err)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if len(obs.kinds) != 1 || obs.kinds[0] != KindNextPage {
				t.Fatalf("observer saw %v", obs.kinds)
			}
		})
	}
}

func TestFetcherSendsSessionCookies(t *testing.T) {
	sess := testSession(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, searchURL, func(req *http.Request) (*http.Response, error) {
		if c, err := req.Cookie("visitor"); err != nil || c.Value != "abc" {
			return httpmock.NewStringResponse(http.StatusForbidden, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, firstPageHTML), nil
	})

	u, _ := http.NewRequest(http.MethodGet, searchURL, nil)
	sess.Jar.SetCookies(u.URL, []*http.Cookie{{Name: "visitor", Value: "abc", Path: "/"}})

	if _, err := newTestFetcher(transport).FetchFirstPage(context.Background(), "77494", sess); err != nil {
		t.Fatalf("FetchFirstPage() error: %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, expected: "auth_expired"},
		{name: "server", statusCode: http.StatusServiceUnavailable, expected: "server_error"},
		{name: "transport", err: errors.New("EOF"), expected: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}
