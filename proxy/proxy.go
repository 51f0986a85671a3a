// Package proxy models the egress identities workers send requests through.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DirectName names the identity used when no proxies are configured.
const DirectName = "direct"

// Identity is one outbound network path. A nil URL means a direct connection.
type Identity struct {
	Name string
	URL  *url.URL
}

// FromURLs parses proxy URLs into identities. An empty list yields a single
// direct identity so callers can always index into the result.
func FromURLs(raw []string) ([]Identity, error) {
	ids := make([]Identity, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", r, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy %q has no host", u.Redacted())
		}
		ids = append(ids, Identity{Name: u.Host, URL: u})
	}
	if len(ids) == 0 {
		ids = append(ids, Identity{Name: DirectName})
	}
	return ids, nil
}

// Pick maps a worker index onto the identity list.
func Pick(ids []Identity, worker int) Identity {
	if len(ids) == 0 {
		return Identity{Name: DirectName}
	}
	if worker < 0 {
		worker = -worker
	}
	return ids[worker%len(ids)]
}

// Transport builds an HTTP transport that egresses through the identity.
// Direct identities still honour the process proxy environment.
func (id Identity) Transport(timeout time.Duration) *http.Transport {
	proxyFn := http.ProxyFromEnvironment
	if id.URL != nil {
		proxyFn = http.ProxyURL(id.URL)
	}
	return &http.Transport{
		Proxy: proxyFn,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (id Identity) String() string {
	return id.Name
}
