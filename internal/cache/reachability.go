package cache

import (
	"context"
	"net/http"
	"time"
)

// Probe reports whether the network is currently reachable. The fetcher
// consults it before attempting a live fetch.
type Probe interface {
	Online(ctx context.Context) bool
}

// HTTPProbe checks reachability with a cheap HEAD request against a
// well-known endpoint.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates a probe against url with a short timeout.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		URL: url,
		Client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Online(ctx context.Context) bool {
	return f(ctx)
}
