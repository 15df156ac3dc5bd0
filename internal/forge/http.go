package forge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const (
	defaultUserAgent   = "nf-core-pipeline-sync"
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	Credentials Credentials

	// Timeout bounds every request. Defaults to 30 seconds.
	Timeout time.Duration

	// CacheTTL enables caching of successful GET responses for the given
	// duration. Requests issued under withCacheBypass never read or
	// populate it.
	CacheTTL time.Duration

	// Transport overrides the base round tripper (tests, proxies).
	Transport http.RoundTripper
}

// NewHTTPClient returns an *http.Client that authenticates with the supplied
// credentials and sits on top of the response cache. It is the transport
// handed to go-github.
func NewHTTPClient(ctx context.Context, opts HTTPOptions) (*http.Client, error) {
	if opts.Credentials.Token == "" {
		return nil, fmt.Errorf("forge token is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cache := &cacheTransport{base: base, ttl: opts.CacheTTL, entries: make(map[string]cacheEntry)}

	var client *http.Client
	if opts.Credentials.Username != "" {
		auth := &github.BasicAuthTransport{
			Username:  opts.Credentials.Username,
			Password:  opts.Credentials.Token,
			Transport: cache,
		}
		client = auth.Client()
	} else {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: cache})
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Credentials.Token})
		client = oauth2.NewClient(ctx, ts)
	}
	client.Timeout = timeout
	return client, nil
}

type cacheBypassKey struct{}

// withCacheBypass marks every request issued under ctx as uncacheable.
func withCacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

func bypassesCache(req *http.Request) bool {
	bypass, _ := req.Context().Value(cacheBypassKey{}).(bool)
	return bypass
}

// cacheTransport serves repeated GETs from memory for ttl. Bypassing requests
// go straight to the forge with Cache-Control: no-cache so intermediaries do
// not answer them either.
type cacheTransport struct {
	base http.RoundTripper
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

func (t *cacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if bypassesCache(req) {
		req = req.Clone(req.Context())
		req.Header.Set("Cache-Control", "no-cache")
		return t.base.RoundTrip(req)
	}
	if t.ttl <= 0 || req.Method != http.MethodGet {
		return t.base.RoundTrip(req)
	}

	key := req.URL.String()
	if entry, ok := t.lookup(key); ok {
		return entry.response(req), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	t.store(key, cacheEntry{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: time.Now().Add(t.ttl),
	})
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (t *cacheTransport) lookup(key string) (cacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Now().After(entry.expires) {
		delete(t.entries, key)
		return cacheEntry{}, false
	}
	return entry, true
}

func (t *cacheTransport) store(key string, entry cacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry
}

// response replays the entry. X-From-Cache keeps go-github from recording
// stale rate limit headers.
func (e cacheEntry) response(req *http.Request) *http.Response {
	header := e.header.Clone()
	header.Set("X-From-Cache", "1")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		StatusCode:    e.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}
