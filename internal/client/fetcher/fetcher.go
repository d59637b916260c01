// Package fetcher decides, per request, between the network and the
// client's durable cache: API requests pass straight through, static
// assets are fetched network-first with fallback to the cached copy.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Source says where a response body came from.
type Source int

const (
	FromNetwork Source = iota
	FromCache
)

func (s Source) String() string {
	if s == FromCache {
		return "cache"
	}
	return "network"
}

// Outcome classifies a network attempt for the decision function.
type Outcome int

const (
	// NetOK is a 2xx response.
	NetOK Outcome = iota
	// NetBadStatus is a reachable server answering outside 2xx.
	NetBadStatus
	// NetFailed is a transport-level failure.
	NetFailed
)

// ErrUnavailable is returned when the network failed and no cached
// copy exists.
var ErrUnavailable = errors.New("fetcher: network failed and no cached copy")

// Decision is the outcome of the routing policy for one request.
type Decision struct {
	Source Source
	// StoreCopy asks the caller to clone the network response into the
	// cache.
	StoreCopy bool
}

// Decide is the routing policy as a pure function. api marks requests
// under an API prefix, which represent mutable server state and are
// never cached or served stale. cached reports whether a copy exists.
// The error is ErrUnavailable when neither source can answer.
func Decide(api bool, outcome Outcome, cached bool) (Decision, error) {
	if api {
		if outcome == NetFailed {
			return Decision{}, ErrUnavailable
		}
		return Decision{Source: FromNetwork}, nil
	}

	switch outcome {
	case NetOK:
		return Decision{Source: FromNetwork, StoreCopy: true}, nil
	default:
		if cached {
			return Decision{Source: FromCache}, nil
		}
		return Decision{}, ErrUnavailable
	}
}

// Store is the durable cache the fetcher reads through and writes
// back to, keyed by request URL.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

// Result is a completed fetch.
type Result struct {
	Body   []byte
	Status int
	Source Source
}

// Fetcher applies the Decide policy with a real HTTP client and cache.
type Fetcher struct {
	client      *http.Client
	store       Store
	apiPrefixes []string

	// Per-URL sequence numbers. A fetch that was superseded by a newer
	// request for the same URL must not overwrite the fresher cache
	// entry with its late result.
	mu  sync.Mutex
	seq map[string]uint64
}

// New creates a fetcher. Requests whose URL path starts with one of
// apiPrefixes bypass the cache entirely. client defaults to
// http.DefaultClient.
func New(client *http.Client, store Store, apiPrefixes []string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:      client,
		store:       store,
		apiPrefixes: apiPrefixes,
		seq:         make(map[string]uint64),
	}
}

func (f *Fetcher) isAPI(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, prefix := range f.apiPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}

// begin advances the URL's sequence number and returns the token this
// fetch must still hold at write-back time.
func (f *Fetcher) begin(url string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[url]++
	return f.seq[url]
}

func (f *Fetcher) isCurrent(url string, token uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq[url] == token
}

// Fetch retrieves url per the routing policy. Concurrent fetches for
// the same URL are not deduplicated; the newest one wins the cache.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	token := f.begin(url)
	api := f.isAPI(url)

	outcome, status, body, netErr := f.tryNetwork(ctx, url)

	var cachedBody []byte
	cached := false
	if !api {
		cachedBody, cached = f.store.Get(url)
	}

	d, err := Decide(api, outcome, cached)
	if err != nil {
		if netErr != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, netErr)
		}
		return Result{Status: status}, fmt.Errorf("%w: HTTP status %d", ErrUnavailable, status)
	}

	if d.Source == FromCache {
		return Result{Body: cachedBody, Status: http.StatusOK, Source: FromCache}, nil
	}

	if d.StoreCopy && f.isCurrent(url, token) {
		if err := f.store.Put(url, body); err != nil {
			// A failed write-back does not fail the fetch.
			_ = err
		}
	}
	return Result{Body: body, Status: status, Source: FromNetwork}, nil
}

func (f *Fetcher) tryNetwork(ctx context.Context, url string) (Outcome, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NetFailed, 0, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return NetFailed, 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetFailed, resp.StatusCode, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NetBadStatus, resp.StatusCode, body, nil
	}
	return NetOK, resp.StatusCode, body, nil
}
