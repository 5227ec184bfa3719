// Package sparse implements the stateless HTTP registry index accessor.
//
// A sparse index serves each package's version records from a per-package
// endpoint under a common base URL, so a lookup is a single GET. The network
// round trip goes through the negotiating client, which handles the HTTP/2
// prior-knowledge attempt and the one-time HTTP/1.1 fallback.
package sparse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/seqre-contrib/release-plz/client"
	"github.com/seqre-contrib/release-plz/internal/core"
)

// Kind is the index access model implemented by this package.
const Kind = "sparse"

func init() {
	core.Register(Kind, func(cfg core.Config) (core.Index, error) {
		return New(cfg)
	})
}

// Index queries a sparse registry index over HTTP. It keeps a read-through
// cache of the last record fetched per package name.
type Index struct {
	base   string
	client *client.Client

	mu    sync.RWMutex
	cache map[string]*core.Crate
}

// New creates a sparse index accessor for cfg.URL. A "sparse+" scheme
// prefix, as used in registry configuration, is stripped.
func New(cfg core.Config) (*Index, error) {
	base := strings.TrimPrefix(cfg.URL, "sparse+")
	if base == "" {
		return nil, errors.New("sparse index: registry URL is required")
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("sparse index: invalid registry URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("sparse index: unsupported scheme %q in registry URL", u.Scheme)
	}

	c := cfg.Client
	if c == nil {
		c = client.DefaultClient()
	}

	return &Index{
		base:   strings.TrimSuffix(base, "/"),
		client: c,
		cache:  make(map[string]*core.Crate),
	}, nil
}

func (s *Index) Kind() string {
	return Kind
}

// Lookup fetches the per-package metadata document and tests for an exact
// version match. An unknown package is reported as absent, not as an error.
// A cached record that already lists the version answers without a network
// round trip; published versions never leave the index (yanking flags them
// in place), so cached positives stay valid.
func (s *Index) Lookup(ctx context.Context, ref core.Ref, token client.Token) (bool, error) {
	if cached, ok := s.Cached(ref.Name); ok && cached.HasVersion(ref.Version) {
		return true, nil
	}

	crate, err := s.fetch(ctx, ref.Name, token)
	if err != nil {
		return false, fmt.Errorf("failed fetching sparse metadata: %w", err)
	}
	if crate == nil {
		return false, nil
	}
	return crate.HasVersion(ref.Version), nil
}

func (s *Index) fetch(ctx context.Context, name string, token client.Token) (*core.Crate, error) {
	resp, err := s.client.Get(ctx, s.crateURL(name), token)
	if err != nil {
		return nil, err
	}

	// Registries answer 404 (and some 410/451) for names they have never
	// seen. Anything non-2xx means the version is not visible, which is a
	// valid polling result, not a failure.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	crate, err := core.ParseCrate(name, resp.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = crate
	s.mu.Unlock()

	return crate, nil
}

// Cached returns the record from the most recent successful fetch of name.
func (s *Index) Cached(name string) (*core.Crate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	crate, ok := s.cache[name]
	return crate, ok
}

func (s *Index) crateURL(name string) string {
	return s.base + "/" + core.IndexPath(name)
}
