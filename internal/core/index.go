package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seqre-contrib/release-plz/client"
)

// Index answers whether a registry index currently contains a package
// version. Implementations must treat an unknown package as absent, not as
// an error, and must be safe to call from multiple goroutines.
type Index interface {
	// Kind returns the index access model, e.g. "git" or "sparse".
	Kind() string

	// Lookup reports whether ref is visible in the index. The token is
	// ignored by index kinds that do not authenticate.
	Lookup(ctx context.Context, ref Ref, token client.Token) (bool, error)
}

// Config carries the caller-supplied location of an index. The core does not
// own registry configuration; values come from the surrounding tool.
type Config struct {
	// URL is the remote index location: the git origin for the git kind,
	// or the base URL of the per-package endpoints for the sparse kind.
	// A leading "sparse+" scheme prefix is accepted and stripped.
	URL string

	// Path is the local replica location, used by the git kind only.
	Path string

	// Client performs the HTTP requests of the sparse kind. When nil,
	// client.DefaultClient() is used.
	Client *client.Client

	// Logger receives diagnostics. When nil, logging is disabled.
	Logger *zerolog.Logger
}

// Log returns the configured logger, or a no-op logger.
func (c Config) Log() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return zerolog.Nop()
}

// Factory creates an index accessor from a configuration.
type Factory func(cfg Config) (Index, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register adds an index factory to the global registry.
// kind is the index access model (e.g. "git", "sparse").
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = factory
}

// New creates an index accessor of the given kind.
func New(kind string, cfg Config) (Index, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown index kind: %s", kind)
	}

	return factory(cfg)
}

// SupportedKinds returns all registered index kinds.
func SupportedKinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	return kinds
}
