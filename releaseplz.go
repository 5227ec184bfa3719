// Package releaseplz determines whether a cargo package version is visible
// on a registry index, and waits for it to appear after a publish.
//
// The package supports the two registry index access models: a locally
// replicated git-backed index, and a stateless sparse HTTP index. Sparse
// requests prefer HTTP/2 with prior knowledge and fall back to HTTP/1.1 once
// when the server does not really support it.
//
// Basic usage:
//
//	import (
//		"context"
//		"time"
//
//		releaseplz "github.com/seqre-contrib/release-plz"
//		_ "github.com/seqre-contrib/release-plz/all"
//	)
//
//	idx, err := releaseplz.New("sparse", releaseplz.Config{URL: "sparse+https://index.crates.io/"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = releaseplz.WaitUntilPublished(context.Background(),
//		idx, releaseplz.Ref{Name: "serde", Version: "1.0.228"},
//		releaseplz.CheckOptions{CheckTimeout: 30 * time.Second, WaitTimeout: 5 * time.Minute})
//
// To make both index kinds available, import the all subpackage for its side
// effects, as above.
package releaseplz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/git-pkgs/purl"

	"github.com/seqre-contrib/release-plz/client"
	"github.com/seqre-contrib/release-plz/internal/core"
)

// Re-export types from internal/core
type (
	// Index is the interface implemented by both registry index accessors.
	Index = core.Index

	// Ref identifies a package at an exact version.
	Ref = core.Ref

	// Crate is the registry's view of one package's published versions.
	Crate = core.Crate

	// CrateVersion is a single published version record.
	CrateVersion = core.CrateVersion

	// Config carries the caller-supplied location of an index.
	Config = core.Config

	// CheckOptions bounds a publication check.
	CheckOptions = core.CheckOptions
)

// Re-export types from client
type (
	// Client is the protocol-negotiating HTTP client for sparse indexes.
	Client = client.Client

	// Option configures a Client.
	Option = client.Option

	// Token holds a registry auth token that resists accidental printing.
	Token = client.Token

	// Response is the transport-neutral result of a registry request.
	Response = client.Response

	// Reason classifies a transport failure.
	Reason = client.Reason
)

// Error types
type (
	TransportError = client.TransportError
	AuthError      = client.AuthError
	ParseError     = core.ParseError
	TimeoutError   = core.TimeoutError
)

// Re-export constants
const (
	ReasonOther            = client.ReasonOther
	ReasonConnectFailed    = client.ReasonConnectFailed
	ReasonProtocolRejected = client.ReasonProtocolRejected
)

// Re-export errors
var (
	ErrCircuitOpen = client.ErrCircuitOpen
)

// CargoRegistry names a registry and holds its index handle. An empty Name
// means the default registry, crates.io.
type CargoRegistry struct {
	Name  string
	Index Index
}

// New creates an index accessor of the given kind ("git" or "sparse").
// Note: kinds must be imported to be registered; see the all subpackage.
func New(kind string, cfg Config) (Index, error) {
	return core.New(kind, cfg)
}

// SupportedKinds returns all registered index kinds.
func SupportedKinds() []string {
	return core.SupportedKinds()
}

// NewToken wraps a raw registry token value.
var NewToken = client.NewToken

// NewClient creates an HTTP client with the given options.
var NewClient = client.NewClient

// DefaultClient returns an HTTP client with the default transports.
var DefaultClient = client.DefaultClient

// WithUserAgent sets the User-Agent header.
var WithUserAgent = client.WithUserAgent

// WithTimeout sets a hard timeout on the underlying HTTP clients.
var WithTimeout = client.WithTimeout

// WithLogger sets the client's diagnostic logger.
var WithLogger = client.WithLogger

// IsPublished reports whether ref is visible in the index, bounding the
// lookup to timeout.
func IsPublished(ctx context.Context, idx Index, ref Ref, timeout time.Duration, token Token) (bool, error) {
	return core.IsPublished(ctx, idx, ref, timeout, token)
}

// WaitUntilPublished polls the index until ref is visible or
// opts.WaitTimeout elapses. See core.WaitUntilPublished for the exact loop
// semantics.
func WaitUntilPublished(ctx context.Context, idx Index, ref Ref, opts CheckOptions) error {
	return core.WaitUntilPublished(ctx, idx, ref, opts)
}

// RefFromPURL builds a Ref from a versioned cargo Package URL, e.g.
// "pkg:cargo/serde@1.0.228".
func RefFromPURL(purlStr string) (Ref, error) {
	p, err := purl.Parse(purlStr)
	if err != nil {
		return Ref{}, err
	}
	if p.Type != "cargo" {
		return Ref{}, fmt.Errorf("unsupported purl type %q, want cargo", p.Type)
	}
	if p.Version == "" {
		return Ref{}, errors.New("purl must include a version")
	}
	return Ref{Name: p.Name, Version: p.Version}, nil
}

// WaitFromPURL is WaitUntilPublished for a versioned cargo Package URL.
func WaitFromPURL(ctx context.Context, idx Index, purlStr string, opts CheckOptions) error {
	ref, err := RefFromPURL(purlStr)
	if err != nil {
		return err
	}
	return WaitUntilPublished(ctx, idx, ref, opts)
}
