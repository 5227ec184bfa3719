// Package client provides the HTTP layer for talking to sparse registry
// indexes. Its centerpiece is a protocol-negotiating GET: requests prefer
// HTTP/2 with prior knowledge and fall back to HTTP/1.1 exactly once when the
// server refuses the connection or tears down the HTTP/2 session.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

const defaultUserAgent = "release-plz"

// Client issues registry index requests. It holds one HTTP/2 prior-knowledge
// client and one plain HTTP/1.1 client, plus a per-host circuit breaker so
// that many concurrent publication checks against a dead registry fail fast.
type Client struct {
	h2        *http.Client
	h1        *http.Client
	userAgent string
	breakers  *breakerGroup
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for protocol-fallback diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout sets a hard timeout on both underlying HTTP clients. Callers
// normally bound requests with a context deadline instead.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.h2.Timeout = d
		c.h1.Timeout = d
	}
}

// WithHTTPClients replaces the HTTP/2 and HTTP/1.1 clients. Intended for
// tests and for callers with special transport needs (proxies, custom TLS).
func WithHTTPClients(h2, h1 *http.Client) Option {
	return func(c *Client) {
		c.h2 = h2
		c.h1 = h1
	}
}

var (
	resolverOnce   sync.Once
	sharedResolver *dnscache.Resolver
)

// resolver returns the process-wide DNS cache, starting its background
// refresh on first use. Shared so that creating clients does not accumulate
// refresh goroutines.
func resolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		sharedResolver = &dnscache.Resolver{}
		go func() {
			for range time.Tick(5 * time.Minute) {
				sharedResolver.Refresh(true)
			}
		}()
	})
	return sharedResolver
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver().LookupHost(ctx, host)
		if err != nil {
			return nil, &connectError{err: err}
		}
		var lastErr error
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		if lastErr == nil {
			lastErr = errors.New("resolver returned no addresses")
		}
		return nil, &connectError{err: fmt.Errorf("failed to dial any resolved IP for %s: %w", host, lastErr)}
	}

	h1 := &http.Client{
		Transport: &http.Transport{
			DialContext:           dialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	h2 := &http.Client{
		Transport: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
				conn, err := dialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					conn.Close()
					return nil, err
				}
				tcfg := cfg.Clone()
				if tcfg == nil {
					tcfg = &tls.Config{}
				}
				if tcfg.ServerName == "" {
					tcfg.ServerName = host
				}
				if len(tcfg.NextProtos) == 0 {
					tcfg.NextProtos = []string{http2.NextProtoTLS}
				}
				tlsConn := tls.Client(conn, tcfg)
				if err := tlsConn.HandshakeContext(ctx); err != nil {
					conn.Close()
					return nil, &connectError{err: err}
				}
				// A server that completes the handshake without selecting h2
				// over ALPN only speaks HTTP/1.1; surface that as a
				// connection-setup failure so the downgrade retry fires.
				if p := tlsConn.ConnectionState().NegotiatedProtocol; p != http2.NextProtoTLS {
					conn.Close()
					return nil, &connectError{err: fmt.Errorf("server negotiated %q instead of HTTP/2", p)}
				}
				return tlsConn, nil
			},
		},
	}

	c := &Client{
		h2:        h2,
		h1:        h1,
		userAgent: defaultUserAgent,
		breakers:  newBreakerGroup(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns a client with the default transports and a per-host
// circuit breaker that trips after 5 consecutive failures.
func DefaultClient() *Client {
	return NewClient()
}

// Response is the transport-neutral result of a registry request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get fetches rawurl, attaching the Authorization header when a token is
// present. The first attempt uses HTTP/2 with prior knowledge; if it fails
// with a connection-level error or an HTTP/2 GOAWAY, the request is retried
// exactly once over HTTP/1.1. Response compression is negotiated by the
// transports. Non-2xx responses are returned to the caller, not converted to
// errors.
func (c *Client) Get(ctx context.Context, rawurl string, token Token) (*Response, error) {
	var auth string
	if token.Present() {
		v, err := token.headerValue()
		if err != nil {
			return nil, err
		}
		auth = v
	}

	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, &TransportError{URL: rawurl, Reason: ReasonOther, Err: err}
	}

	breaker := c.breakers.get(u.Host)
	if !breaker.Ready() {
		return nil, &TransportError{URL: rawurl, Reason: ReasonOther, Err: ErrCircuitOpen}
	}

	// Prior knowledge only makes sense against TLS endpoints; cleartext
	// registries are served over plain HTTP/1.1.
	negotiate := u.Scheme == "https"

	var resp *Response
	callErr := breaker.Call(func() error {
		var getErr error
		if negotiate {
			resp, getErr = c.get(ctx, rawurl, auth)
		} else {
			resp, getErr = c.attempt(ctx, c.h1, rawurl, auth)
		}
		return getErr
	}, 0)
	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawurl, auth string) (*Response, error) {
	resp, err := c.attempt(ctx, c.h2, rawurl, auth)
	if err == nil {
		return resp, nil
	}

	// Some private registries advertise HTTP/2 but refuse or tear down the
	// connection. The transport boundary tagged the failure, so one flat
	// check decides whether a downgraded attempt is warranted.
	var terr *TransportError
	if errors.As(err, &terr) && (terr.Reason == ReasonConnectFailed || terr.Reason == ReasonProtocolRejected) {
		c.logger.Debug().Err(err).Str("url", rawurl).
			Msg("HTTP/2 sparse index request failed, trying HTTP/1.1")
		return c.attempt(ctx, c.h1, rawurl, auth)
	}
	return nil, err
}

func (c *Client) attempt(ctx context.Context, hc *http.Client, rawurl, auth string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, &TransportError{URL: rawurl, Reason: ReasonOther, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	res, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawurl, Reason: classify(err), Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{URL: rawurl, Reason: ReasonOther, Err: err}
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       body,
	}, nil
}

// classify tags a transport failure by inspecting the full error chain once.
func classify(err error) Reason {
	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		return ReasonProtocolRejected
	}

	var cerr *connectError
	if errors.As(err, &cerr) {
		return ReasonConnectFailed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonConnectFailed
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ReasonConnectFailed
	}

	return ReasonOther
}
