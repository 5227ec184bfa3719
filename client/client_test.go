package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestGetFallbackOnGoAway(t *testing.T) {
	var h2Calls, h1Calls atomic.Int32

	h2 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h2Calls.Add(1)
		return nil, http2.GoAwayError{ErrCode: http2.ErrCodeNo}
	})}
	h1 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h1Calls.Add(1)
		return okResponse(`{"name":"serde","vers":"0.9.0"}`), nil
	})}

	c := NewClient(WithHTTPClients(h2, h1))
	resp, err := c.Get(context.Background(), "https://registry.example/se/rd/serde", Token{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if h2Calls.Load() != 1 || h1Calls.Load() != 1 {
		t.Errorf("attempts = %d HTTP/2, %d HTTP/1.1; want 1 and 1", h2Calls.Load(), h1Calls.Load())
	}
}

func TestGetFallbackOnConnectError(t *testing.T) {
	var h1Calls atomic.Int32

	h2 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})}
	h1 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h1Calls.Add(1)
		return okResponse("{}"), nil
	})}

	c := NewClient(WithHTTPClients(h2, h1))
	if _, err := c.Get(context.Background(), "https://registry.example/se/rd/serde", Token{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if h1Calls.Load() != 1 {
		t.Errorf("HTTP/1.1 attempts = %d, want 1", h1Calls.Load())
	}
}

func TestGetNoFallbackOnOtherError(t *testing.T) {
	var h1Calls atomic.Int32

	h2 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("tls: bad certificate")
	})}
	h1 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h1Calls.Add(1)
		return okResponse("{}"), nil
	})}

	c := NewClient(WithHTTPClients(h2, h1))
	_, err := c.Get(context.Background(), "https://registry.example/se/rd/serde", Token{})
	if err == nil {
		t.Fatal("expected error")
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if terr.Reason != ReasonOther {
		t.Errorf("Reason = %v, want ReasonOther", terr.Reason)
	}
	if h1Calls.Load() != 0 {
		t.Errorf("HTTP/1.1 attempts = %d, want 0 (no fallback)", h1Calls.Load())
	}
}

func TestGetSingleFallbackOnly(t *testing.T) {
	var h2Calls, h1Calls atomic.Int32

	h2 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h2Calls.Add(1)
		return nil, http2.GoAwayError{ErrCode: http2.ErrCodeProtocol}
	})}
	h1 := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		h1Calls.Add(1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})}

	c := NewClient(WithHTTPClients(h2, h1))
	_, err := c.Get(context.Background(), "https://registry.example/se/rd/serde", Token{})
	if err == nil {
		t.Fatal("expected error")
	}
	if h2Calls.Load() != 1 || h1Calls.Load() != 1 {
		t.Errorf("attempts = %d HTTP/2, %d HTTP/1.1; want exactly 1 and 1", h2Calls.Load(), h1Calls.Load())
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if terr.Reason != ReasonConnectFailed {
		t.Errorf("Reason = %v, want ReasonConnectFailed from the second attempt", terr.Reason)
	}
}

func TestGetAuthorizationHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := DefaultClient()
	if _, err := c.Get(context.Background(), server.URL+"/se/rd/serde", NewToken("Bearer s3cr3t")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotAuth != "Bearer s3cr3t" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer s3cr3t")
	}
}

func TestGetNoAuthorizationHeaderWithoutToken(t *testing.T) {
	var hadAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := DefaultClient()
	if _, err := c.Get(context.Background(), server.URL+"/se/rd/serde", Token{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hadAuth {
		t.Error("Authorization header sent without a token")
	}
}

func TestGetInvalidTokenFailsBeforeRequest(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	c := DefaultClient()
	_, err := c.Get(context.Background(), server.URL+"/se/rd/serde", NewToken("bad\ntoken"))

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if requests.Load() != 0 {
		t.Errorf("server saw %d requests, want 0", requests.Load())
	}
}

func TestGetReturnsNon2xxResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := DefaultClient()
	resp, err := c.Get(context.Background(), server.URL+"/se/rd/serde", Token{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{
			name: "goaway",
			err:  http2.GoAwayError{ErrCode: http2.ErrCodeNo},
			want: ReasonProtocolRejected,
		},
		{
			name: "goaway deep in the chain",
			err: fmt.Errorf("request: %w", &url.Error{
				Op:  "Get",
				URL: "https://registry.example",
				Err: http2.GoAwayError{ErrCode: http2.ErrCodeProtocol},
			}),
			want: ReasonProtocolRejected,
		},
		{
			name: "dial failure",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			want: ReasonConnectFailed,
		},
		{
			name: "connection setup failure from the dialer",
			err: &url.Error{Op: "Get", URL: "https://registry.example", Err: &connectError{
				err: fmt.Errorf("failed to dial any resolved IP for registry.example: %w",
					&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}),
			}},
			want: ReasonConnectFailed,
		},
		{
			name: "tls handshake failure",
			err:  &url.Error{Op: "Get", URL: "https://registry.example", Err: &connectError{err: errors.New("tls: no application protocol")}},
			want: ReasonConnectFailed,
		},
		{
			name: "dns failure",
			err:  &url.Error{Op: "Get", URL: "x", Err: &net.DNSError{Err: "no such host", Name: "registry.example"}},
			want: ReasonConnectFailed,
		},
		{
			name: "read failure",
			err:  &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")},
			want: ReasonOther,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ReasonOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	failing := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})}

	c := NewClient(WithHTTPClients(failing, failing))

	for i := 0; i < 5; i++ {
		if _, err := c.Get(context.Background(), "https://dead.registry.example/se/rd/serde", Token{}); err == nil {
			t.Fatal("expected error from failing transport")
		}
	}

	_, err := c.Get(context.Background(), "https://dead.registry.example/se/rd/serde", Token{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", err)
	}

	states := c.BreakerState()
	if states["dead.registry.example"] != "open" {
		t.Errorf("breaker state = %q, want open", states["dead.registry.example"])
	}
}

func TestGetFallbackRealTransportsHTTP1Server(t *testing.T) {
	var requests atomic.Int32
	var proto string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		proto = r.Proto
		_, _ = w.Write([]byte(`{"name":"serde","vers":"1.0.228","cksum":"abc123","yanked":false}`))
	}))
	defer server.Close()

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())

	// Real transports, not stubs: the HTTP/2 attempt must fail against this
	// HTTP/1.1-only server during connection setup, and the single downgrade
	// retry must carry the request.
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	c := NewClient(WithLogger(logger))
	c.h2.Transport.(*http2.Transport).TLSClientConfig = &tls.Config{RootCAs: pool}
	c.h1.Transport.(*http.Transport).TLSClientConfig = &tls.Config{RootCAs: pool}

	resp, err := c.Get(context.Background(), server.URL+"/se/rd/serde", Token{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1", got)
	}
	if proto != "HTTP/1.1" {
		t.Errorf("request proto = %q, want HTTP/1.1", proto)
	}
	if n := strings.Count(logs.String(), "trying HTTP/1.1"); n != 1 {
		t.Errorf("downgrade logged %d times, want exactly once:\n%s", n, logs.String())
	}
}

func TestGetConnectionRefusedClassifiedThroughRealDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens on addr anymore

	c := NewClient()
	_, err = c.Get(context.Background(), "https://"+addr+"/se/rd/serde", Token{})
	if err == nil {
		t.Fatal("expected error")
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if terr.Reason != ReasonConnectFailed {
		t.Errorf("Reason = %v, want ReasonConnectFailed", terr.Reason)
	}
}

func TestNewClientSharesDNSRefresher(t *testing.T) {
	NewClient() // first client starts the shared refresher

	before := runtime.NumGoroutine()
	for i := 0; i < 8; i++ {
		NewClient()
	}
	if grew := runtime.NumGoroutine() - before; grew >= 8 {
		t.Errorf("creating 8 clients grew the goroutine count by %d", grew)
	}
}
