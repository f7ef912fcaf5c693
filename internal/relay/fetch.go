package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// FetchOptions configures the upstream clients.
type FetchOptions struct {
	// DialTimeout bounds establishing the TCP connection.
	// Default: 15s
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake for https targets.
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds waiting for the status line after the
	// request is written. The body itself is not time-limited.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 8
	MaxIdleConnsPerHost int

	// UserAgent is sent with every upstream request.
	UserAgent string

	// TracerProvider and MeterProvider instrument the upstream transports.
	// Nil falls back to the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// DefaultFetchOptions returns options with sensible defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		DialTimeout:           15 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   8,
		UserAgent:             "video-relay/1.0",
	}
}

// Response is a successful (200) upstream response whose body has not been read.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
	ContentType   string
}

// Fetcher issues upstream GET requests, dispatching on the URL scheme to a
// dedicated client per protocol.
type Fetcher struct {
	clients   map[string]*http.Client
	userAgent string
}

// NewFetcher builds one client for http and one for https targets.
func NewFetcher(opts FetchOptions) *Fetcher {
	defaults := DefaultFetchOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}

	if opts.TLSHandshakeTimeout <= 0 {
		opts.TLSHandshakeTimeout = defaults.TLSHandshakeTimeout
	}

	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaults.ResponseHeaderTimeout
	}

	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}

	plain := newTransport(opts)

	secure := newTransport(opts)
	secure.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	secure.TLSHandshakeTimeout = opts.TLSHandshakeTimeout

	return &Fetcher{
		clients: map[string]*http.Client{
			"http":  {Transport: instrument(plain, opts)},
			"https": {Transport: instrument(secure, opts)},
		},
		userAgent: opts.UserAgent,
	}
}

func newTransport(opts FetchOptions) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		// Stored bytes must match the remote resource exactly.
		DisableCompression: true,
	}
}

func instrument(rt http.RoundTripper, opts FetchOptions) http.RoundTripper {
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}

	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return otelhttp.NewTransport(rt, otelOpts...)
}

// Fetch requests target and returns its body only if the remote answered
// exactly 200. Any other status is an UpstreamError; failures to connect or
// receive headers are TransportErrors. The caller must close Response.Body.
func (f *Fetcher) Fetch(ctx context.Context, target *url.URL) (*Response, error) {
	client, ok := f.clients[target.Scheme]
	if !ok {
		return nil, &InvalidRequestError{Reason: fmt.Sprintf("unsupported scheme %q", target.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &InvalidRequestError{Reason: "invalid video URL", Err: err}
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: "connect", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		resp.Body.Close()

		return nil, &UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}
