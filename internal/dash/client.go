package dash

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dashabr/internal/logger"
)

// Options tunes the HTTP transport.
type Options struct {
	// BaseURL is the media server root, e.g. http://localhost:9999.
	BaseURL   string
	UserAgent string
	// RequestTimeout bounds each individual attempt, including the body read.
	RequestTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout time.Duration
	// MaxAttempts is the total number of tries per request.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between tries.
	RetryDelay time.Duration
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:               "http://localhost:9999",
		RequestTimeout:        5 * time.Second,
		ResponseHeaderTimeout: 3 * time.Second,
		MaxAttempts:           3,
		RetryDelay:            100 * time.Millisecond,
	}
}

// Client is responsible for all communication with the media server.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	opts       Options
	observer   Observer
}

// Observer is notified of transport activity. The metrics package implements it.
type Observer interface {
	ObserveRequest(kind string, attempt int, err error)
}

// NewClient creates a new client. Zero-valued options fall back to DefaultOptions.
func NewClient(log logger.Logger, opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   4,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     log,
		opts:       opts,
	}
}

// SetObserver installs an observer for request outcomes.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// ManifestURL returns <base>/<stream>/manifest.txt.
func (c *Client) ManifestURL(streamName string) string {
	return c.opts.BaseURL + "/" + url.PathEscape(streamName) + "/manifest.txt"
}

// TrackURL returns <base>/<stream>/<filename>.
func (c *Client) TrackURL(streamName, filename string) string {
	return c.opts.BaseURL + "/" + url.PathEscape(streamName) + "/" + url.PathEscape(filename)
}

// FetchManifest downloads the raw manifest text for a stream.
func (c *Client) FetchManifest(ctx context.Context, streamName string) ([]byte, error) {
	manifestURL := c.ManifestURL(streamName)
	c.logger.Debugf("Fetching manifest from URL: %s", manifestURL)

	data, _, err := c.getWithRetries(ctx, "manifest", manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for stream %s: %w", streamName, err)
	}
	return data, nil
}

// FetchRange downloads the closed byte range [start, end] of resourceURL.
func (c *Client) FetchRange(ctx context.Context, resourceURL string, start, end int64) ([]byte, error) {
	data, _, err := c.FetchRangeTimed(ctx, resourceURL, start, end)
	return data, err
}

// FetchRangeTimed is FetchRange that also reports how long the successful
// attempt took. Failed attempts and retry backoff are excluded.
func (c *Client) FetchRangeTimed(ctx context.Context, resourceURL string, start, end int64) ([]byte, time.Duration, error) {
	if start < 0 || end < start {
		return nil, 0, fmt.Errorf("invalid byte range %d-%d", start, end)
	}
	br := &byteRange{start: start, end: end}
	data, elapsed, err := c.getWithRetries(ctx, "range", resourceURL, br)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch bytes %d-%d of %s: %w", start, end, resourceURL, err)
	}
	return data, elapsed, nil
}
