package dash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// StatusError is returned for an unexpected HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

type byteRange struct {
	start, end int64
}

func (r *byteRange) header() string {
	return "bytes=" + strconv.FormatInt(r.start, 10) + "-" + strconv.FormatInt(r.end, 10)
}

func (r *byteRange) size() int64 {
	return r.end - r.start + 1
}

// getWithRetries performs a GET, optionally ranged, with a per-attempt
// timeout and linear backoff between attempts. The returned duration covers
// only the attempt that succeeded.
func (c *Client) getWithRetries(ctx context.Context, kind, target string, br *byteRange) ([]byte, time.Duration, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, 0, fmt.Errorf("invalid URL: %w", err)
	}
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		begin := time.Now()
		data, err := c.get(ctx, target, br)
		elapsed := time.Since(begin)
		if c.observer != nil {
			c.observer.ObserveRequest(kind, attempt, err)
		}
		if err == nil {
			return data, elapsed, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, 0, err
		}

		c.logger.Warnf("%s attempt %d/%d for %s failed: %v", kind, attempt, c.opts.MaxAttempts, target, err)
		if attempt < c.opts.MaxAttempts {
			if err := sleepContext(ctx, c.opts.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, 0, err
			}
		}
	}

	return nil, 0, fmt.Errorf("giving up after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, target string, br *byteRange) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if br != nil {
		req.Header.Set("Range", br.header())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case br == nil && resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case br != nil && resp.StatusCode == http.StatusPartialContent:
		data, err := io.ReadAll(io.LimitReader(resp.Body, br.size()+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != br.size() {
			return nil, fmt.Errorf("range %s returned %d bytes, expected %d", br.header(), len(data), br.size())
		}
		return data, nil
	case br != nil && resp.StatusCode == http.StatusOK:
		// The server ignored Range and sent the whole resource.
		if _, err := io.CopyN(io.Discard, resp.Body, br.start); err != nil {
			return nil, fmt.Errorf("resource shorter than range start %d: %w", br.start, err)
		}
		data := make([]byte, br.size())
		if _, err := io.ReadFull(resp.Body, data); err != nil {
			return nil, fmt.Errorf("resource shorter than range end %d: %w", br.end, err)
		}
		return data, nil
	default:
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
