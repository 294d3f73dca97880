package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tripcards.app/internal/cache"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/metrics"
)

const maxBodySize = 25 * 1024 * 1024

// NewHTTPClient returns the client shared by every adapter. The transport is
// cloned from http.DefaultTransport so proxy and HTTP/2 settings survive.
func NewHTTPClient(timeout time.Duration) *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Unwrap() error { return ErrUpstreamUnavailable }

func (e *StatusError) transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type request struct {
	method string
	url    string
	header http.Header
	form   url.Values
}

// upstream is the transport half every adapter embeds.
type upstream struct {
	name    string
	client  *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	// retries is how many extra attempts a transient failure gets.
	retries uint64
	backoff func() backoff.BackOff
}

func newUpstream(name string, client *http.Client, m *metrics.Metrics, logger *slog.Logger) upstream {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return upstream{
		name:    name,
		client:  client,
		metrics: m,
		logger:  logging.Component(logger, "feed_"+name),
		backoff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (u *upstream) Name() string { return u.name }

// do sends req and returns the body of a 2xx answer. Transport errors and
// 5xx answers are retried u.retries times; the error always wraps
// ErrUpstreamUnavailable.
func (u *upstream) do(ctx context.Context, req request) ([]byte, error) {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if u.retries > 0 {
		b = backoff.WithMaxRetries(u.backoff(), u.retries)
	}

	attempt := func() ([]byte, error) {
		body, err := u.send(ctx, req)
		if err == nil {
			return body, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.transient() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		u.logger.Warn("retrying upstream request",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait))
	}

	return backoff.RetryNotifyWithData(attempt, backoff.WithContext(b, ctx), notify)
}

func (u *upstream) send(ctx context.Context, req request) ([]byte, error) {
	method := req.method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.form != nil {
		body = strings.NewReader(req.form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstreamUnavailable, err)
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, u.name, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, u.logger, "http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: redact(req.url), Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstreamUnavailable, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrDecode, maxBodySize)
	}
	return data, nil
}

// observe records one Fetch in the feed metrics.
func (u *upstream) observe(start time.Time, err error) {
	if u.metrics == nil {
		return
	}
	u.metrics.FeedFetchesTotal.WithLabelValues(u.name, Outcome(err)).Inc()
	u.metrics.FeedFetchDuration.WithLabelValues(u.name).Observe(time.Since(start).Seconds())
}

// Outcome names the error class of a fetch for metrics and debug output.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuth), errors.Is(err, cache.ErrTokenRejected):
		return "auth"
	case errors.Is(err, ErrDecode):
		return "decode"
	default:
		return "upstream_unavailable"
	}
}

// redact drops query parameters, which carry api keys for some upstreams.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
