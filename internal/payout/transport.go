package payout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"finsys/internal/observability"

	"github.com/jpillora/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes bounds how much of a response body is kept.
const maxBodyBytes = 1 << 20

// RetryPredicate decides whether a transport error may be retried.
type RetryPredicate func(error) bool

// AnyError retries every transport error. Only safe for calls with no side effects.
func AnyError(error) bool { return true }

// NeverSent retries only errors raised before the request reached the server:
// DNS resolution and connection establishment failures. A timeout or reset
// after the request was written is ambiguous and is not retried.
func NeverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// CallPolicy bounds one protocol call.
type CallPolicy struct {
	Timeout  time.Duration
	Attempts int
	RetryOn  RetryPredicate
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs protocol calls with per-call timeouts and bounded retries.
type Transport struct {
	client     *http.Client
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewTransport wraps client, or an otelhttp-instrumented default client when nil.
func NewTransport(client *http.Client) *Transport {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Transport{
		client:     client,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
}

// SetBackoff changes the wait between retries.
func (t *Transport) SetBackoff(min, max time.Duration) {
	t.minBackoff, t.maxBackoff = min, max
}

type request struct {
	method string
	url    string
	body   []byte
	header http.Header
}

// do sends req under policy. Each attempt runs detached from ctx's
// cancellation so an in-flight call always completes; ctx is only consulted
// between attempts. The returned error is the last transport error, or
// ctx.Err() when cancellation stopped the retries.
func (t *Transport) do(ctx context.Context, step string, policy CallPolicy, req request) (*Response, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryOn := policy.RetryOn
	if retryOn == nil {
		retryOn = func(error) bool { return false }
	}
	b := &backoff.Backoff{
		Min:    t.minBackoff,
		Max:    t.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := t.once(ctx, step, policy.Timeout, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt >= attempts || !retryOn(err) {
			return nil, lastErr
		}

		observability.PayoutStepRetries.WithLabelValues(step).Inc()
		wait := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}

func (t *Transport) once(ctx context.Context, step string, timeout time.Duration, req request) (*Response, error) {
	defer observability.TrackStep(step)()

	callCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", step, err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	// The status line is authoritative; a body cut short only loses the
	// error reason, so a read failure is not reported as a transport error.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
