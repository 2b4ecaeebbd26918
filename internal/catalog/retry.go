package catalog

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/core/observability"
)

// maxBodyBytes bounds how much of a response is read into memory.
const maxBodyBytes = 32 << 20

// maxErrBodyBytes bounds how much of an error response is kept for context.
const maxErrBodyBytes = 8 << 10

// RetryPolicy is process-wide, read-only retry configuration.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, >= 1.
	MaxAttempts int
	// Base is the first backoff interval before jitter.
	Base time.Duration
	// Multiplier grows the backoff per attempt.
	Multiplier float64
	// MaxWait caps a single computed backoff.
	MaxWait time.Duration
	// RetryAfterCap bounds a server-suggested Retry-After wait.
	RetryAfterCap time.Duration
}

// DefaultRetryPolicy keeps cumulative backoff under ~3s: two jittered waits
// drawn from (0, 0.3s] and (0, 0.6s].
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Base:          300 * time.Millisecond,
		Multiplier:    2,
		MaxWait:       1600 * time.Millisecond,
		RetryAfterCap: 5 * time.Second,
	}
}

// Request is one logical HTTP call. Headers are merged over the executor's
// process-level defaults, per-key replace.
type Request struct {
	Method string
	URL    string
	Body   []byte
	// Headers override defaults for matching keys.
	Headers map[string]string
	// Timeout is the effective deadline applied to every attempt. Zero
	// disables the deadline; that is for diagnostic invocations only and
	// never a silent default.
	Timeout time.Duration
}

// Response is the successful outcome of a logical call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Executor runs logical HTTP calls with classification and bounded
// retry/backoff. Safe for concurrent use.
type Executor struct {
	logger         *zerolog.Logger
	client         *http.Client
	policy         RetryPolicy
	defaultHeaders map[string]string

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

func NewExecutor(logger *zerolog.Logger, client *http.Client, policy RetryPolicy, defaultHeaders map[string]string) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2
	}
	return &Executor{
		logger:         logger,
		client:         client,
		policy:         policy,
		defaultHeaders: defaultHeaders,
		sleep:          sleepCtx,
		randf:          rand.Float64,
	}
}

// Do executes one logical call. Statuses >= 400 surface as a classified
// *Error with Status set; retriable kinds are retried up to the policy's
// attempt ceiling with full-jitter exponential backoff.
func (e *Executor) Do(ctx context.Context, op string, req Request) (*Response, error) {
	start := time.Now()
	attempts := 0

	var lastErr *Error
	for attempts < e.policy.MaxAttempts {
		attempts++

		resp, attemptErr := e.attempt(ctx, op, req)
		if attemptErr == nil {
			observability.ObserveCatalogRequest(op, "ok", time.Since(start).Seconds())
			return resp, nil
		}
		lastErr = attemptErr

		if !attemptErr.Kind.Retriable() || attempts >= e.policy.MaxAttempts {
			break
		}
		observability.ObserveRetry(attemptErr.Kind.String())

		wait := e.backoff(attempts)
		if attemptErr.Kind == KindThrottled && attemptErr.RetryAfter > 0 {
			wait = attemptErr.RetryAfter
		}
		if err := e.sleep(ctx, wait); err != nil {
			// Caller gave up while we were waiting.
			lastErr = &Error{Op: op, Kind: KindTimeout, Err: err, Hint: hintFor(KindTimeout)}
			break
		}
	}

	lastErr.Attempts = attempts
	lastErr.Elapsed = time.Since(start)
	observability.ObserveCatalogRequest(op, lastErr.Kind.String(), lastErr.Elapsed.Seconds())
	// One terminal log line per logical call, not per attempt.
	if e.logger != nil {
		e.logger.Error().
			Str("operation", op).
			Str("kind", lastErr.Kind.String()).
			Int("attempts", attempts).
			Int("status", lastErr.Status).
			Dur("elapsed", lastErr.Elapsed).
			Msg("catalog request failed")
	}
	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, op string, req Request) (*Response, *Error) {
	actx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindValidationError, Err: err}
	}
	for k, v := range e.defaultHeaders {
		hreq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}
	if len(req.Body) > 0 && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(hreq)
	if err != nil {
		kind := Classify(err)
		return nil, &Error{Op: op, Kind: kind, Err: err, Hint: hintFor(kind)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
		kind := ClassifyStatus(resp.StatusCode)
		ce := &Error{
			Op:     op,
			Kind:   kind,
			Status: resp.StatusCode,
			Err:    &statusError{status: resp.StatusCode, body: string(b)},
			Hint:   hintFor(kind),
		}
		if kind == KindThrottled {
			ce.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), e.policy.RetryAfterCap)
		}
		return nil, ce
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		kind := Classify(err)
		return nil, &Error{Op: op, Kind: kind, Err: err, Hint: hintFor(kind)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// backoff computes the full-jitter wait before the given next attempt
// number: uniform in (0, base*multiplier^(attempt-1)], capped.
func (e *Executor) backoff(attempt int) time.Duration {
	d := float64(e.policy.Base)
	for i := 1; i < attempt; i++ {
		d *= e.policy.Multiplier
	}
	if limit := float64(e.policy.MaxWait); limit > 0 && d > limit {
		d = limit
	}
	return time.Duration(e.randf() * d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type statusError struct {
	status int
	body   string
}

func (s *statusError) Error() string {
	if s.body == "" {
		return http.StatusText(s.status)
	}
	return s.body
}
