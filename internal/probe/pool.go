// Package probe issues lightweight existence/size checks against dataset
// assets with a bounded worker pool.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/catalog"
	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
	"github.com/wayfinder-foundry/stac-scope/internal/core/observability"
)

// Doer abstracts the HTTP client so probes can be tested without sockets.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Target is one asset to probe.
type Target struct {
	// Key identifies the asset in results, "itemID/assetName".
	Key  string
	Href string
}

// Pool probes asset sizes with bounded concurrency. The pool itself holds
// only read-only configuration; each ProbeAll call gets a fresh queue, so a
// Pool is safe for concurrent use.
type Pool struct {
	logger  *zerolog.Logger
	client  Doer
	headers map[string]string
	timeout time.Duration
	workers int
}

// New validates configuration and builds a pool. Worker count and per-probe
// timeout must both be positive.
func New(logger *zerolog.Logger, client Doer, headers map[string]string, perProbeTimeout time.Duration, workers int) (*Pool, error) {
	if workers <= 0 {
		return nil, catalog.NewValidationError("probe_pool", fmt.Sprintf("worker count must be positive, got %d", workers))
	}
	if perProbeTimeout <= 0 {
		return nil, catalog.NewValidationError("probe_pool", fmt.Sprintf("per-probe timeout must be positive, got %s", perProbeTimeout))
	}
	return &Pool{
		logger:  logger,
		client:  client,
		headers: headers,
		timeout: perProbeTimeout,
		workers: workers,
	}, nil
}

// ProbeAll probes every target and returns one result per input, in input
// order regardless of completion order. Individual failures and timeouts are
// recorded, never propagated. Worst-case wall time is bounded by
// ceil(len(targets)/workers) * perProbeTimeout plus scheduling overhead.
//
// Once the caller's ctx deadline passes, targets not yet started are
// recorded as skipped; in-flight probes run to their own timeout.
func (p *Pool) ProbeAll(ctx context.Context, targets []Target) []model.ProbeResult {
	results := make([]model.ProbeResult, len(targets))
	if len(targets) == 0 {
		return results
	}

	workers := p.workers
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					results[idx] = model.ProbeResult{
						Key:     targets[idx].Key,
						Href:    targets[idx].Href,
						Outcome: model.ProbeSkipped,
						Err:     ctx.Err(),
					}
					observability.ObserveProbe(model.ProbeSkipped.String(), 0)
					continue
				}
				results[idx] = p.probeOne(ctx, targets[idx])
			}
		}()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (p *Pool) probeOne(ctx context.Context, t Target) model.ProbeResult {
	// The per-probe deadline is independent of the caller's; an expired
	// caller deadline only stops probes that have not started.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	start := time.Now()
	res := model.ProbeResult{Key: t.Key, Href: t.Href}

	size, err := p.headContentLength(pctx, t.Href)
	res.Elapsed = time.Since(start)
	switch {
	case err == nil:
		res.Outcome = model.ProbeOK
		res.Bytes = size
	case errors.Is(err, context.DeadlineExceeded) || catalog.Classify(err) == catalog.KindTimeout:
		res.Outcome = model.ProbeTimedOut
		res.Err = err
	default:
		res.Outcome = model.ProbeFailed
		res.Err = err
	}
	observability.ObserveProbe(res.Outcome.String(), res.Elapsed.Seconds())
	if res.Outcome != model.ProbeOK && p.logger != nil {
		p.logger.Debug().
			Str("asset", t.Key).
			Str("outcome", res.Outcome.String()).
			Dur("elapsed", res.Elapsed).
			Msg("asset probe did not resolve")
	}
	return res
}

// headContentLength issues the HEAD-equivalent size query for one asset.
func (p *Pool) headContentLength(ctx context.Context, href string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, href, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, errors.New("no content-length in probe response")
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad content-length %q", cl)
	}
	return n, nil
}
