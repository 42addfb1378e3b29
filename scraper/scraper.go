// Package scraper executes proxy requests with retry, backoff and quota
// limiting on top of a colly collector.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-crawl-news/config"
	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/proxy"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// RequestBuilder turns fetch options into an outbound proxy URL.
type RequestBuilder interface {
	Build(req models.FetchRequest) (string, error)
}

// Fetcher fetches pages through the rendering proxy. It is safe for
// concurrent use.
type Fetcher struct {
	cfg       *config.Config
	builder   RequestBuilder
	collector *colly.Collector
	limiter   *rate.Limiter
	retry     *retryPolicy
	Metrics   *Metrics

	requestCount int64
	retryCount   int64
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, builder RequestBuilder, metrics *Metrics) (*Fetcher, error) {
	if builder == nil {
		return nil, models.NewConfigError("proxy", "request builder is required")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Parallelism)
	}

	return &Fetcher{
		cfg:       cfg,
		builder:   builder,
		collector: collector,
		limiter:   limiter,
		retry:     newRetryPolicy(cfg),
		Metrics:   metrics,
	}, nil
}

// Fetch executes req, retrying transient failures. Every outcome is
// reported in the returned result; Fetch never panics on network errors.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult {
	result := models.FetchResult{URL: req.TargetURL}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	proxyURL, err := f.builder.Build(req)
	if err != nil {
		result.Failure = &models.FetchError{Kind: models.FailureHTTP, URL: req.TargetURL, Err: fmt.Errorf("build proxy request: %w", err)}
		return result
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if err := f.waitQuota(ctx); err != nil {
			result.Failure = &models.FetchError{Kind: models.FailureCanceled, URL: req.TargetURL, Attempts: attempt, Err: err}
			return result
		}

		status, body, attemptErr := f.attempt(ctx, req.Stage, proxyURL)
		kind, cause := classifyError(ctx, attemptErr, status, len(body))
		if cause == nil {
			result.Status = status
			result.Body = body
			return result
		}

		f.Metrics.IncError(errorTypeLabel(kind, status))
		failure := &models.FetchError{Kind: kind, URL: req.TargetURL, Status: status, Attempts: attempt, Err: cause}
		if !kind.Retryable() || attempt > f.retry.maxRetries {
			result.Status = status
			result.Failure = failure
			return result
		}

		delay := f.retry.backoff(attempt)
		atomic.AddInt64(&f.retryCount, 1)
		f.Metrics.IncRetries()
		slog.Debug("retrying proxy request",
			slog.String("url", req.TargetURL),
			slog.String("stage", req.Stage),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		if err := sleepContext(ctx, delay); err != nil {
			result.Status = status
			result.Failure = &models.FetchError{Kind: models.FailureCanceled, URL: req.TargetURL, Status: status, Attempts: attempt, Err: err}
			return result
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, stage, proxyURL string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	c := f.collector.Clone()
	c.Context = attemptCtx
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	atomic.AddInt64(&f.requestCount, 1)
	f.Metrics.IncRequest(stage)
	start := time.Now()
	err := c.Visit(proxyURL)
	f.Metrics.ObserveDuration(stage, time.Since(start))

	if err != nil && status != 0 {
		// The response arrived; the error came from a callback or body
		// handling and the status decides the outcome.
		slog.Debug("proxy response error",
			slog.String("target", proxy.Target(proxyURL)),
			slog.String("proxy_url", proxy.Redact(proxyURL)),
			slog.Any("error", err),
		)
		return status, body, nil
	}
	return status, body, err
}

func (f *Fetcher) waitQuota(ctx context.Context) error {
	if f.limiter == nil {
		return ctx.Err()
	}
	return f.limiter.Wait(ctx)
}

// RequestCount returns the number of proxy requests issued.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// TotalRetries returns the number of retries scheduled.
func (f *Fetcher) TotalRetries() int {
	return int(atomic.LoadInt64(&f.retryCount))
}

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	jitter     float64
	rand       func(n int64) int64
}

func newRetryPolicy(cfg *config.Config) *retryPolicy {
	return &retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
		jitter:     cfg.RetryJitter,
		rand:       rand.Int64N,
	}
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rp.jitter > 0 {
		if spread := int64(float64(delay) * rp.jitter); spread > 0 {
			delay += time.Duration(rp.rand(spread + 1))
		}
	}
	if max := rp.max; max > 0 && delay > max {
		delay = max
	}
	return delay
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
