// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metricsvc

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"golang.org/x/time/rate"

	"github.com/GoogleCloudPlatform/krr-scan/internal/errtype"
)

// RetryPolicy bounds the exponential-backoff-with-jitter retries issued
// for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy attempts a query up to 3 times before giving up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Service executes queries against one Prometheus-compatible backend. One
// Service corresponds to one Cluster's Prometheus handle; it owns the
// per-backend concurrency cap and rate limiter.
type Service struct {
	api     v1.API
	logger  log.Logger
	sem     chan struct{}
	limiter *rate.Limiter
	retry   RetryPolicy
	timeout time.Duration

	// maxPointsPerRange bounds how many resampled points a single range
	// query is allowed to request before the service proactively splits
	// the window, mirroring backends (GMP in particular) that reject
	// oversized ranges outright.
	maxPointsPerRange int
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithConcurrency bounds concurrent outbound HTTP requests to this backend.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.sem = make(chan struct{}, n) }
}

// WithRateLimit bounds requests/sec to this backend — used to respect
// GMP's practical ~180 req/min ceiling when batching owner lookups.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMaxPointsPerRange overrides the proactive split threshold.
func WithMaxPointsPerRange(n int) Option {
	return func(s *Service) { s.maxPointsPerRange = n }
}

// New constructs a Service around an already-authenticated v1.API handle.
// The core never builds the HTTP client itself; callers wire auth
// (Bearer/mTLS/custom headers) into api's RoundTripper before calling New.
func New(api v1.API, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		api:               api,
		logger:            logger,
		sem:               make(chan struct{}, 10),
		retry:             DefaultRetryPolicy(),
		timeout:           60 * time.Second,
		maxPointsPerRange: 11000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) acquire(ctx context.Context) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.sem }

// InstantQuery executes q at the instant `at` and returns a normalized
// series set.
func (s *Service) InstantQuery(ctx context.Context, q string, at time.Time) ([]Series, error) {
	var result model.Value
	err := s.withRetry(ctx, "instant_query", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, warnings, err := s.api.Query(ctx, q, at)
		logWarnings(s.logger, "instant_query", warnings)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toSeries(result), nil
}

// RangeQuery executes q over [start, end] at step, transparently splitting
// the window in half and merging results when the backend rejects or
// truncates an oversized range. A split fails fast if either half returns
// a non-retryable error.
func (s *Service) RangeQuery(ctx context.Context, q string, start, end time.Time, step time.Duration) ([]Series, error) {
	numPoints := int(end.Sub(start)/step) + 1
	if numPoints > s.maxPointsPerRange && end.After(start) {
		mid := start.Add(end.Sub(start) / 2)
		level.Debug(s.logger).Log("msg", "splitting oversized range query", "points", numPoints, "mid", mid)
		first, err := s.RangeQuery(ctx, q, start, mid, step)
		if err != nil {
			return nil, err
		}
		second, err := s.RangeQuery(ctx, q, mid.Add(step), end, step)
		if err != nil {
			return nil, err
		}
		return mergeSeries(first, second), nil
	}

	var result model.Value
	err := s.withRetry(ctx, "range_query", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		r := v1.Range{Start: start, End: end, Step: step}
		v, warnings, err := s.api.QueryRange(ctx, q, r)
		logWarnings(s.logger, "range_query", warnings)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if isRangeTooLarge(err) {
		mid := start.Add(end.Sub(start) / 2)
		if !mid.After(start) {
			return nil, err
		}
		level.Debug(s.logger).Log("msg", "backend rejected range as too large, splitting", "start", start, "end", end)
		first, ferr := s.RangeQuery(ctx, q, start, mid, step)
		if ferr != nil {
			return nil, ferr
		}
		second, serr := s.RangeQuery(ctx, q, mid.Add(step), end, step)
		if serr != nil {
			return nil, serr
		}
		return mergeSeries(first, second), nil
	}
	if err != nil {
		return nil, err
	}
	return toSeries(result), nil
}

func logWarnings(logger log.Logger, op string, warnings v1.Warnings) {
	for _, w := range warnings {
		level.Warn(logger).Log("msg", "prometheus query warning", "op", op, "warning", w)
	}
}

// withRetry runs fn with exponential backoff + jitter up to s.retry's
// bounded attempt count. Non-retryable errors (4xx other than 408/429)
// and cancellation are surfaced immediately.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	var lastErr error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return &errtype.Cancelled{}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return &errtype.Cancelled{}
		}
		code := statusCode(err)
		if code == 401 || code == 403 {
			return &errtype.Auth{Err: err}
		}
		if !errtype.Retryable(code) {
			return errors.Wrapf(err, "%s: non-retryable", op)
		}
		if attempt == s.retry.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(s.retry, attempt)
		level.Debug(s.logger).Log("msg", "retrying query", "op", op, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &errtype.Cancelled{}
		}
	}
	return &errtype.Backend{Op: op, Err: lastErr}
}

func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}
