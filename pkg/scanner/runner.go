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

package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/GoogleCloudPlatform/krr-scan/internal/errtype"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/discovery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/metricsvc"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/strategy"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// Report is everything one Run call produced: the result set, the shared
// warnings accumulator's contents, and enough bookkeeping to decide the
// process exit code (non-zero only if every cluster failed or the run was
// cancelled).
type Report struct {
	Results        []ScanResult
	Warnings       []WarningEntry
	ClustersTotal  int
	ClustersFailed int
	Cancelled      bool
}

// ExitNonZero is the user-visible exit code rule: non-zero only when the
// run was cancelled, or when every requested cluster failed outright.
func (r *Report) ExitNonZero() bool {
	if r.Cancelled {
		return true
	}
	return r.ClustersTotal > 0 && r.ClustersFailed == r.ClustersTotal
}

// Runner is the Scan Runner (C5): it dispatches discovery, metric
// acquisition, and the Strategy under bounded concurrency.
type Runner struct {
	cfg        Config
	strat      strategy.Strategy
	logger     log.Logger
	discoverer *discovery.Discoverer

	mu       sync.Mutex
	services map[string]*metricsvc.Service
	builders map[string]*promquery.Builder
}

func New(cfg Config, strat strategy.Strategy, logger log.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		strat:      strat,
		logger:     logger,
		discoverer: discovery.New(logger),
		services:   map[string]*metricsvc.Service{},
		builders:   map[string]*promquery.Builder{},
	}
}

func (r *Runner) serviceFor(c *workload.Cluster) *metricsvc.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.services[c.Name]; ok {
		return s
	}
	s := metricsvc.New(c.Prom, log.With(r.logger, "cluster", c.Name),
		metricsvc.WithConcurrency(maxInt(r.cfg.PrometheusConcurrency, 1)),
		metricsvc.WithRateLimit(maxFloat(r.cfg.PrometheusRateLimitPerSecond, 1), maxInt(r.cfg.PrometheusBurst, 1)),
	)
	r.services[c.Name] = s
	return s
}

func (r *Runner) builderFor(c *workload.Cluster) *promquery.Builder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.builders[c.Name]; ok {
		return b
	}
	dialect := dialectFromOverride(r.cfg.PrometheusDialectOverride, c.Dialect)
	var label *promquery.ClusterLabel
	if r.cfg.ClusterLabelKey != "" {
		label = &promquery.ClusterLabel{Key: r.cfg.ClusterLabelKey, Value: r.cfg.ClusterLabelValue}
	} else if c.ClusterLabel != nil {
		label = &promquery.ClusterLabel{Key: c.ClusterLabel.Key, Value: c.ClusterLabel.Value}
	}
	b := promquery.NewBuilder(dialect, label)
	r.builders[c.Name] = b
	return b
}

func dialectFromOverride(override, clusterDialect string) promquery.Dialect {
	v := override
	if v == "" {
		v = clusterDialect
	}
	switch v {
	case "gcp":
		return promquery.GCPManaged
	case "anthos":
		return promquery.Anthos
	default:
		return promquery.Standard
	}
}

func maxInt(v, floor int) int {
	if v <= 0 {
		return floor
	}
	return v
}

func maxFloat(v, floor float64) float64 {
	if v <= 0 {
		return floor
	}
	return v
}

// Run executes the full pipeline: discovery feeds a bounded worker pool
// that fetches each container slot's metric bundle and invokes the
// Strategy, collecting ScanResults into an append-only sink. Cancelling
// ctx drains in-flight work before Run returns.
func (r *Runner) Run(ctx context.Context, filter *discovery.Filter) (*Report, error) {
	results := &sink{}
	warnings := &Warnings{}

	workloads, clusterErrs := r.discoverer.Discover(ctx, filter)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(r.cfg.MaxWorkers, 1))

	for w := range workloads {
		w := w
		if w.Ineligible {
			for _, ctr := range w.Containers {
				results.Add(ineligibleResult(w, ctr, w.Warnings))
			}
			continue
		}
		if len(w.Pods) == 0 {
			for _, ctr := range w.Containers {
				res := undefinedResult(w, ctr, "workload has no known pods")
				results.Add(res)
			}
			continue
		}
		if len(w.LivePods()) == 0 {
			warnings.Add(WarningEntry{Cluster: w.Cluster.Name, Namespace: w.Namespace, Workload: w.Name, Kind: string(w.Kind),
				Message: "no currently running pods; recommendation based on recently-deleted pod history only"})
		}
		for _, ctr := range w.Containers {
			ctr := ctr
			g.Go(func() error {
				res := r.processSlot(gctx, w, ctr, warnings)
				results.Add(res)
				return nil
			})
		}
	}
	// g.Go's funcs never return an error (processSlot always recovers into
	// a ScanResult), so Wait returns nil; cancellation is read from ctx.
	_ = g.Wait()

	report := &Report{
		Results:  results.Results(),
		Warnings: warnings.Items(),
	}
	report.Cancelled = ctx.Err() != nil

	for range clusterErrs {
		report.ClustersFailed++
	}
	report.ClustersTotal = len(filter.Clusters)

	SortResults(report.Results)
	return report, nil
}

func ineligibleResult(w *workload.Workload, ctr workload.ContainerSpec, msgs []string) ScanResult {
	info := map[string]string{}
	if len(msgs) > 0 {
		info["hpa"] = msgs[0]
	}
	return ScanResult{
		Cluster: w.Cluster.Name, Namespace: w.Namespace, Kind: w.Kind, Workload: w.Name, Container: ctr.Name,
		State: StateIneligible, Info: info,
	}
}

func undefinedResult(w *workload.Workload, ctr workload.ContainerSpec, reason string) ScanResult {
	return ScanResult{
		Cluster: w.Cluster.Name, Namespace: w.Namespace, Kind: w.Kind, Workload: w.Name, Container: ctr.Name,
		State: StateUndefined, Info: map[string]string{"cpu": reason, "memory": reason},
	}
}

// processSlot builds the required metric bundle, fetching each requested
// metric kind concurrently within the slot, and invokes the Strategy. A
// per-slot fatal error never aborts the pipeline: it's folded into the
// ScanResult's info text instead.
func (r *Runner) processSlot(ctx context.Context, w *workload.Workload, ctr workload.ContainerSpec, warnings *Warnings) (res ScanResult) {
	defer func() {
		if rec := recover(); rec != nil {
			level.Error(r.logger).Log("msg", "strategy panicked", "workload", w.Name, "container", ctr.Name, "panic", rec)
			res = undefinedResult(w, ctr, fmt.Sprintf("strategy panicked: %v", rec))
		}
	}()

	builder := r.builderFor(w.Cluster)
	svc := r.serviceFor(w.Cluster)
	win := promquery.Window{History: r.cfg.History(), Step: r.cfg.Step()}
	slot := promquery.Slot{
		Namespace: w.Namespace,
		PodRegexp: promquery.EscapeRegexp(w.AllPodNames()),
		Container: ctr.Name,
	}

	bundle, slotWarnings := r.fetchBundle(ctx, builder, svc, slot, win)
	for _, msg := range slotWarnings {
		warnings.Add(WarningEntry{Cluster: w.Cluster.Name, Namespace: w.Namespace, Workload: w.Name, Container: ctr.Name, Message: msg})
	}

	sctx := strategy.Context{
		Current:          ctr.Current,
		HPA:              w.HPA,
		Warnings:         w.Warnings,
		CPUMinMillicores: r.cfg.CPUMinMillicores,
		MemMinBytes:      r.cfg.MemMinBytes(),
		History:          win.History,
		UseOOMKillData:   r.cfg.UseOOMKillData,
		AllowHPA:         r.cfg.AllowHPA,
		PointsRequired:   r.cfg.PointsRequired,
	}

	rec := r.strat.Recommend(bundle, sctx)
	return ScanResult{
		Cluster: w.Cluster.Name, Namespace: w.Namespace, Kind: w.Kind, Workload: w.Name, Container: ctr.Name,
		Recommendation: rec,
		State:          deriveState(false, rec),
		Info:           rec.Info,
	}
}

// fetchBundle issues every metric the active strategy requires, in
// parallel, and normalizes per-dialect unsupported kinds into an empty
// series set plus a warning rather than a fatal error.
func (r *Runner) fetchBundle(ctx context.Context, b *promquery.Builder, svc *metricsvc.Service, slot promquery.Slot, win promquery.Window) (strategy.Bundle, []string) {
	reqs := r.strat.RequiredMetrics()
	bundle := make(strategy.Bundle, len(reqs))

	var mu sync.Mutex
	var warnings []string
	addWarning := func(msg string) {
		mu.Lock()
		warnings = append(warnings, msg)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			series, warn := r.fetchOne(gctx, b, svc, req, slot, win)
			if warn != "" {
				addWarning(warn)
			}
			mu.Lock()
			bundle[req] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // fetchOne never returns an error; failures degrade to empty+warning
	return bundle, warnings
}

func (r *Runner) fetchOne(ctx context.Context, b *promquery.Builder, svc *metricsvc.Service, req strategy.MetricRequest, slot promquery.Slot, win promquery.Window) ([]metricsvc.Series, string) {
	query, err := b.Build(req.Kind, slot, win, req.Percentile)
	if err != nil {
		return nil, fmt.Sprintf("%v: building query for %s failed: %v", errtype.UnsupportedMetric{Kind: req.Kind.String(), Dialect: b.Dialect().String()}, req.Kind, err)
	}
	if err := promquery.Validate(query); err != nil {
		return nil, fmt.Sprintf("built an invalid query for %s: %v", req.Kind, err)
	}

	var series []metricsvc.Series
	if req.Kind.IsRanged() {
		end := time.Now()
		start := end.Add(-win.History)
		series, err = svc.RangeQuery(ctx, query, start, end, win.Step)
	} else {
		series, err = svc.InstantQuery(ctx, query, time.Now())
	}
	if err != nil {
		return nil, fmt.Sprintf("%s query failed: %v", req.Kind, err)
	}
	return series, ""
}
