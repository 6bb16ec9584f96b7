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

// Package strategy turns a container's metric bundle and context into a
// resource recommendation. Every Strategy is pure: identical inputs
// always produce identical outputs.
package strategy

import (
	"time"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/metricsvc"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// MetricRequest names one entry a Strategy needs fetched into its Bundle.
// Percentile is only meaningful (and only read by the query builder) when
// Kind == promquery.PercentileCPU; strategies that need more than one CPU
// percentile (SimpleLimit's request vs. limit percentiles) issue two
// MetricRequests that differ only in Percentile.
type MetricRequest struct {
	Kind       promquery.Kind
	Percentile float64
}

// Bundle maps each requested metric to the series retrieved for one
// container slot over the configured history window.
type Bundle map[MetricRequest][]metricsvc.Series

// Context is everything besides the bundle a Strategy needs to decide a
// recommendation.
type Context struct {
	Current          workload.ResourceAllocations
	HPA              *workload.HPADescriptor
	Warnings         []string
	CPUMinMillicores int64
	MemMinBytes      int64
	History          time.Duration
	UseOOMKillData   bool
	AllowHPA         bool
	// PointsRequired is the minimum sample count (default 100) below which
	// a resource comes back undefined; CPU and memory are gated
	// independently.
	PointsRequired int
}

// Recommendation is one Strategy's output for one container: concrete
// ResourceAllocations fields (workload.Quantity.Defined == false means
// "undefined"), plus free-form info keyed by resource.
type Recommendation struct {
	CPURequestMillicores workload.Quantity
	CPULimitMillicores   workload.Quantity
	MemRequestBytes      workload.Quantity
	MemLimitBytes        workload.Quantity
	Info                 map[string]string
}

func (r *Recommendation) note(resource, msg string) {
	if r.Info == nil {
		r.Info = map[string]string{}
	}
	if existing, ok := r.Info[resource]; ok {
		r.Info[resource] = existing + "; " + msg
	} else {
		r.Info[resource] = msg
	}
}

// Strategy is the pluggable recommendation policy interface. Simple,
// SimpleLimit, and AIAssisted are the three built-in implementations.
type Strategy interface {
	// RequiredMetrics tells the caller (the Scan Runner) which metrics to
	// fetch — including, for percentile requests, at which percentile —
	// before calling Recommend.
	RequiredMetrics() []MetricRequest
	// Recommend is pure: identical bundle+ctx always yields an identical
	// Recommendation.
	Recommend(bundle Bundle, ctx Context) Recommendation
}

func plainRequest(k promquery.Kind) MetricRequest { return MetricRequest{Kind: k} }

func percentileRequest(p float64) MetricRequest {
	return MetricRequest{Kind: promquery.PercentileCPU, Percentile: p}
}

// totalPoints sums a points-count kind's per-pod scalars.
func totalPoints(bundle Bundle, kind promquery.Kind) int {
	var total int
	for _, s := range bundle[plainRequest(kind)] {
		if v, ok := s.Scalar(); ok {
			total += int(v)
		}
	}
	return total
}

// maxScalar returns the maximum per-pod scalar value across series for
// req, and whether any series had a value at all.
func maxScalar(bundle Bundle, req MetricRequest) (float64, bool) {
	var max float64
	found := false
	for _, s := range bundle[req] {
		v, ok := s.Scalar()
		if !ok {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// hasSufficientData applies the points_required gate to both CPU and
// memory independently.
func hasSufficientData(bundle Bundle, ctx Context) (cpuOK, memOK bool) {
	required := ctx.PointsRequired
	if required <= 0 {
		required = 100
	}
	return totalPoints(bundle, promquery.CPUPoints) >= required,
		totalPoints(bundle, promquery.MemoryPoints) >= required
}

func millicores(cores float64) int64 {
	return int64(cores*1000 + 0.5)
}

func bytesRound(b float64) int64 {
	return int64(b + 0.5)
}
