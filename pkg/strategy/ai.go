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

package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/metricsvc"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// LLMAnswer is the structured response an LLM client must parse an
// external model's JSON reply into.
type LLMAnswer struct {
	CPURequestCores float64
	CPULimitCores   *float64 // nil means "no limit suggested"
	MemRequestBytes float64
	MemLimitBytes   float64
	Confidence0To100 float64
	Reasoning        string
}

// LLMClient hides the prompt text and vendor HTTP shape behind an
// interface, both out of this module's scope. Tests stub it.
type LLMClient interface {
	Recommend(ctx context.Context, stats Summary) (LLMAnswer, error)
}

// Summary is the set of per-container statistics the AI-Assisted strategy
// extracts from the bundle before composing a prompt: percentiles, max,
// mean, stddev, a linear trend slope, and a spike count, each computed
// over every pod's samples pooled together; no per-pod breakdown is kept.
// Computing these from raw samples (rather than asking Prometheus for
// them) keeps the prompt-construction and HTTP-shape concerns — which are
// out of scope — decoupled from the in-scope statistics extraction.
type Summary struct {
	CPU    SeriesStats
	Memory SeriesStats
}

type SeriesStats struct {
	P50, P95, P99 float64
	Max           float64
	Mean          float64
	StdDev        float64
	TrendSlope    float64
	SpikeCount    int
}

// clampRange bounds an AI answer into a sane envelope: [0.01, 16] cores,
// [100 MiB, 64 GiB] memory.
const (
	minCPUCores   = 0.01
	maxCPUCores   = 16
	minMemBytes   = 100 * 1024 * 1024
	maxMemBytes   = 64 * 1024 * 1024 * 1024
	deviationFlag = 0.5 // >50% deviation from Simple triggers a warning, not a rejection
)

// AIAssisted asks an LLMClient for a recommendation and falls back to
// Simple when the call fails or the bundle lacks enough data. The
// returned value is always used: clamping or a large deviation from
// Simple attaches a warning but never substitutes a different number;
// trusting or rejecting the AI value is the operator's call, made
// downstream of this module.
type AIAssisted struct {
	client LLMClient
	// fallback powers the "deviates from Simple by >50%" check and is the
	// answer returned when the AI call fails or no resource has enough
	// data. AI answers are clamped only to the fixed envelope above, not
	// to Context's CPU-min/mem-min.
	fallback *Simple
}

func NewAIAssisted(client LLMClient, fallback SimpleParams) *AIAssisted {
	return &AIAssisted{client: client, fallback: NewSimple(fallback)}
}

func (a *AIAssisted) RequiredMetrics() []MetricRequest {
	// The AI strategy needs everything Simple needs (for the fallback
	// comparison, CPU points, sufficiency gating, and the summary stats),
	// plus the raw time series Simple never fetches, to compute trend
	// slope and spike count.
	reqs := a.fallback.RequiredMetrics()
	reqs = append(reqs, plainRequest(promquery.CPUUsage), plainRequest(promquery.Memory))
	return reqs
}

func (a *AIAssisted) Recommend(bundle Bundle, ctx Context) Recommendation {
	cpuOK, memOK := hasSufficientData(bundle, ctx)
	fallback := a.fallback.Recommend(bundle, ctx)
	if !cpuOK && !memOK {
		return fallback
	}

	stats := summarize(bundle)
	answer, err := a.client.Recommend(context.Background(), stats)
	if err != nil {
		fallback.note("cpu", fmt.Sprintf("AI strategy failed (%v); using Simple fallback", err))
		fallback.note("memory", fmt.Sprintf("AI strategy failed (%v); using Simple fallback", err))
		return fallback
	}

	rec := Recommendation{Info: map[string]string{}}
	if cpuOK && !(ctx.HPA.Targets(workload.HPATargetsCPU) && !ctx.AllowHPA) {
		cpuCores, clamped := clamp(answer.CPURequestCores, minCPUCores, maxCPUCores)
		rec.CPURequestMillicores = workload.DefinedQuantity(millicores(cpuCores))
		if clamped {
			rec.note("cpu", "AI value clamped to supported range")
		}
		if deviates(fallback.CPURequestMillicores, rec.CPURequestMillicores) {
			rec.note("cpu", "AI value deviates >50% from Simple strategy")
		}
		if answer.CPULimitCores != nil {
			limitCores, limitClamped := clamp(*answer.CPULimitCores, minCPUCores, maxCPUCores)
			rec.CPULimitMillicores = workload.DefinedQuantity(millicores(limitCores))
			if limitClamped {
				rec.note("cpu", "AI limit clamped to supported range")
			}
		}
	} else if !cpuOK {
		rec.note("cpu", "not enough data")
	} else {
		rec.note("cpu", "workload is targeted by an HPA on cpu; recommendation withheld")
	}

	if memOK && !(ctx.HPA.Targets(workload.HPATargetsMemory) && !ctx.AllowHPA) {
		reqBytes, reqClamped := clamp(answer.MemRequestBytes, minMemBytes, maxMemBytes)
		limBytes, limClamped := clamp(answer.MemLimitBytes, minMemBytes, maxMemBytes)
		rec.MemRequestBytes = workload.DefinedQuantity(bytesRound(reqBytes))
		rec.MemLimitBytes = workload.DefinedQuantity(bytesRound(limBytes))
		if reqClamped || limClamped {
			rec.note("memory", "AI value clamped to supported range")
		}
		if deviates(fallback.MemRequestBytes, rec.MemRequestBytes) {
			rec.note("memory", "AI value deviates >50% from Simple strategy")
		}
	} else if !memOK {
		rec.note("memory", "not enough data")
	} else {
		rec.note("memory", "workload is targeted by an HPA on memory; recommendation withheld")
	}

	if answer.Reasoning != "" {
		rec.note("cpu", "AI reasoning: "+answer.Reasoning)
	}
	_ = answer.Confidence0To100
	return rec
}

func clamp(v, lo, hi float64) (float64, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

func deviates(base, candidate workload.Quantity) bool {
	if !base.Defined || !candidate.Defined || base.Value == 0 {
		return false
	}
	delta := math.Abs(float64(candidate.Value-base.Value)) / float64(base.Value)
	return delta > deviationFlag
}

// summarize computes percentiles, max, mean, stddev, a linear trend slope
// and a spike count from the raw CPU/Memory series, pooled across pods — the
// inputs the (out-of-scope) prompt composer turns into text.
func summarize(bundle Bundle) Summary {
	return Summary{
		CPU:    seriesStatsFrom(bundle[plainRequest(promquery.CPUUsage)]),
		Memory: seriesStatsFrom(bundle[plainRequest(promquery.Memory)]),
	}
}

// seriesStatsFrom pools every pod's samples and computes the statistics
// an LLM prompt would summarize: percentiles, max, mean, population
// stddev, a least-squares trend slope (value per second), and a count of
// "spikes" (samples more than 2 stddev above the mean).
func seriesStatsFrom(series []metricsvc.Series) SeriesStats {
	var values []float64
	var times []float64
	for _, s := range series {
		for _, p := range s.Samples {
			values = append(values, p.Value)
			times = append(times, float64(p.TimestampSeconds))
		}
	}
	if len(values) == 0 {
		return SeriesStats{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	max := sorted[0]
	for _, v := range values {
		sum += v
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)

	spikes := 0
	threshold := mean + 2*stddev
	for _, v := range values {
		if v > threshold {
			spikes++
		}
	}

	return SeriesStats{
		P50:        percentile(sorted, 50),
		P95:        percentile(sorted, 95),
		P99:        percentile(sorted, 99),
		Max:        max,
		Mean:       mean,
		StdDev:     stddev,
		TrendSlope: leastSquaresSlope(times, values),
		SpikeCount: spikes,
	}
}

// percentile does linear-interpolation nearest-rank on an already-sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// leastSquaresSlope fits a line to (x, y) pairs and returns its slope.
func leastSquaresSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
