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
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// SimpleParams configures the Simple strategy. Zero values are replaced
// with the documented defaults by NewSimple.
type SimpleParams struct {
	// Percentile is the CPU usage percentile used for the request (default 95).
	Percentile float64
	// MemoryBufferPercentage pads the observed max memory (default 15).
	MemoryBufferPercentage float64
	// OOMMemoryBufferPercentage pads the OOM-derived memory ceiling (default 25).
	OOMMemoryBufferPercentage float64
}

func (p SimpleParams) withDefaults() SimpleParams {
	if p.Percentile <= 0 {
		p.Percentile = 95
	}
	if p.MemoryBufferPercentage == 0 {
		p.MemoryBufferPercentage = 15
	}
	if p.OOMMemoryBufferPercentage == 0 {
		p.OOMMemoryBufferPercentage = 25
	}
	return p
}

// Simple sizes a CPU request from a single usage percentile (no CPU
// limit), and memory off observed max (or the OOM ceiling when available).
type Simple struct {
	params SimpleParams
}

func NewSimple(p SimpleParams) *Simple {
	return &Simple{params: p.withDefaults()}
}

func (s *Simple) RequiredMetrics() []MetricRequest {
	return []MetricRequest{
		percentileRequest(s.params.Percentile),
		plainRequest(promquery.CPUPoints),
		plainRequest(promquery.MaxMemory),
		plainRequest(promquery.MemoryPoints),
		plainRequest(promquery.OOMKilledMemory),
	}
}

func (s *Simple) Recommend(bundle Bundle, ctx Context) Recommendation {
	rec := recommendCPU(bundle, ctx, percentileRequest(s.params.Percentile))
	recommendMemory(&rec, bundle, ctx, s.params)
	return rec
}

// recommendCPU handles the points-required gate, the HPA-ineligibility
// gate, and the minimum clamp shared by every CPU resource (request or
// limit) computed from a single percentile.
func recommendCPU(bundle Bundle, ctx Context, req MetricRequest) Recommendation {
	var rec Recommendation
	cpuOK, _ := hasSufficientData(bundle, ctx)
	if !cpuOK {
		rec.note("cpu", "not enough data")
		return rec
	}
	if ctx.HPA.Targets(workload.HPATargetsCPU) && !ctx.AllowHPA {
		rec.note("cpu", "workload is targeted by an HPA on cpu; recommendation withheld")
		return rec
	}
	pct, ok := maxScalar(bundle, req)
	if !ok {
		rec.note("cpu", "not enough data")
		return rec
	}
	cpuMillicores := millicores(pct)
	if cpuMillicores < ctx.CPUMinMillicores {
		cpuMillicores = ctx.CPUMinMillicores
		rec.note("cpu", "clamped to configured minimum")
	}
	rec.CPURequestMillicores = workload.DefinedQuantity(cpuMillicores)
	return rec
}

// recommendMemory fills rec's memory fields in place; shared by Simple and
// SimpleLimit since both size memory identically.
func recommendMemory(rec *Recommendation, bundle Bundle, ctx Context, p SimpleParams) {
	_, memOK := hasSufficientData(bundle, ctx)
	if !memOK {
		rec.note("memory", "not enough data")
		return
	}
	if ctx.HPA.Targets(workload.HPATargetsMemory) && !ctx.AllowHPA {
		rec.note("memory", "workload is targeted by an HPA on memory; recommendation withheld")
		return
	}
	memBytes, ok := memoryRecommendation(bundle, ctx, p)
	if !ok {
		rec.note("memory", "not enough data")
		return
	}
	if memBytes < ctx.MemMinBytes {
		memBytes = ctx.MemMinBytes
		rec.note("memory", "clamped to configured minimum")
	}
	rec.MemRequestBytes = workload.DefinedQuantity(memBytes)
	rec.MemLimitBytes = workload.DefinedQuantity(memBytes)
}

// memoryRecommendation chooses between the plain-max and OOM-override
// formulas: if any pod has OOMKilledMemory > 0, the recommendation is
// max_over_pods(OOMKilledMemory * (1 + oom_buffer/100)), never the
// plain-max formula, regardless of how that compares to the plain value.
func memoryRecommendation(bundle Bundle, ctx Context, p SimpleParams) (int64, bool) {
	if ctx.UseOOMKillData {
		if oomMax, any := maxScalar(bundle, plainRequest(promquery.OOMKilledMemory)); any && oomMax > 0 {
			return bytesRound(oomMax * (1 + p.OOMMemoryBufferPercentage/100)), true
		}
	}
	maxMem, ok := maxScalar(bundle, plainRequest(promquery.MaxMemory))
	if !ok {
		return 0, false
	}
	return bytesRound(maxMem * (1 + p.MemoryBufferPercentage/100)), true
}
