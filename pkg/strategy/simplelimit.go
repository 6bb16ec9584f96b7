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

import "github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"

// SimpleLimitParams configures the Simple-Limit strategy. Zero values
// fall back to the documented defaults.
type SimpleLimitParams struct {
	// RequestPercentile sizes the CPU request (default 66).
	RequestPercentile float64
	// LimitPercentile sizes the CPU limit (default 96).
	LimitPercentile float64
	MemoryBufferPercentage    float64
	OOMMemoryBufferPercentage float64
}

func (p SimpleLimitParams) withDefaults() SimpleLimitParams {
	if p.RequestPercentile <= 0 {
		p.RequestPercentile = 66
	}
	if p.LimitPercentile <= 0 {
		p.LimitPercentile = 96
	}
	if p.MemoryBufferPercentage == 0 {
		p.MemoryBufferPercentage = 15
	}
	if p.OOMMemoryBufferPercentage == 0 {
		p.OOMMemoryBufferPercentage = 25
	}
	return p
}

// SimpleLimit sizes resources as Simple does, but the CPU request uses a
// lower percentile and a CPU limit is additionally set from a higher one.
type SimpleLimit struct {
	params SimpleLimitParams
}

func NewSimpleLimit(p SimpleLimitParams) *SimpleLimit {
	return &SimpleLimit{params: p.withDefaults()}
}

func (s *SimpleLimit) RequiredMetrics() []MetricRequest {
	return []MetricRequest{
		percentileRequest(s.params.RequestPercentile),
		percentileRequest(s.params.LimitPercentile),
		plainRequest(promquery.CPUPoints),
		plainRequest(promquery.MaxMemory),
		plainRequest(promquery.MemoryPoints),
		plainRequest(promquery.OOMKilledMemory),
	}
}

func (s *SimpleLimit) Recommend(bundle Bundle, ctx Context) Recommendation {
	rec := recommendCPU(bundle, ctx, percentileRequest(s.params.RequestPercentile))
	if rec.CPURequestMillicores.Defined {
		// recommendCPU always writes its clamped percentile value into
		// CPURequestMillicores; reuse that computation for the limit too.
		limitRec := recommendCPU(bundle, ctx, percentileRequest(s.params.LimitPercentile))
		rec.CPULimitMillicores = limitRec.CPURequestMillicores
	}
	recommendMemory(&rec, bundle, ctx, SimpleParams{
		MemoryBufferPercentage:    s.params.MemoryBufferPercentage,
		OOMMemoryBufferPercentage: s.params.OOMMemoryBufferPercentage,
	})
	return rec
}
