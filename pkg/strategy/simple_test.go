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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

func bundleWith(entries map[MetricRequest]float64, points int) Bundle {
	b := Bundle{}
	for req, v := range entries {
		b[req] = oneSeries(v)
	}
	b[plainRequest(promquery.CPUPoints)] = oneSeries(float64(points))
	b[plainRequest(promquery.MemoryPoints)] = oneSeries(float64(points))
	return b
}

func baseCtx() Context {
	return Context{
		CPUMinMillicores: 10,
		MemMinBytes:      100 * 1024 * 1024,
		PointsRequired:   100,
		UseOOMKillData:   true,
		AllowHPA:         false,
	}
}

func TestSimple_Determinism(t *testing.T) {
	s := NewSimple(SimpleParams{})
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):               500,
		plainRequest(promquery.MaxMemory):    200 * 1024 * 1024,
		plainRequest(promquery.OOMKilledMemory): 0,
	}, 150)
	ctx := baseCtx()

	first := s.Recommend(bundle, ctx)
	second := s.Recommend(bundle, ctx)
	require.Equal(t, first, second, "identical bundle+ctx must yield an identical recommendation")
}

func TestSimple_CPURequestFromPercentile(t *testing.T) {
	s := NewSimple(SimpleParams{Percentile: 95})
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            500, // a cores value: 500 cores
		plainRequest(promquery.MaxMemory): 200 * 1024 * 1024,
	}, 150)
	rec := s.Recommend(bundle, baseCtx())

	require.True(t, rec.CPURequestMillicores.Defined)
	require.EqualValues(t, 500000, rec.CPURequestMillicores.Value) // 500 cores * 1000
	require.False(t, rec.CPULimitMillicores.Defined, "Simple never sets a CPU limit")
}

func TestSimple_ClampsToConfiguredMinimum(t *testing.T) {
	s := NewSimple(SimpleParams{Percentile: 95})
	ctx := baseCtx()
	ctx.CPUMinMillicores = 999999999
	ctx.MemMinBytes = 999999999999

	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            0.001,
		plainRequest(promquery.MaxMemory): 1,
	}, 150)
	rec := s.Recommend(bundle, ctx)

	require.EqualValues(t, ctx.CPUMinMillicores, rec.CPURequestMillicores.Value)
	require.EqualValues(t, ctx.MemMinBytes, rec.MemRequestBytes.Value)
	require.True(t, strings.Contains(rec.Info["cpu"], "clamped"))
	require.True(t, strings.Contains(rec.Info["memory"], "clamped"))
}

func TestSimple_OOMOverrideWinsRegardlessOfPlainMax(t *testing.T) {
	s := NewSimple(SimpleParams{})
	ctx := baseCtx()

	// OOM ceiling is far below the plain observed max; the OOM-derived
	// value must win whenever it's present and positive, not whichever
	// value happens to be larger.
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):                100,
		plainRequest(promquery.MaxMemory):       1000 * 1024 * 1024,
		plainRequest(promquery.OOMKilledMemory):  50 * 1024 * 1024,
	}, 150)
	rec := s.Recommend(bundle, ctx)

	wantOOM := bytesRound(50 * 1024 * 1024 * 1.25)
	require.EqualValues(t, wantOOM, rec.MemRequestBytes.Value)
}

func TestSimple_FallsBackToPlainMaxWhenOOMDataAbsent(t *testing.T) {
	s := NewSimple(SimpleParams{})
	ctx := baseCtx()

	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            100,
		plainRequest(promquery.MaxMemory): 400 * 1024 * 1024,
	}, 150)
	// No OOMKilledMemory entry at all.
	rec := s.Recommend(bundle, ctx)

	wantPlain := bytesRound(400 * 1024 * 1024 * 1.15)
	require.EqualValues(t, wantPlain, rec.MemRequestBytes.Value)
}

func TestSimple_InsufficientDataLeavesUndefined(t *testing.T) {
	s := NewSimple(SimpleParams{})
	ctx := baseCtx()

	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            100,
		plainRequest(promquery.MaxMemory): 400 * 1024 * 1024,
	}, 10) // below ctx.PointsRequired
	rec := s.Recommend(bundle, ctx)

	require.False(t, rec.CPURequestMillicores.Defined)
	require.False(t, rec.MemRequestBytes.Defined)
	require.Contains(t, rec.Info["cpu"], "not enough data")
	require.Contains(t, rec.Info["memory"], "not enough data")
}

func TestSimple_HPAIneligibilityWithholdsRecommendation(t *testing.T) {
	s := NewSimple(SimpleParams{})
	ctx := baseCtx()
	ctx.HPA = &workload.HPADescriptor{TargetMetrics: []workload.HPAMetricTarget{workload.HPATargetsCPU}}
	ctx.AllowHPA = false

	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            100,
		plainRequest(promquery.MaxMemory): 400 * 1024 * 1024,
	}, 150)
	rec := s.Recommend(bundle, ctx)

	require.False(t, rec.CPURequestMillicores.Defined)
	require.True(t, rec.MemRequestBytes.Defined, "HPA targets cpu only; memory is still recommended")
}

func TestSimple_MemoryRequestEqualsLimit(t *testing.T) {
	s := NewSimple(SimpleParams{})
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(95):            100,
		plainRequest(promquery.MaxMemory): 400 * 1024 * 1024,
	}, 150)
	rec := s.Recommend(bundle, baseCtx())

	require.Equal(t, rec.MemRequestBytes, rec.MemLimitBytes)
}
