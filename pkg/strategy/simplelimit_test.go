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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
)

func TestSimpleLimit_RequestNeverExceedsLimit(t *testing.T) {
	s := NewSimpleLimit(SimpleLimitParams{})
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(66):            200,
		percentileRequest(96):            800,
		plainRequest(promquery.MaxMemory): 200 * 1024 * 1024,
	}, 150)
	rec := s.Recommend(bundle, baseCtx())

	require.True(t, rec.CPURequestMillicores.Defined)
	require.True(t, rec.CPULimitMillicores.Defined)
	require.LessOrEqual(t, rec.CPURequestMillicores.Value, rec.CPULimitMillicores.Value)
	require.EqualValues(t, 200000, rec.CPURequestMillicores.Value)
	require.EqualValues(t, 800000, rec.CPULimitMillicores.Value)
}

func TestSimpleLimit_NoLimitWhenRequestUndefined(t *testing.T) {
	s := NewSimpleLimit(SimpleLimitParams{})
	ctx := baseCtx()
	ctx.PointsRequired = 1000 // force insufficient data

	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(66):            200,
		percentileRequest(96):            800,
		plainRequest(promquery.MaxMemory): 200 * 1024 * 1024,
	}, 10)
	rec := s.Recommend(bundle, ctx)

	require.False(t, rec.CPURequestMillicores.Defined)
	require.False(t, rec.CPULimitMillicores.Defined)
}

func TestSimpleLimit_Determinism(t *testing.T) {
	s := NewSimpleLimit(SimpleLimitParams{})
	bundle := bundleWith(map[MetricRequest]float64{
		percentileRequest(66):            200,
		percentileRequest(96):            800,
		plainRequest(promquery.MaxMemory): 200 * 1024 * 1024,
	}, 150)
	ctx := baseCtx()

	first := s.Recommend(bundle, ctx)
	second := s.Recommend(bundle, ctx)
	require.Equal(t, first, second)
}
