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
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"
)

func TestToSeries_Matrix(t *testing.T) {
	m := model.Matrix{
		{
			Metric: model.Metric{"pod": "web-0", "container": "app"},
			Values: []model.SamplePair{
				{Timestamp: 1000, Value: 1.5},
				{Timestamp: 2000, Value: 2.5},
			},
		},
	}
	out := toSeries(m)
	require.Len(t, out, 1)
	require.Equal(t, "web-0", out[0].Pod)
	require.Equal(t, "app", out[0].Container)
	require.Len(t, out[0].Samples, 2)
	require.EqualValues(t, 1, out[0].Samples[0].TimestampSeconds)
	require.Equal(t, 1.5, out[0].Samples[0].Value)
}

func TestToSeries_Vector(t *testing.T) {
	v := model.Vector{
		{Metric: model.Metric{"pod": "web-1", "container": "app"}, Timestamp: 3000, Value: 9},
	}
	out := toSeries(v)
	require.Len(t, out, 1)
	require.Equal(t, "web-1", out[0].Pod)
	scalar, ok := out[0].Scalar()
	require.True(t, ok)
	require.Equal(t, 9.0, scalar)
}

func TestToSeries_Nil(t *testing.T) {
	require.Nil(t, toSeries(nil))
}

func TestIsRangeTooLarge(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"query is outside the allowed time range", true},
		{"exceeded maximum resolution", true},
		{"too many points in range query", true},
		{"syntax error near token", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, isRangeTooLarge(errorString(c.msg)), c.msg)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
