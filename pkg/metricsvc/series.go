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

// Package metricsvc executes PromQL against a Prometheus-compatible
// backend and normalizes the result into Series keyed by (pod, container).
package metricsvc

// Sample is one (timestamp, value) point of a series.
type Sample struct {
	TimestampSeconds int64
	Value            float64
}

// Series is one pod/container's samples for a single query.
type Series struct {
	Pod       string
	Container string
	Samples   []Sample
}

// Scalar returns the series' single value, for queries that are expected to
// produce one sample per pod (percentiles, max, point counts, OOM signal).
// Returns (0, false) if the series has no samples.
func (s Series) Scalar() (float64, bool) {
	if len(s.Samples) == 0 {
		return 0, false
	}
	return s.Samples[len(s.Samples)-1].Value, true
}

// key identifies a series for merge purposes.
type key struct {
	pod       string
	container string
}

// mergeSeries combines two slices of Series from adjacent time windows,
// concatenating samples for matching (pod, container) pairs and
// sorting by timestamp. Used when RangeQuery splits a window in two.
func mergeSeries(a, b []Series) []Series {
	byKey := make(map[key]*Series, len(a)+len(b))
	order := make([]key, 0, len(a)+len(b))
	add := func(list []Series) {
		for _, s := range list {
			k := key{s.Pod, s.Container}
			existing, ok := byKey[k]
			if !ok {
				cp := s
				byKey[k] = &cp
				order = append(order, k)
				continue
			}
			existing.Samples = append(existing.Samples, s.Samples...)
		}
	}
	add(a)
	add(b)
	out := make([]Series, 0, len(order))
	for _, k := range order {
		s := *byKey[k]
		sortSamples(s.Samples)
		out = append(out, s)
	}
	return out
}

func sortSamples(s []Sample) {
	// Simple insertion sort: merged halves are each already sorted, and
	// a window split never produces more than a few thousand samples.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].TimestampSeconds > s[j].TimestampSeconds; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
