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

// Package k8sutil holds small helpers shared by the workload discoverer
// that don't belong to any one file: batching owner/pod names into
// regex-sized chunks before they're OR-joined into a single Prometheus
// selector.
package k8sutil

// Batch splits names into chunks of at most size entries each, preserving
// order. A size <= 0 returns names as one chunk.
func Batch(names []string, size int) [][]string {
	if size <= 0 || len(names) <= size {
		if len(names) == 0 {
			return nil
		}
		return [][]string{names}
	}
	var out [][]string
	for i := 0; i < len(names); i += size {
		end := i + size
		if end > len(names) {
			end = len(names)
		}
		out = append(out, names[i:end])
	}
	return out
}
