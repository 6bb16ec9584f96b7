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

package discovery

import "github.com/prometheus/common/model"

// namesFromVector extracts distinct label values for the given label key
// from an instant vector result, skipping empty or duplicate values.
func namesFromVector(v model.Value, label model.LabelName) []string {
	vec, ok := v.(model.Vector)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range vec {
		name := string(s.Metric[label])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// podNamesFromVector extracts distinct "pod" label values, used by both
// the pod-owner and pod-phase lookups.
func podNamesFromVector(v model.Value) []string {
	return namesFromVector(v, "pod")
}
