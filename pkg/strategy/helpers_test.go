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

import "github.com/GoogleCloudPlatform/krr-scan/pkg/metricsvc"

// oneSeries wraps a single scalar value as the one-pod series shape most
// strategy tests need.
func oneSeries(v float64) []metricsvc.Series {
	return []metricsvc.Series{{
		Pod:       "pod-0",
		Container: "app",
		Samples:   []metricsvc.Sample{{TimestampSeconds: 0, Value: v}},
	}}
}
