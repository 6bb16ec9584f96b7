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

package promquery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectDialect(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		anthos bool
		want   Dialect
	}{
		{"vanilla prometheus", "http://prometheus.monitoring.svc:9090", false, Standard},
		{"gcp managed", "https://monitoring.googleapis.com/v1/projects/p/location/global/prometheus", false, GCPManaged},
		{"anthos opt-in", "https://monitoring.googleapis.com/v1/projects/p/location/global/prometheus", true, Anthos},
		{"malformed url", "://nope", false, Standard},
		{"case insensitive host", "https://MONITORING.GOOGLEAPIS.COM/", false, GCPManaged},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, DetectDialect(c.url, c.anthos))
		})
	}
}

func TestDialectString(t *testing.T) {
	require.Equal(t, "standard", Standard.String())
	require.Equal(t, "gcp", GCPManaged.String())
	require.Equal(t, "anthos", Anthos.String())
}
