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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSlot() Slot {
	return Slot{Namespace: "default", PodRegexp: "web-.*", Container: "app"}
}

func testWindow() Window {
	return Window{History: 7 * 24 * time.Hour, Step: 90 * time.Second}
}

var allKinds = []Kind{CPUUsage, PercentileCPU, CPUPoints, Memory, MaxMemory, MemoryPoints, OOMKilledMemory}

func TestBuilder_BuildProducesValidPromQLAcrossDialectsAndKinds(t *testing.T) {
	for _, d := range []Dialect{Standard, GCPManaged, Anthos} {
		for _, k := range allKinds {
			b := NewBuilder(d, nil)
			expr, err := b.Build(k, testSlot(), testWindow(), 95)
			require.NoErrorf(t, err, "dialect=%v kind=%v", d, k)
			require.NoErrorf(t, Validate(expr), "dialect=%v kind=%v expr=%s", d, k, expr)
		}
	}
}

func TestBuilder_PercentileRejectsOutOfRangeValue(t *testing.T) {
	b := NewBuilder(Standard, nil)
	_, err := b.Build(PercentileCPU, testSlot(), testWindow(), 0)
	require.Error(t, err)
	_, err = b.Build(PercentileCPU, testSlot(), testWindow(), 101)
	require.Error(t, err)
}

func TestBuilder_UnknownKindErrors(t *testing.T) {
	b := NewBuilder(Standard, nil)
	_, err := b.Build(Kind(999), testSlot(), testWindow(), 50)
	require.Error(t, err)
}

func TestBuilder_ClusterLabelInjectedWithoutDoubleCommas(t *testing.T) {
	label := &ClusterLabel{Key: "cluster", Value: "prod-east"}
	for _, d := range []Dialect{Standard, GCPManaged, Anthos} {
		b := NewBuilder(d, label)
		expr, err := b.Build(Memory, testSlot(), testWindow(), 0)
		require.NoError(t, err)
		require.NoError(t, Validate(expr))
		require.Contains(t, expr, "prod-east")
		require.NotContains(t, expr, ",,", "dialect=%v", d)
		require.NotContains(t, expr, ", ,", "dialect=%v", d)
	}
}

func TestBuilder_GCPDialectUsesUTF8NameSelectorAndLabelSwap(t *testing.T) {
	b := NewBuilder(GCPManaged, nil)
	expr, err := b.Build(Memory, testSlot(), testWindow(), 0)
	require.NoError(t, err)
	require.Contains(t, expr, `"__name__"="kubernetes.io/container/memory/used_bytes"`)
	require.Contains(t, expr, `label_replace(`)
}

func TestBuilder_AnthosPrefixesMetricName(t *testing.T) {
	b := NewBuilder(Anthos, nil)
	expr, err := b.Build(Memory, testSlot(), testWindow(), 0)
	require.NoError(t, err)
	require.Contains(t, expr, "kubernetes.io/anthos/container/memory/used_bytes")
}

func TestBuilder_OOMQueryStandardFiltersOOMKilledReason(t *testing.T) {
	b := NewBuilder(Standard, nil)
	expr, err := b.Build(OOMKilledMemory, testSlot(), testWindow(), 0)
	require.NoError(t, err)
	require.Contains(t, expr, `reason="OOMKilled"`)
	require.NoError(t, Validate(expr))
}

func TestBuilder_OOMQueryGCPInfersFromRestartCount(t *testing.T) {
	b := NewBuilder(GCPManaged, nil)
	expr, err := b.Build(OOMKilledMemory, testSlot(), testWindow(), 0)
	require.NoError(t, err)
	require.Contains(t, expr, "restart_count")
	require.Contains(t, expr, "limit_bytes")
}

func TestBuilder_DiscoveryQueriesUnsupportedOutsideStandard(t *testing.T) {
	for _, d := range []Dialect{GCPManaged, Anthos} {
		b := NewBuilder(d, nil)
		_, ok := b.PodOwnerQuery("default", "ReplicaSet", "web-.*", time.Hour)
		require.False(t, ok)
		_, ok = b.ReplicaOwnerQuery("ReplicaSet", "default", "web-.*", time.Hour)
		require.False(t, ok)
		_, ok = b.PodPhaseQuery("web-.*")
		require.False(t, ok)
	}
}

func TestBuilder_ReplicaOwnerQueryPicksMetricByKind(t *testing.T) {
	b := NewBuilder(Standard, nil)
	expr, ok := b.ReplicaOwnerQuery("Job", "default", "cron-.*", time.Hour)
	require.True(t, ok)
	require.Contains(t, expr, "kube_job_owner")

	_, ok = b.ReplicaOwnerQuery("Unsupported", "default", "cron-.*", time.Hour)
	require.False(t, ok)
}

func TestValidate_RejectsMalformedExpr(t *testing.T) {
	err := Validate("sum(by(")
	require.Error(t, err)
}

func TestEscapeRegexp_JoinsAndEscapesLiteralNames(t *testing.T) {
	got := EscapeRegexp([]string{"web-0", "web.1"})
	require.True(t, strings.Contains(got, "|"))
	require.Contains(t, got, `web\.1`)
}

func TestEscapeRegexp_Empty(t *testing.T) {
	require.Equal(t, "", EscapeRegexp(nil))
}
