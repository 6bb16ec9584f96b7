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

package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/strategy"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

func TestSortResults_OrdersByClusterNamespaceKindNameContainer(t *testing.T) {
	results := []ScanResult{
		{Cluster: "b", Namespace: "ns", Workload: "w", Container: "c"},
		{Cluster: "a", Namespace: "ns", Workload: "w", Container: "c"},
		{Cluster: "a", Namespace: "ns", Workload: "a-w", Container: "c"},
	}
	SortResults(results)
	require.Equal(t, "a", results[0].Cluster)
	require.Equal(t, "a-w", results[0].Workload)
	require.Equal(t, "a", results[1].Cluster)
	require.Equal(t, "w", results[1].Workload)
	require.Equal(t, "b", results[2].Cluster)
}

func TestDeriveState_Ineligible(t *testing.T) {
	require.Equal(t, StateIneligible, deriveState(true, strategy.Recommendation{}))
}

func TestDeriveState_Undefined(t *testing.T) {
	require.Equal(t, StateUndefined, deriveState(false, strategy.Recommendation{}))
}

func TestDeriveState_Clamped(t *testing.T) {
	rec := strategy.Recommendation{
		CPURequestMillicores: workload.DefinedQuantity(10),
		Info:                 map[string]string{"cpu": "clamped to configured minimum"},
	}
	require.Equal(t, StateClamped, deriveState(false, rec))
}

func TestDeriveState_OK(t *testing.T) {
	rec := strategy.Recommendation{
		CPURequestMillicores: workload.DefinedQuantity(500),
		MemRequestBytes:      workload.DefinedQuantity(1024),
	}
	require.Equal(t, StateOK, deriveState(false, rec))
}

func TestReport_ExitNonZero(t *testing.T) {
	require.True(t, (&Report{Cancelled: true}).ExitNonZero())
	require.True(t, (&Report{ClustersTotal: 2, ClustersFailed: 2}).ExitNonZero())
	require.False(t, (&Report{ClustersTotal: 2, ClustersFailed: 1}).ExitNonZero())
	require.False(t, (&Report{ClustersTotal: 0}).ExitNonZero())
}

func TestSink_AddAndResultsIsASnapshotCopy(t *testing.T) {
	s := &sink{}
	s.Add(ScanResult{Workload: "w1"})
	out := s.Results()
	require.Len(t, out, 1)
	out[0].Workload = "mutated"
	require.Equal(t, "w1", s.Results()[0].Workload, "Results() must return a defensive copy")
}

func TestWarnings_AddAndItemsIsASnapshotCopy(t *testing.T) {
	w := &Warnings{}
	w.Add(WarningEntry{Message: "m1"})
	out := w.Items()
	require.Len(t, out, 1)
	out[0].Message = "mutated"
	require.Equal(t, "m1", w.Items()[0].Message)
}
