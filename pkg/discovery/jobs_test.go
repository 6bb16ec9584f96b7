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

import (
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

func job(name, namespace string, labels map[string]string) batchv1.Job {
	return batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels}}
}

func TestGroupJobs_NoGroupKeysReturnsAllUngrouped(t *testing.T) {
	jobs := []batchv1.Job{job("a", "ns", nil), job("b", "ns", nil)}
	groups, ungrouped, warnings := groupJobs(jobs, nil)
	require.Nil(t, groups)
	require.Len(t, ungrouped, 2)
	require.Empty(t, warnings)
}

func TestGroupJobs_ExactLabelSetMatchGroupsTogether(t *testing.T) {
	jobs := []batchv1.Job{
		job("etl-1", "ns", map[string]string{"cronjob": "etl"}),
		job("etl-2", "ns", map[string]string{"cronjob": "etl"}),
		job("other", "ns", map[string]string{"cronjob": "other"}),
	}
	groups, ungrouped, warnings := groupJobs(jobs, []string{"cronjob"})
	require.Len(t, groups, 2)
	require.Empty(t, ungrouped)
	require.Empty(t, warnings)

	var etlGroup *jobGroup
	for _, g := range groups {
		if len(g.jobs) == 2 {
			etlGroup = g
		}
	}
	require.NotNil(t, etlGroup, "the two etl jobs must land in the same group")
}

func TestGroupJobs_PartialLabelMatchFallsBackToStandaloneWithWarning(t *testing.T) {
	jobs := []batchv1.Job{
		job("complete", "ns", map[string]string{"cronjob": "etl", "team": "data"}),
		job("missing-team", "ns", map[string]string{"cronjob": "etl"}),
	}
	groups, ungrouped, warnings := groupJobs(jobs, []string{"cronjob", "team"})
	require.Len(t, groups, 1)
	require.Len(t, groups[0].jobs, 1)
	require.Len(t, ungrouped, 1)
	require.Equal(t, "missing-team", ungrouped[0].Name)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "missing-team")
}

func TestJobGroupWorkload_MultiJobGroupCarriesCountWarning(t *testing.T) {
	g := &jobGroup{
		key:       "ns|cronjob=etl",
		namespace: "ns",
		jobs: []*batchv1.Job{
			func() *batchv1.Job { j := job("etl-1", "ns", nil); return &j }(),
			func() *batchv1.Job { j := job("etl-2", "ns", nil); return &j }(),
		},
	}
	c := &workload.Cluster{Name: "c1"}
	w := jobGroupWorkload(c, g)
	require.Equal(t, workload.GroupedJob, w.Kind)
	require.Equal(t, "group:cronjob=etl", w.Name)
	require.Len(t, w.Warnings, 1)
	require.Contains(t, w.Warnings[0], "2 jobs")
	require.Equal(t, []string{"etl-1", "etl-2"}, w.PodOwnerNames)
}

func TestJobGroupWorkload_SingleJobGroupHasNoCountWarning(t *testing.T) {
	g := &jobGroup{
		key:       "ns|cronjob=etl",
		namespace: "ns",
		jobs:      []*batchv1.Job{func() *batchv1.Job { j := job("etl-1", "ns", nil); return &j }()},
	}
	w := jobGroupWorkload(&workload.Cluster{Name: "c1"}, g)
	require.Empty(t, w.Warnings)
}
