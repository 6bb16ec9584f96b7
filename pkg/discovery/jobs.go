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
	"sort"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// jobGroup is the intermediate result of folding several Jobs that share a
// grouping label set into one synthetic GroupedJob workload.
type jobGroup struct {
	key       string
	namespace string
	jobs      []*batchv1.Job
}

// groupJobs folds Job resources sharing the same grouping label values into
// one synthetic workload. A Job is only folded into a group when it carries
// every configured grouping label key; if it's missing even one, it is
// emitted as a standalone Job instead of guessing a tie-breaker, and a
// warning names the skipped job.
func groupJobs(jobs []batchv1.Job, groupKeys []string) (groups []*jobGroup, ungrouped []*batchv1.Job, warnings []string) {
	if len(groupKeys) == 0 {
		out := make([]*batchv1.Job, len(jobs))
		for i := range jobs {
			out[i] = &jobs[i]
		}
		return nil, out, nil
	}

	byKey := map[string]*jobGroup{}
	var order []string
	for i := range jobs {
		job := &jobs[i]
		values := make([]string, 0, len(groupKeys))
		complete := true
		for _, k := range groupKeys {
			v, ok := job.Labels[k]
			if !ok {
				complete = false
				break
			}
			values = append(values, k+"="+v)
		}
		if !complete {
			warnings = append(warnings, "job "+job.Namespace+"/"+job.Name+" missing one of grouping labels "+strings.Join(groupKeys, ","))
			ungrouped = append(ungrouped, job)
			continue
		}
		key := job.Namespace + "|" + strings.Join(values, ",")
		g, ok := byKey[key]
		if !ok {
			g = &jobGroup{key: key, namespace: job.Namespace}
			byKey[key] = g
			order = append(order, key)
		}
		g.jobs = append(g.jobs, job)
	}
	sort.Strings(order)
	for _, k := range order {
		groups = append(groups, byKey[k])
	}
	return groups, ungrouped, warnings
}

// jobGroupWorkload synthesizes one GroupedJob workload from a set of Jobs
// sharing the same grouping labels. All the group's pods are pooled under
// the synthetic workload; container specs are taken from the first job
// (later jobs in the group are assumed to share a template, since they
// share the grouping labels by construction).
func jobGroupWorkload(c *workload.Cluster, g *jobGroup) *workload.Workload {
	first := g.jobs[0]
	names := make([]string, len(g.jobs))
	for i, j := range g.jobs {
		names[i] = j.Name
	}
	w := &workload.Workload{
		Cluster:       c,
		Namespace:     g.namespace,
		Kind:          workload.GroupedJob,
		Name:          groupDisplayName(g),
		Containers:    containerSpecsFrom(&first.Spec.Template.Spec),
		PodOwnerNames: names,
	}
	if len(g.jobs) > 1 {
		w.Warnings = append(w.Warnings, "grouped "+strconv.Itoa(len(g.jobs))+" jobs under this synthetic workload")
	}
	return w
}

func groupDisplayName(g *jobGroup) string {
	parts := strings.SplitN(g.key, "|", 2)
	if len(parts) == 2 {
		return "group:" + parts[1]
	}
	return "group:" + g.key
}
