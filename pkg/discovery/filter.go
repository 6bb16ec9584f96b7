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

// Package discovery enumerates eligible workloads and their pods from the
// Kubernetes API and/or Prometheus.
package discovery

import (
	"regexp"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// Filter is the discovery input predicate: zero or more clusters,
// namespace globs/regexes, workload kinds, a label selector, and the
// allow_hpa flag.
type Filter struct {
	Clusters   []*workload.Cluster
	Namespaces []*regexp.Regexp
	Kinds      []workload.Kind
	Selector   labelsSelector
	AllowHPA   bool

	History time.Duration

	// GroupJobsByLabels, when non-empty, makes the discoverer fold Job
	// resources that carry every one of these label keys, and agree on
	// their values, into one GroupedJob workload; other labels on the Job
	// are ignored. A Job missing even one of these keys is left
	// standalone rather than guessing which group it belongs to.
	GroupJobsByLabels []string

	// OwnerBatchSize bounds how many pod names are OR-joined into a
	// single regex per pod-phase liveness lookup. Default 200. The
	// owner-name lookups are not batched: each is one regex over every
	// owner name.
	OwnerBatchSize int
	// ListPageSize and MaxListPages bound Kubernetes API list pagination,
	// the latter as a circuit breaker against infinite pagination.
	ListPageSize int64
	MaxListPages int
}

type labelsSelector struct {
	MatchLabels map[string]string
}

func (f *Filter) namespaceAllowed(ns string) bool {
	if len(f.Namespaces) == 0 {
		return true
	}
	for _, re := range f.Namespaces {
		if re.MatchString(ns) {
			return true
		}
	}
	return false
}

func (f *Filter) kindRequested(k workload.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (f *Filter) listOptions() metav1.ListOptions {
	opts := metav1.ListOptions{Limit: f.effectivePageSize()}
	if len(f.Selector.MatchLabels) > 0 {
		opts.LabelSelector = metav1.FormatLabelSelector(&metav1.LabelSelector{MatchLabels: f.Selector.MatchLabels})
	}
	return opts
}

func (f *Filter) effectivePageSize() int64 {
	if f.ListPageSize > 0 {
		return f.ListPageSize
	}
	return 500
}

func (f *Filter) effectiveMaxPages() int {
	if f.MaxListPages > 0 {
		return f.MaxListPages
	}
	return 1000
}

func (f *Filter) effectiveOwnerBatchSize() int {
	if f.OwnerBatchSize > 0 {
		return f.OwnerBatchSize
	}
	return 200
}
