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

// Package scanner is the Scan Runner: it orchestrates discovery, metric
// acquisition, and the Strategy across thousands of containers under
// bounded concurrency, and emits ScanResults.
package scanner

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/strategy"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// State is one of the four row states every formatter (out of scope) must
// be able to render.
type State string

const (
	StateOK         State = "ok"
	StateClamped    State = "clamped"
	StateUndefined  State = "undefined"
	StateIneligible State = "ineligible"
)

// ScanResult is one (workload, container)'s outcome. Appended exactly
// once and never revised afterward.
type ScanResult struct {
	Cluster   string
	Namespace string
	Kind      workload.Kind
	Workload  string
	Container string

	Recommendation strategy.Recommendation
	State          State
	Info           map[string]string
}

func (r ScanResult) sortKey() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", r.Cluster, r.Namespace, r.Kind, r.Workload, r.Container)
}

// SortResults orders results by (cluster, namespace, kind, name,
// container). The Runner itself makes no ordering guarantee as results
// arrive from concurrent workers, so any consumer needing one must sort.
func SortResults(results []ScanResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].sortKey() < results[j].sortKey() })
}

// deriveState classifies a Recommendation's overall row state for
// formatters: ineligible if the workload carries an HPA the strategy
// refused to touch despite allow_hpa=false, undefined if neither resource
// got a value, clamped if any Info note mentions clamping, else ok.
func deriveState(ineligibleWorkload bool, rec strategy.Recommendation) State {
	if ineligibleWorkload {
		return StateIneligible
	}
	anyDefined := rec.CPURequestMillicores.Defined || rec.MemRequestBytes.Defined
	if !anyDefined {
		return StateUndefined
	}
	for _, msg := range rec.Info {
		if strings.Contains(msg, "clamped") {
			return StateClamped
		}
	}
	return StateOK
}

// Warnings is the append-only, serialized accumulator shared across the
// whole run — the only other piece of shared mutable state besides the
// result sink.
type Warnings struct {
	mu    sync.Mutex
	items []WarningEntry
}

type WarningEntry struct {
	Cluster   string
	Namespace string
	Workload  string
	Container string
	Kind      string
	Message   string
}

func (w *Warnings) Add(e WarningEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, e)
}

func (w *Warnings) Items() []WarningEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WarningEntry, len(w.items))
	copy(out, w.items)
	return out
}

// sink is the append-only result collector; writes are serialized through
// a mutex so many workers can report concurrently.
type sink struct {
	mu      sync.Mutex
	results []ScanResult
}

func (s *sink) Add(r ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *sink) Results() []ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScanResult, len(s.results))
	copy(out, s.results)
	return out
}
