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

// Package promquery builds dialect-specific PromQL for the fixed catalog
// of metric kinds the scan pipeline needs. It is a pure function of its
// inputs: no I/O, no state beyond the active dialect and optional cluster
// label.
package promquery

import (
	"fmt"
	"net/url"
	"strings"
)

// Dialect tags which Prometheus-compatible backend a query targets. Metric
// names, label keys, and literal syntax all vary by dialect; see Builder.
type Dialect int

const (
	// Standard is cAdvisor + kube-state-metrics on a vanilla Prometheus.
	Standard Dialect = iota
	// GCPManaged is Google Managed Prometheus (monitoring.googleapis.com).
	GCPManaged
	// Anthos is the Anthos variant of Google Managed Prometheus, which
	// prefixes metric names with kubernetes.io/anthos/.
	Anthos
)

func (d Dialect) String() string {
	switch d {
	case GCPManaged:
		return "gcp"
	case Anthos:
		return "anthos"
	default:
		return "standard"
	}
}

// DetectDialect auto-detects the dialect from the Prometheus base URL and
// an explicit anthos opt-in (there's no way to tell Anthos apart from
// plain GMP by URL alone).
func DetectDialect(prometheusURL string, anthos bool) Dialect {
	u, err := url.Parse(prometheusURL)
	if err != nil || !strings.EqualFold(u.Hostname(), "monitoring.googleapis.com") {
		return Standard
	}
	if anthos {
		return Anthos
	}
	return GCPManaged
}

// ClusterLabel is a single extra matcher injected into every selector of
// the queries Build produces, for a Prometheus instance that serves more
// than one cluster. The discovery lookups (PodOwnerQuery,
// ReplicaOwnerQuery, PodPhaseQuery) do not carry it.
type ClusterLabel struct {
	Key   string
	Value string
}

// metricNames holds the dialect-specific metric identifiers used by the
// query templates below.
type metricNames struct {
	cpuUsage      string
	memWorkingSet string
	memLimit      string
	restartCount  string
	lastTerm      string
	podOwner      string
	rsOwner       string
	rcOwner       string
	jobOwner      string
	podPhase      string

	nsLabel   string
	podLabel  string
	ctrLabel  string
	extraSel  string // e.g. monitored_resource="k8s_container"
	isUTF8    bool   // GCP-style metric names need the {"__name__"=...} form
	labelSwap bool   // wrap result in label_replace to rename pod/container labels
}

func namesFor(d Dialect) metricNames {
	switch d {
	case GCPManaged, Anthos:
		prefix := "kubernetes.io/container"
		if d == Anthos {
			prefix = "kubernetes.io/anthos/container"
		}
		return metricNames{
			cpuUsage:      prefix + "/cpu/core_usage_time",
			memWorkingSet: prefix + "/memory/used_bytes",
			memLimit:      prefix + "/memory/limit_bytes",
			restartCount:  prefix + "/restart_count",
			nsLabel:       "namespace_name",
			podLabel:      "pod_name",
			ctrLabel:      "container_name",
			extraSel:      `monitored_resource="k8s_container"`,
			isUTF8:        true,
			labelSwap:     true,
		}
	default:
		return metricNames{
			cpuUsage:      "container_cpu_usage_seconds_total",
			memWorkingSet: "container_memory_working_set_bytes",
			lastTerm:      "kube_pod_container_status_last_terminated_reason",
			podOwner:      "kube_pod_owner",
			rsOwner:       "kube_replicaset_owner",
			rcOwner:       "kube_replicationcontroller_owner",
			jobOwner:      "kube_job_owner",
			podPhase:      "kube_pod_status_phase",
			nsLabel:       "namespace",
			podLabel:      "pod",
			ctrLabel:      "container",
		}
	}
}
