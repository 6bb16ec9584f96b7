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

// Package workload holds the scan pipeline's shared, per-run, in-memory
// data model: Cluster, Workload, container spec slots and their current
// ResourceAllocations. Nothing here is persisted; a Workload is built once
// by the discoverer and treated as read-only afterward.
package workload

import (
	"fmt"
	"time"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"k8s.io/client-go/kubernetes"
)

// Kind is a discoverable workload controller type.
type Kind string

const (
	Deployment       Kind = "Deployment"
	StatefulSet      Kind = "StatefulSet"
	DaemonSet        Kind = "DaemonSet"
	Job              Kind = "Job"
	CronJob          Kind = "CronJob"
	Rollout          Kind = "Rollout"
	DeploymentConfig Kind = "DeploymentConfig"
	StrimziPodSet    Kind = "StrimziPodSet"
	// GroupedJob is synthesized by the discoverer: several Job resources
	// sharing a configured label-key set are folded into one workload.
	GroupedJob Kind = "GroupedJob"
)

// ClusterLabel filters metrics on a Prometheus instance shared by multiple
// clusters.
type ClusterLabel struct {
	Key   string
	Value string
}

// Cluster is the logical address of one Kubernetes control plane and its
// paired Prometheus-compatible backend. The core consumes already-
// authenticated handles; it never dials either endpoint itself.
type Cluster struct {
	Name         string
	Kube         kubernetes.Interface
	Prom         v1.API
	Dialect      string // "standard" | "gcp" | "anthos"; set by the caller or auto-detected
	ClusterLabel *ClusterLabel
}

// Quantity is a resource quantity already normalized to the core's
// canonical integer units: millicores for CPU, bytes for memory. A zero
// value combined with Defined=false means "not set on the container spec
// or not computed by a strategy", distinct from an explicit 0.
type Quantity struct {
	Value   int64
	Defined bool
}

func DefinedQuantity(v int64) Quantity { return Quantity{Value: v, Defined: true} }

// ResourceAllocations is the set of resource fields tracked for one
// container, either as currently declared on the pod spec or as computed
// by a Strategy.
type ResourceAllocations struct {
	CPURequestMillicores Quantity
	CPULimitMillicores   Quantity
	MemRequestBytes      Quantity
	MemLimitBytes        Quantity
}

// ContainerSpec is one (workload, container_name) slot: the atomic unit of
// recommendation.
type ContainerSpec struct {
	Name    string
	Current ResourceAllocations
}

// HPAMetricTarget names one resource an HPA scales on.
type HPAMetricTarget string

const (
	HPATargetsCPU    HPAMetricTarget = "cpu"
	HPATargetsMemory HPAMetricTarget = "memory"
)

// HPADescriptor is the HorizontalPodAutoscaler, if any, referencing a
// workload.
type HPADescriptor struct {
	Name          string
	MinReplicas   int32
	MaxReplicas   int32
	TargetMetrics []HPAMetricTarget
}

func (h *HPADescriptor) Targets(m HPAMetricTarget) bool {
	if h == nil {
		return false
	}
	for _, t := range h.TargetMetrics {
		if t == m {
			return true
		}
	}
	return false
}

// PodRef is one pod known to belong to a workload, alive or recently
// deleted within the history window.
type PodRef struct {
	Name  string
	Alive bool
}

// Workload is one controller-level object and everything the Strategy
// needs to know about it. Constructed by the discoverer, mutated only
// there, then treated as read-only.
type Workload struct {
	Cluster   *Cluster
	Namespace string
	Kind      Kind
	Name      string

	Pods       []PodRef
	Containers []ContainerSpec
	HPA        *HPADescriptor
	Ineligible bool // true when an HPA exists and allow_hpa=false
	Warnings   []string

	// PodOwnerNames overrides the single w.Name match used to resolve
	// this workload's pods via kube-state-metrics owner-reference
	// metrics. Only GroupedJob sets this, to the names of every
	// underlying Job it pools; every other kind matches on w.Name alone.
	PodOwnerNames []string

	DiscoveredAt time.Time
}

// ID is the tuple that uniquely identifies a workload; String renders it
// as cluster/namespace/kind/name.
type ID struct {
	Cluster   string
	Namespace string
	Kind      Kind
	Name      string
}

func (w *Workload) ID() ID {
	return ID{Cluster: w.Cluster.Name, Namespace: w.Namespace, Kind: w.Kind, Name: w.Name}
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.Cluster, id.Namespace, id.Kind, id.Name)
}

// LivePods returns the subset of w.Pods still alive.
func (w *Workload) LivePods() []string {
	var out []string
	for _, p := range w.Pods {
		if p.Alive {
			out = append(out, p.Name)
		}
	}
	return out
}

// AllPodNames returns every known pod name, alive or recently deleted —
// the set queries should cover so historical samples aren't lost.
func (w *Workload) AllPodNames() []string {
	out := make([]string, len(w.Pods))
	for i, p := range w.Pods {
		out[i] = p.Name
	}
	return out
}
