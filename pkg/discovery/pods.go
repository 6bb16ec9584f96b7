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
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/model"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/GoogleCloudPlatform/krr-scan/internal/k8sutil"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// populatePods fills in w.Pods, preferring kube-state-metrics owner
// metrics over the live Kubernetes API so recently-deleted pods within
// the history window are included. When the dialect has no
// kube-state-metrics equivalent, or the owner lookup comes back with
// nothing, it falls back to the live API.
func (d *Discoverer) populatePods(ctx context.Context, c *workload.Cluster, w *workload.Workload, f *Filter, b *promquery.Builder, logger log.Logger) {
	if pods, ok := d.kubeStateMetricsPods(ctx, c, w, f, b, logger); ok {
		w.Pods = pods
		return
	}

	pods, err := d.listPodsLiveAPI(ctx, c, w)
	if err != nil {
		level.Warn(logger).Log("msg", "live pod listing failed", "workload", w.Name, "err", err)
		w.Warnings = append(w.Warnings, "pod listing failed: "+err.Error())
		return
	}
	w.Pods = pods
}

// podOwnerKindFor reports the owner_kind kube-state-metrics records
// directly on a workload's pods in kube_pod_owner, and, when
// kube-state-metrics records an extra hop before reaching pods
// (Deployment/Rollout/DeploymentConfig -> ReplicaSet, CronJob -> Job),
// the intermediate resource kind whose owned names must be resolved
// first via Builder.ReplicaOwnerQuery. StatefulSet, DaemonSet, Job and
// GroupedJob own their pods directly, so intermediate is empty for them.
func podOwnerKindFor(k workload.Kind) (ownerKind, intermediate string) {
	switch k {
	case workload.Deployment, workload.Rollout, workload.DeploymentConfig:
		return "ReplicaSet", "ReplicaSet"
	case workload.CronJob:
		return "Job", "Job"
	case workload.GroupedJob:
		return "Job", ""
	default:
		return string(k), ""
	}
}

// intermediateLabel is the kube-state-metrics label holding the
// intermediate resource's own name in its *_owner metric (e.g.
// kube_replicaset_owner{replicaset=...}, kube_job_owner{job_name=...}).
func intermediateLabel(kind string) model.LabelName {
	switch kind {
	case "ReplicaSet":
		return "replicaset"
	case "ReplicationController":
		return "replicationcontroller"
	case "Job":
		return "job_name"
	default:
		return ""
	}
}

// ownerNames returns the literal names the Prometheus owner-name query
// should match against. A GroupedJob matches every underlying Job name it
// pools; every other kind matches on its own name alone.
func ownerNames(w *workload.Workload) []string {
	if len(w.PodOwnerNames) > 0 {
		return w.PodOwnerNames
	}
	return []string{w.Name}
}

// kubeStateMetricsPods resolves w's pods from kube-state-metrics
// owner-reference metrics, descending through the intermediate ReplicaSet
// or Job kube-state-metrics inserts between a Deployment/CronJob and its
// pods. ok is false when the dialect has no kube-state-metrics signal, or
// when any step of the resolution comes back empty, so the caller falls
// back to the live API rather than reporting a false "no pods".
func (d *Discoverer) kubeStateMetricsPods(ctx context.Context, c *workload.Cluster, w *workload.Workload, f *Filter, b *promquery.Builder, logger log.Logger) ([]workload.PodRef, bool) {
	ownerKind, intermediate := podOwnerKindFor(w.Kind)
	names := ownerNames(w)

	if intermediate != "" {
		q, ok := b.ReplicaOwnerQuery(intermediate, w.Namespace, promquery.EscapeRegexp(names), f.History)
		if !ok {
			level.Debug(logger).Log("msg", "dialect has no kube-state-metrics owner signal, historical pods unavailable", "workload", w.Name)
			return nil, false
		}
		resolved, err := queryNames(ctx, c, q, intermediateLabel(intermediate))
		if err != nil {
			level.Debug(logger).Log("msg", "intermediate owner query failed, falling back to live API", "workload", w.Name, "err", err)
			return nil, false
		}
		if len(resolved) == 0 {
			return nil, false
		}
		names = resolved
	}

	q, ok := b.PodOwnerQuery(w.Namespace, ownerKind, promquery.EscapeRegexp(names), f.History)
	if !ok {
		level.Debug(logger).Log("msg", "dialect has no kube-state-metrics pod-owner signal, historical pods unavailable", "workload", w.Name)
		return nil, false
	}
	pods, err := queryNames(ctx, c, q, "pod")
	if err != nil {
		level.Debug(logger).Log("msg", "pod owner query failed, falling back to live API", "workload", w.Name, "err", err)
		return nil, false
	}
	if len(pods) == 0 {
		return nil, false
	}
	return withLiveness(ctx, c, b, pods, f.effectiveOwnerBatchSize(), logger), true
}

func queryNames(ctx context.Context, c *workload.Cluster, query string, label model.LabelName) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, _, err := c.Prom.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	return namesFromVector(result, label), nil
}

// withLiveness cross-references the candidate pod names against a
// kube_pod_status_phase==1 query to flag which are currently Running; any
// pod this second query can't confirm is assumed deleted-but-recent.
// Candidates are OR-joined in batches of at most batchSize names so a
// workload with thousands of historical pods doesn't produce one
// unbounded regex.
func withLiveness(ctx context.Context, c *workload.Cluster, b *promquery.Builder, candidates []string, batchSize int, logger log.Logger) []workload.PodRef {
	out := make([]workload.PodRef, len(candidates))
	for i, name := range candidates {
		out[i] = workload.PodRef{Name: name, Alive: false}
	}
	if len(candidates) == 0 {
		return out
	}

	alive := map[string]bool{}
	for _, batch := range k8sutil.Batch(candidates, batchSize) {
		q, ok := b.PodPhaseQuery(promquery.EscapeRegexp(batch))
		if !ok {
			return out
		}
		func() {
			qctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			result, _, err := c.Prom.Query(qctx, q, time.Now())
			if err != nil {
				level.Debug(logger).Log("msg", "pod phase query failed", "err", err)
				return
			}
			for _, n := range podNamesFromVector(result) {
				alive[n] = true
			}
		}()
	}
	for i := range out {
		out[i].Alive = alive[out[i].Name]
	}
	return out
}

func (d *Discoverer) listPodsLiveAPI(ctx context.Context, c *workload.Cluster, w *workload.Workload) ([]workload.PodRef, error) {
	list, err := c.Kube.CoreV1().Pods(w.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	var out []workload.PodRef
	for _, p := range list.Items {
		if !ownedBy(&p, w) {
			continue
		}
		out = append(out, workload.PodRef{Name: p.Name, Alive: p.Status.Phase == corev1.PodRunning})
	}
	return out, nil
}

// ownedBy does a best-effort name-prefix match against the pod's owner
// references; a full replicaset/job owner chain walk is possible but the
// live-API path is already the degraded fallback.
func ownedBy(p *corev1.Pod, w *workload.Workload) bool {
	for _, ref := range p.OwnerReferences {
		if strings.HasPrefix(p.Name, w.Name+"-") || ref.Name == w.Name {
			return true
		}
	}
	return strings.HasPrefix(p.Name, w.Name+"-")
}
