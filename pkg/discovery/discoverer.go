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
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

// Discoverer enumerates workloads and pods under a Filter. One Discoverer
// is stateless and safe to reuse across scans.
type Discoverer struct {
	logger log.Logger
}

func New(logger log.Logger) *Discoverer {
	return &Discoverer{logger: logger}
}

// Discover returns a finite, not-restartable stream of Workload objects
// matching f. The channel is closed when discovery completes for every
// requested cluster; a per-cluster fatal error (auth failure) aborts only
// that cluster and is sent on the returned error channel, which is closed
// together with the workload channel; discovery goes on with the next
// cluster.
func (d *Discoverer) Discover(ctx context.Context, f *Filter) (<-chan *workload.Workload, <-chan error) {
	out := make(chan *workload.Workload)
	clusterErrs := make(chan error, len(f.Clusters))

	go func() {
		defer close(out)
		defer close(clusterErrs)
		for _, c := range f.Clusters {
			if ctx.Err() != nil {
				return
			}
			if err := d.discoverCluster(ctx, c, f, out); err != nil {
				level.Error(log.With(d.logger, "cluster", c.Name)).Log("msg", "discovery aborted for cluster", "err", err)
				clusterErrs <- errors.Wrapf(err, "cluster %s", c.Name)
			}
		}
	}()
	return out, clusterErrs
}

func (d *Discoverer) discoverCluster(ctx context.Context, c *workload.Cluster, f *Filter, out chan<- *workload.Workload) error {
	logger := log.With(d.logger, "cluster", c.Name)
	builder := promquery.NewBuilder(dialectOf(c), clusterLabelOf(c))

	warnUnsupportedKinds(f, logger)

	namespaces, err := d.namespacesFor(ctx, c, f)
	if err != nil {
		if isAuthError(err) {
			return err
		}
		level.Warn(logger).Log("msg", "namespace enumeration failed, scanning all namespaces", "err", err)
		namespaces = []string{metav1.NamespaceAll}
	}

	for _, ns := range namespaces {
		workloads, err := d.listWorkloads(ctx, c, ns, f, logger)
		if err != nil {
			if isAuthError(err) {
				return err
			}
			level.Warn(logger).Log("msg", "listing workloads failed", "namespace", ns, "err", err)
			continue
		}
		for _, w := range workloads {
			d.populatePods(ctx, c, w, f, builder, logger)
			d.populateHPA(ctx, c, w, f, logger)
			select {
			case out <- w:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}

func dialectOf(c *workload.Cluster) promquery.Dialect {
	switch c.Dialect {
	case "gcp":
		return promquery.GCPManaged
	case "anthos":
		return promquery.Anthos
	default:
		return promquery.Standard
	}
}

func clusterLabelOf(c *workload.Cluster) *promquery.ClusterLabel {
	if c.ClusterLabel == nil {
		return nil
	}
	return &promquery.ClusterLabel{Key: c.ClusterLabel.Key, Value: c.ClusterLabel.Value}
}

func isAuthError(err error) bool {
	return apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err)
}

func (d *Discoverer) namespacesFor(ctx context.Context, c *workload.Cluster, f *Filter) ([]string, error) {
	if len(f.Namespaces) == 0 {
		return []string{metav1.NamespaceAll}, nil
	}
	list, err := c.Kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ns := range list.Items {
		if f.namespaceAllowed(ns.Name) {
			out = append(out, ns.Name)
		}
	}
	return out, nil
}

// listWorkloads lists every requested kind in namespace ns, paginating
// with Filter's batch size / page cap, and converts each into a Workload
// with its declared container specs (pods and HPA populated separately).
func (d *Discoverer) listWorkloads(ctx context.Context, c *workload.Cluster, ns string, f *Filter, logger log.Logger) ([]*workload.Workload, error) {
	var out []*workload.Workload

	if f.kindRequested(workload.Deployment) {
		items, err := d.listDeployments(ctx, c, ns, f)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, deploymentWorkload(c, &items[i]))
		}
	}
	if f.kindRequested(workload.StatefulSet) {
		items, err := d.listStatefulSets(ctx, c, ns, f)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, statefulSetWorkload(c, &items[i]))
		}
	}
	if f.kindRequested(workload.DaemonSet) {
		items, err := d.listDaemonSets(ctx, c, ns, f)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, daemonSetWorkload(c, &items[i]))
		}
	}
	if f.kindRequested(workload.CronJob) {
		items, err := d.listCronJobs(ctx, c, ns, f)
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, cronJobWorkload(c, &items[i]))
		}
	}
	if f.kindRequested(workload.Job) || f.kindRequested(workload.GroupedJob) {
		jobs, err := d.listJobs(ctx, c, ns, f)
		if err != nil {
			return nil, err
		}
		grouped, ungrouped, warnings := groupJobs(jobs, f.GroupJobsByLabels)
		for _, w := range warnings {
			level.Debug(logger).Log("msg", "job grouping skipped", "reason", w)
		}
		for _, w := range grouped {
			out = append(out, jobGroupWorkload(c, w))
		}
		for i := range ungrouped {
			out = append(out, jobWorkload(c, ungrouped[i]))
		}
	}
	return out, nil
}

// unsupportedKinds are declared Kind values with no lister in
// listWorkloads above; requesting one discovers nothing, silently, unless
// warnUnsupportedKinds flags it.
var unsupportedKinds = []workload.Kind{workload.Rollout, workload.DeploymentConfig, workload.StrimziPodSet}

func warnUnsupportedKinds(f *Filter, logger log.Logger) {
	if len(f.Kinds) == 0 {
		return
	}
	for _, k := range f.Kinds {
		for _, u := range unsupportedKinds {
			if k == u {
				level.Warn(logger).Log("msg", "requested workload kind has no discovery support yet and will never be found", "kind", k)
			}
		}
	}
}

func (d *Discoverer) listDeployments(ctx context.Context, c *workload.Cluster, ns string, f *Filter) ([]appsv1.Deployment, error) {
	var out []appsv1.Deployment
	opts := f.listOptions()
	for page := 0; page < f.effectiveMaxPages(); page++ {
		list, err := c.Kube.AppsV1().Deployments(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}
	return out, nil
}

func (d *Discoverer) listStatefulSets(ctx context.Context, c *workload.Cluster, ns string, f *Filter) ([]appsv1.StatefulSet, error) {
	var out []appsv1.StatefulSet
	opts := f.listOptions()
	for page := 0; page < f.effectiveMaxPages(); page++ {
		list, err := c.Kube.AppsV1().StatefulSets(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}
	return out, nil
}

func (d *Discoverer) listDaemonSets(ctx context.Context, c *workload.Cluster, ns string, f *Filter) ([]appsv1.DaemonSet, error) {
	var out []appsv1.DaemonSet
	opts := f.listOptions()
	for page := 0; page < f.effectiveMaxPages(); page++ {
		list, err := c.Kube.AppsV1().DaemonSets(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}
	return out, nil
}

func (d *Discoverer) listCronJobs(ctx context.Context, c *workload.Cluster, ns string, f *Filter) ([]batchv1.CronJob, error) {
	var out []batchv1.CronJob
	opts := f.listOptions()
	for page := 0; page < f.effectiveMaxPages(); page++ {
		list, err := c.Kube.BatchV1().CronJobs(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}
	return out, nil
}

func (d *Discoverer) listJobs(ctx context.Context, c *workload.Cluster, ns string, f *Filter) ([]batchv1.Job, error) {
	var out []batchv1.Job
	opts := f.listOptions()
	for page := 0; page < f.effectiveMaxPages(); page++ {
		list, err := c.Kube.BatchV1().Jobs(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}
	return out, nil
}

func (d *Discoverer) populateHPA(ctx context.Context, c *workload.Cluster, w *workload.Workload, f *Filter, logger log.Logger) {
	if w.Kind == workload.GroupedJob || w.Kind == workload.Job || w.Kind == workload.CronJob {
		// HPAs never target batch workloads.
		return
	}
	hpas, err := c.Kube.AutoscalingV2().HorizontalPodAutoscalers(w.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		level.Debug(logger).Log("msg", "hpa list failed", "namespace", w.Namespace, "err", err)
		return
	}
	for i := range hpas.Items {
		h := &hpas.Items[i]
		if !targetsWorkload(h, w) {
			continue
		}
		w.HPA = hpaDescriptor(h)
		if !f.AllowHPA {
			w.Ineligible = true
			w.Warnings = append(w.Warnings, fmt.Sprintf("workload is targeted by HPA %q and allow_hpa=false", h.Name))
		}
		return
	}
}

func targetsWorkload(h *autoscalingv2.HorizontalPodAutoscaler, w *workload.Workload) bool {
	ref := h.Spec.ScaleTargetRef
	return string(w.Kind) == ref.Kind && w.Name == ref.Name
}

func hpaDescriptor(h *autoscalingv2.HorizontalPodAutoscaler) *workload.HPADescriptor {
	d := &workload.HPADescriptor{
		Name:        h.Name,
		MaxReplicas: h.Spec.MaxReplicas,
	}
	if h.Spec.MinReplicas != nil {
		d.MinReplicas = *h.Spec.MinReplicas
	}
	for _, m := range h.Spec.Metrics {
		if m.Type != autoscalingv2.ResourceMetricSourceType || m.Resource == nil {
			continue
		}
		switch m.Resource.Name {
		case corev1.ResourceCPU:
			d.TargetMetrics = append(d.TargetMetrics, workload.HPATargetsCPU)
		case corev1.ResourceMemory:
			d.TargetMetrics = append(d.TargetMetrics, workload.HPATargetsMemory)
		}
	}
	return d
}

// containerSpecsFrom converts a PodSpec's containers into the core's
// ContainerSpec slots, normalizing requests/limits to canonical
// millicores/bytes at this boundary so nothing downstream touches a raw
// resource.Quantity.
func containerSpecsFrom(spec *corev1.PodSpec) []workload.ContainerSpec {
	out := make([]workload.ContainerSpec, 0, len(spec.Containers))
	for _, ctr := range spec.Containers {
		out = append(out, workload.ContainerSpec{
			Name:    ctr.Name,
			Current: resourceAllocationsFrom(ctr.Resources),
		})
	}
	return out
}

func resourceAllocationsFrom(r corev1.ResourceRequirements) workload.ResourceAllocations {
	var a workload.ResourceAllocations
	if q, ok := r.Requests[corev1.ResourceCPU]; ok {
		a.CPURequestMillicores = workload.DefinedQuantity(q.MilliValue())
	}
	if q, ok := r.Limits[corev1.ResourceCPU]; ok {
		a.CPULimitMillicores = workload.DefinedQuantity(q.MilliValue())
	}
	if q, ok := r.Requests[corev1.ResourceMemory]; ok {
		a.MemRequestBytes = workload.DefinedQuantity(q.Value())
	}
	if q, ok := r.Limits[corev1.ResourceMemory]; ok {
		a.MemLimitBytes = workload.DefinedQuantity(q.Value())
	}
	return a
}

func deploymentWorkload(c *workload.Cluster, dep *appsv1.Deployment) *workload.Workload {
	return &workload.Workload{
		Cluster: c, Namespace: dep.Namespace, Kind: workload.Deployment, Name: dep.Name,
		Containers: containerSpecsFrom(&dep.Spec.Template.Spec), DiscoveredAt: time.Now(),
	}
}

func statefulSetWorkload(c *workload.Cluster, ss *appsv1.StatefulSet) *workload.Workload {
	return &workload.Workload{
		Cluster: c, Namespace: ss.Namespace, Kind: workload.StatefulSet, Name: ss.Name,
		Containers: containerSpecsFrom(&ss.Spec.Template.Spec), DiscoveredAt: time.Now(),
	}
}

func daemonSetWorkload(c *workload.Cluster, ds *appsv1.DaemonSet) *workload.Workload {
	return &workload.Workload{
		Cluster: c, Namespace: ds.Namespace, Kind: workload.DaemonSet, Name: ds.Name,
		Containers: containerSpecsFrom(&ds.Spec.Template.Spec), DiscoveredAt: time.Now(),
	}
}

func cronJobWorkload(c *workload.Cluster, cj *batchv1.CronJob) *workload.Workload {
	return &workload.Workload{
		Cluster: c, Namespace: cj.Namespace, Kind: workload.CronJob, Name: cj.Name,
		Containers: containerSpecsFrom(&cj.Spec.JobTemplate.Spec.Template.Spec), DiscoveredAt: time.Now(),
	}
}

func jobWorkload(c *workload.Cluster, job *batchv1.Job) *workload.Workload {
	return &workload.Workload{
		Cluster: c, Namespace: job.Namespace, Kind: workload.Job, Name: job.Name,
		Containers: containerSpecsFrom(&job.Spec.Template.Spec), DiscoveredAt: time.Now(),
	}
}
