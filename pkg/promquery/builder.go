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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/prometheus/promql/parser"
)

// Slot identifies the container whose metrics a query should select.
type Slot struct {
	Namespace string
	// PodRegexp selects the owning pod(s); the scan runner builds this from
	// every known pod name of the workload, alive or recently deleted,
	// regex-OR'd together.
	PodRegexp string
	Container string
}

// Window is the lookback interval and resample granularity for a query.
type Window struct {
	History time.Duration
	Step    time.Duration
}

// Builder produces PromQL for one active dialect. It carries no I/O and no
// mutable state; constructing one is cheap and Builder is safe for
// concurrent use by many goroutines (used read-only).
type Builder struct {
	dialect Dialect
	names   metricNames
	cluster *ClusterLabel
}

// NewBuilder returns a Builder for the given dialect. label may be nil.
func NewBuilder(d Dialect, label *ClusterLabel) *Builder {
	return &Builder{dialect: d, names: namesFor(d), cluster: label}
}

func (b *Builder) Dialect() Dialect { return b.dialect }

// matcher renders one label selector's contents, dialect-specific
// braces excluded, e.g. `namespace="x", pod=~"y", container="z"`.
// extraSel (e.g. monitored_resource="k8s_container") and the cluster
// label, if set, are appended last.
func (b *Builder) matcher(metric string, slot Slot) string {
	n := b.names
	var parts []string
	if n.isUTF8 {
		parts = append(parts, fmt.Sprintf(`"__name__"="%s"`, metric))
	}
	parts = append(parts, b.labelEq(n.nsLabel, slot.Namespace, false))
	if slot.PodRegexp != "" {
		parts = append(parts, b.labelEq(n.podLabel, slot.PodRegexp, true))
	}
	if slot.Container != "" {
		parts = append(parts, b.labelEq(n.ctrLabel, slot.Container, false))
	}
	if n.extraSel != "" {
		parts = append(parts, b.quoteLabelName(n.extraSel))
	}
	if b.cluster != nil {
		parts = append(parts, b.labelEq(b.cluster.Key, b.cluster.Value, false))
	}
	return strings.Join(parts, ", ")
}

func (b *Builder) labelEq(key, value string, regexMatch bool) string {
	op := "="
	if regexMatch {
		op = "=~"
	}
	if b.names.isUTF8 {
		return fmt.Sprintf(`"%s"%s"%s"`, key, op, value)
	}
	return fmt.Sprintf(`%s%s"%s"`, key, op, value)
}

// quoteLabelName rewrites a classic `key="value"` literal (used for
// extraSel, which is always written in classic syntax in metricNames) into
// the UTF-8 braced form when the active dialect needs it.
func (b *Builder) quoteLabelName(classic string) string {
	if !b.names.isUTF8 {
		return classic
	}
	i := strings.IndexByte(classic, '=')
	key := classic[:i]
	val := strings.Trim(classic[i+1:], `"`)
	return fmt.Sprintf(`"%s"="%s"`, key, val)
}

// braces wraps sel in the dialect-appropriate selector delimiters.
func (b *Builder) braces(metric string, sel string) string {
	if b.names.isUTF8 {
		return "{" + sel + "}"
	}
	return metric + "{" + sel + "}"
}

func (b *Builder) selector(metric string, slot Slot) string {
	return b.braces(metric, b.matcher(metric, slot))
}

// maybeLabelSwap wraps expr in the label_replace calls GCP/Anthos queries
// need so that downstream code always sees "pod" and "container" labels
// regardless of the dialect's native label names.
func (b *Builder) maybeLabelSwap(expr string) string {
	if !b.names.labelSwap {
		return expr
	}
	expr = fmt.Sprintf(`label_replace(%s, "pod", "$1", "%s", "(.+)")`, expr, b.names.podLabel)
	expr = fmt.Sprintf(`label_replace(%s, "container", "$1", "%s", "(.+)")`, expr, b.names.ctrLabel)
	return expr
}

func durLiteral(d time.Duration) string {
	// PromQL duration literals: "90s", "168h", never fractional units
	// Prometheus can't parse (e.g. it accepts "1.5h"? no — stay integral).
	secs := int64(d.Seconds())
	return fmt.Sprintf("%ds", secs)
}

// cpuRateExpr is `max by (container, pod, job) (rate(<cpu>{...}[step]))`.
func (b *Builder) cpuRateExpr(slot Slot, step time.Duration) string {
	sel := b.selector(b.names.cpuUsage, slot)
	rate := fmt.Sprintf("rate(%s[%s])", sel, durLiteral(step))
	return b.maybeLabelSwap(fmt.Sprintf("max by (container, pod, job) (%s)", rate))
}

// Build produces the query string for kind over slot/window. err is non-nil
// only for programmer errors (e.g. a percentile kind without a percentile),
// never for backend unavailability — that's UnsupportedMetric, which this
// builder never returns on its own; the scan runner reports a Build error
// as an UnsupportedMetric warning.
func (b *Builder) Build(kind Kind, slot Slot, w Window, percentile float64) (string, error) {
	switch kind {
	case CPUUsage:
		return b.cpuRateExpr(slot, w.Step), nil
	case PercentileCPU:
		if percentile <= 0 || percentile > 100 {
			return "", fmt.Errorf("promquery: percentile out of range: %v", percentile)
		}
		return fmt.Sprintf("quantile_over_time(%g, %s[%s:%s])",
			percentile/100, b.cpuRateExpr(slot, w.Step), durLiteral(w.History), durLiteral(w.Step)), nil
	case CPUPoints:
		inner := fmt.Sprintf("max by (container, pod, job) (%s)", b.selector(b.names.cpuUsage, slot))
		return b.maybeLabelSwap(fmt.Sprintf("count_over_time(%s[%s:%s])", inner, durLiteral(w.History), durLiteral(w.Step))), nil
	case Memory:
		inner := fmt.Sprintf("max by (container, pod, job) (%s)", b.selector(b.names.memWorkingSet, slot))
		return b.maybeLabelSwap(inner), nil
	case MaxMemory:
		inner := fmt.Sprintf("max by (container, pod, job) (%s)", b.selector(b.names.memWorkingSet, slot))
		return b.maybeLabelSwap(fmt.Sprintf("max_over_time(%s[%s:%s])", inner, durLiteral(w.History), durLiteral(w.Step))), nil
	case MemoryPoints:
		inner := fmt.Sprintf("max by (container, pod, job) (%s)", b.selector(b.names.memWorkingSet, slot))
		return b.maybeLabelSwap(fmt.Sprintf("count_over_time(%s[%s:%s])", inner, durLiteral(w.History), durLiteral(w.Step))), nil
	case OOMKilledMemory:
		return b.oomQuery(slot, w)
	default:
		return "", fmt.Errorf("promquery: unknown metric kind %v", kind)
	}
}

func (b *Builder) oomQuery(slot Slot, w Window) (string, error) {
	switch b.dialect {
	case Standard:
		termSel := b.selector(b.names.lastTerm, slot)
		// reason="OOMKilled" is an extra matcher on the same metric; inject
		// it before the closing brace.
		termSel = termSel[:len(termSel)-1] + `, reason="OOMKilled"}`
		memLimitSel := fmt.Sprintf(`kube_pod_container_resource_limits{namespace="%s", pod=~"%s", container="%s", resource="memory"}`,
			slot.Namespace, slot.PodRegexp, slot.Container)
		if b.cluster != nil {
			memLimitSel = memLimitSel[:len(memLimitSel)-1] + ", " + b.labelEq(b.cluster.Key, b.cluster.Value, false) + "}"
		}
		return fmt.Sprintf("max_over_time(%s[%s]) * on(pod, container) group_left() %s",
			termSel, durLiteral(w.History), memLimitSel), nil
	case GCPManaged, Anthos:
		// Inferred: memory_limit_bytes * restart_count, since GMP exposes
		// no terminated-reason signal. This is an approximation — any
		// restart with a high limit reads as an OOM event.
		limitInner := fmt.Sprintf("max by(pod,container,job) (%s)", b.selector(b.names.memLimit, slot))
		restartInner := fmt.Sprintf("max by(pod,container,job) (%s)", b.selector(b.names.restartCount, slot))
		expr := fmt.Sprintf("max_over_time((%s * on(pod,container,job) group_left() %s)[%s:%s])",
			limitInner, restartInner, durLiteral(w.History), durLiteral(w.Step))
		return b.maybeLabelSwap(expr), nil
	default:
		return "", fmt.Errorf("promquery: unsupported dialect %v", b.dialect)
	}
}

// PodOwnerQuery builds the kube_pod_owner lookup used by the discoverer to
// find a workload's pods (alive + recently deleted) without hitting the
// live Kubernetes API. Only meaningful on the Standard dialect; GCP/Anthos
// have no kube-state-metrics equivalent and the discoverer falls back to
// the live API there.
func (b *Builder) PodOwnerQuery(namespace, ownerKind, ownerNameRegexp string, history time.Duration) (string, bool) {
	if b.dialect != Standard {
		return "", false
	}
	return fmt.Sprintf(`last_over_time(%s{owner_name=~"%s", owner_kind="%s", namespace="%s"}[%s])`,
		b.names.podOwner, ownerNameRegexp, ownerKind, namespace, durLiteral(history)), true
}

// ReplicaOwnerQuery builds the kube_replicaset_owner /
// kube_replicationcontroller_owner / kube_job_owner lookup used to find a
// Deployment/DeploymentConfig/Rollout's owned ReplicaSets, or a CronJob's
// owned Jobs, including recently-deleted ones.
func (b *Builder) ReplicaOwnerQuery(kind, namespace, ownerNameRegexp string, history time.Duration) (string, bool) {
	if b.dialect != Standard {
		return "", false
	}
	var metric string
	switch kind {
	case "ReplicaSet":
		metric = b.names.rsOwner
	case "ReplicationController":
		metric = b.names.rcOwner
	case "Job":
		metric = b.names.jobOwner
	default:
		return "", false
	}
	return fmt.Sprintf(`last_over_time(%s{owner_name=~"%s", namespace="%s"}[%s])`,
		metric, ownerNameRegexp, namespace, durLiteral(history)), true
}

// PodPhaseQuery flags which pods are currently Running.
func (b *Builder) PodPhaseQuery(podNameRegexp string) (string, bool) {
	if b.dialect != Standard {
		return "", false
	}
	return fmt.Sprintf(`%s{phase="Running", pod=~"%s"}==1`, b.names.podPhase, podNameRegexp), true
}

// Validate parses expr as PromQL, failing loudly on a malformed template
// rather than letting it reach the Prometheus API and fail there.
func Validate(expr string) error {
	_, err := parser.ParseExpr(expr)
	return err
}

// EscapeRegexp is a small helper callers use to build a PodRegexp from a
// list of literal pod names, OR-joined and individually escaped.
func EscapeRegexp(names []string) string {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = regexp.QuoteMeta(n)
	}
	return strings.Join(escaped, "|")
}
