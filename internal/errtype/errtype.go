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

// Package errtype declares the error taxonomy shared by every scan-pipeline
// component, so callers can distinguish recoverable per-slot failures from
// per-cluster aborts with errors.As instead of string matching.
package errtype

import "fmt"

// Transient wraps a backend failure the caller should retry (5xx, 408, 429,
// connect/read errors). It surfaces as BackendError once retries are spent.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// Backend reports a query that failed after exhausting retries, or a
// backend-reported semantic failure. The current metric kind is recorded
// empty with a warning; the scan continues.
type Backend struct {
	Op  string
	Err error
}

func (e *Backend) Error() string { return fmt.Sprintf("backend error during %s: %v", e.Op, e.Err) }
func (e *Backend) Unwrap() error { return e.Err }

// Auth reports a 401/403 from Kubernetes or Prometheus. The cluster that
// produced it is aborted; other clusters continue.
type Auth struct {
	Cluster string
	Err     error
}

func (e *Auth) Error() string {
	return fmt.Sprintf("auth error against cluster %q: %v", e.Cluster, e.Err)
}
func (e *Auth) Unwrap() error { return e.Err }

// InsufficientData reports a bundle with fewer samples than points_required.
type InsufficientData struct {
	Resource string
	Have     int
	Need     int
}

func (e *InsufficientData) Error() string {
	return fmt.Sprintf("insufficient %s data: have %d points, need %d", e.Resource, e.Have, e.Need)
}

// UnsupportedMetric reports a metric kind the active dialect cannot express.
// It is never fatal: the caller treats it as an empty series plus a warning.
type UnsupportedMetric struct {
	Kind    string
	Dialect string
}

func (e *UnsupportedMetric) Error() string {
	return fmt.Sprintf("metric kind %q has no equivalent on dialect %q", e.Kind, e.Dialect)
}

// Strategy reports a strategy that panicked or produced a malformed result.
type Strategy struct {
	Container string
	Err       error
}

func (e *Strategy) Error() string {
	return fmt.Sprintf("strategy failed for container %q: %v", e.Container, e.Err)
}
func (e *Strategy) Unwrap() error { return e.Err }

// Cancelled reports the run-level cancel token firing.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "scan cancelled" }

// Retryable reports whether an HTTP status code allows a retry:
// 5xx, 408, and 429 are retryable; other 4xx are not.
func Retryable(statusCode int) bool {
	if statusCode == 0 {
		// No HTTP status attached (connect/read error) — treat as transient.
		return true
	}
	if statusCode == 408 || statusCode == 429 {
		return true
	}
	return statusCode >= 500
}
