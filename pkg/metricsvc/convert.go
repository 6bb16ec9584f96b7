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

package metricsvc

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	apierr "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// trailingStatusCode matches the literal HTTP status the client embeds in
// its generic "client error: 401" / "server error: 503" messages (see
// statusCode) when a response doesn't parse as Prometheus's structured
// JSON error envelope.
var trailingStatusCode = regexp.MustCompile(`(\d{3})\s*$`)

// toSeries normalizes a Prometheus API result (Matrix, Vector, or Scalar)
// into the service's pod/container-keyed Series. Labels are already
// renamed to "pod"/"container" by the query builder's label_replace
// wrapping on GCP/Anthos; here we just read the standard names.
func toSeries(v model.Value) []Series {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case model.Matrix:
		out := make([]Series, 0, len(val))
		for _, stream := range val {
			samples := make([]Sample, len(stream.Values))
			for i, p := range stream.Values {
				samples[i] = Sample{TimestampSeconds: int64(p.Timestamp) / 1000, Value: float64(p.Value)}
			}
			out = append(out, Series{
				Pod:       string(stream.Metric["pod"]),
				Container: string(stream.Metric["container"]),
				Samples:   samples,
			})
		}
		return out
	case model.Vector:
		out := make([]Series, 0, len(val))
		for _, sample := range val {
			out = append(out, Series{
				Pod:       string(sample.Metric["pod"]),
				Container: string(sample.Metric["container"]),
				Samples:   []Sample{{TimestampSeconds: int64(sample.Timestamp) / 1000, Value: float64(sample.Value)}},
			})
		}
		return out
	case *model.Scalar:
		return []Series{{Samples: []Sample{{TimestampSeconds: int64(val.Timestamp) / 1000, Value: float64(val.Value)}}}}
	default:
		return nil
	}
}

// statusCode extracts the HTTP status code the Prometheus client attaches
// to an error, or 0 if err carries none (connect/read errors, context
// errors) — treated as transient per errtype.Retryable.
func statusCode(err error) int {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return int(apiErr.StatusCode)
	}
	var v1err *v1.Error
	if errors.As(err, &v1err) {
		switch v1err.Type {
		case v1.ErrBadData:
			return 400
		case v1.ErrTimeout:
			return 504
		case v1.ErrCanceled:
			return 499
		case v1.ErrExec:
			return 422
		case v1.ErrServer, v1.ErrClient:
			// For any response code the client doesn't recognize as a
			// structured Prometheus error body (not exactly 400 or 422),
			// it collapses the real status into a generic ErrClient/
			// ErrServer type and records the literal code only in the
			// message text ("client error: 401", "server error: 503").
			// Recover it so 401/403 auth errors are still classifiable.
			if m := trailingStatusCode.FindStringSubmatch(v1err.Msg); m != nil {
				if code, convErr := strconv.Atoi(m[1]); convErr == nil {
					return code
				}
			}
			if v1err.Type == v1.ErrServer {
				return 500
			}
			return 400
		}
	}
	return 0
}

// isRangeTooLarge recognizes the handful of error shapes Prometheus-
// compatible backends (notably GMP) use to reject an over-wide range
// query outright, as opposed to truncating it silently.
func isRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exceeded maximum resolution") ||
		strings.Contains(msg, "query is outside") ||
		strings.Contains(msg, "too many points") ||
		strings.Contains(msg, http.StatusText(http.StatusRequestEntityTooLarge))
}
