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

package scanner

import "time"

// Config is the explicit, fully-populated configuration the core
// consumes. There is no reflection-driven flag derivation here: a CLI
// layer, entirely out of scope, is responsible for populating this struct
// from flags/env and handing it to the Runner constructor.
type Config struct {
	HistoryDurationHours      float64
	TimeframeDurationMinutes  float64
	PointsRequired            int
	MaxWorkers                int
	CPUMinMillicores          int64
	MemMinMiB                 int64
	AllowHPA                  bool
	UseOOMKillData            bool
	ClusterLabelKey           string
	ClusterLabelValue         string
	PrometheusDialectOverride string // "standard" | "gcp" | "anthos" | ""

	// OwnerBatchSize is not read by the Runner; discovery takes its batch
	// size from discovery.Filter.OwnerBatchSize.
	OwnerBatchSize int
	// PrometheusRateLimitPerSecond and PrometheusBurst bound the
	// per-backend rate limiter — defaults respect GMP's ~180 req/min
	// ceiling when left at zero.
	PrometheusRateLimitPerSecond float64
	PrometheusBurst              int
	PrometheusConcurrency        int
}

// DefaultConfig returns the scan pipeline's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		HistoryDurationHours:         336,
		TimeframeDurationMinutes:     1.25,
		PointsRequired:               100,
		MaxWorkers:                   10,
		CPUMinMillicores:             10,
		MemMinMiB:                    100,
		AllowHPA:                     false,
		UseOOMKillData:               true,
		OwnerBatchSize:               200,
		PrometheusRateLimitPerSecond: 3, // 180/min
		PrometheusBurst:              10,
		PrometheusConcurrency:        10,
	}
}

func (c Config) History() time.Duration {
	return time.Duration(c.HistoryDurationHours * float64(time.Hour))
}

func (c Config) Step() time.Duration {
	return time.Duration(c.TimeframeDurationMinutes * float64(time.Minute))
}

func (c Config) MemMinBytes() int64 {
	return c.MemMinMiB * 1024 * 1024
}
