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

import "fmt"

// Kind identifies one entry in the fixed metric catalog a Strategy can
// request for a container slot.
type Kind int

const (
	CPUUsage Kind = iota
	PercentileCPU
	CPUPoints
	Memory
	MaxMemory
	MemoryPoints
	OOMKilledMemory
)

func (k Kind) String() string {
	switch k {
	case CPUUsage:
		return "CPUUsage"
	case PercentileCPU:
		return "PercentileCPU"
	case CPUPoints:
		return "CPUPoints"
	case Memory:
		return "Memory"
	case MaxMemory:
		return "MaxMemory"
	case MemoryPoints:
		return "MemoryPoints"
	case OOMKilledMemory:
		return "OOMKilledMemory"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsRanged reports whether kind's query should be executed with
// RangeQuery (one sample per step across the window) as opposed to
// InstantQuery (a single subquery-aggregated scalar per pod, evaluated
// "now"). Only the two raw time series are ranged; every other kind's
// template already folds the window into a bracketed subquery.
func (k Kind) IsRanged() bool {
	return k == CPUUsage || k == Memory
}

// PodOwnerQuery, ReplicaOwnerQuery and similar discovery-only queries have
// no per-Kind identity; they're built directly by the Builder's discovery
// methods since they're only ever used by pkg/discovery, never as part of
// a container's metric bundle.
