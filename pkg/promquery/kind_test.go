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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind_IsRanged(t *testing.T) {
	ranged := map[Kind]bool{
		CPUUsage:        true,
		Memory:          true,
		PercentileCPU:   false,
		CPUPoints:       false,
		MaxMemory:       false,
		MemoryPoints:    false,
		OOMKilledMemory: false,
	}
	for k, want := range ranged {
		require.Equal(t, want, k.IsRanged(), k.String())
	}
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "CPUUsage", CPUUsage.String())
	require.Contains(t, Kind(42).String(), "Kind(42)")
}
