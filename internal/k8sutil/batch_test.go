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

package k8sutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatch_SplitsIntoChunksOfSize(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	got := Batch(names, 2)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
}

func TestBatch_SizeLargerThanInputReturnsOneChunk(t *testing.T) {
	names := []string{"a", "b"}
	got := Batch(names, 10)
	require.Equal(t, [][]string{{"a", "b"}}, got)
}

func TestBatch_NonPositiveSizeReturnsOneChunk(t *testing.T) {
	names := []string{"a", "b", "c"}
	require.Equal(t, [][]string{{"a", "b", "c"}}, Batch(names, 0))
	require.Equal(t, [][]string{{"a", "b", "c"}}, Batch(names, -1))
}

func TestBatch_EmptyInputReturnsNil(t *testing.T) {
	require.Nil(t, Batch(nil, 5))
	require.Nil(t, Batch([]string{}, 5))
}
