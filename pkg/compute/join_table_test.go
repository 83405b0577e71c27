// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/joinexec/pkg/chunk"
)

func buildTable(t *testing.T, chunks ...*chunk.Chunk) *JoinHashTable {
	table := NewJoinHashTable(sideTypes(), []int{0}, JT_INNER)
	for _, c := range chunks {
		table.Append(c)
	}
	table.Finalize()
	return table
}

func TestHashTableEveryRowReachable(t *testing.T) {
	const rows = 1000
	specs := make([][2]any, 0, rows)
	for i := 0; i < rows; i++ {
		specs = append(specs, [2]any{i, fmt.Sprintf("v%d", i)})
	}
	table := buildTable(t, makeSide(specs...))
	require.Equal(t, rows, table.Count())

	//walk every bucket chain. all non-null rows must appear once
	seen := make(map[int32]bool)
	input := makeSide(specs...)
	hashes := table.HashKeys(input)
	hashSlice := chunk.GetSliceInPhyFormatFlat[uint64](hashes)
	for i := 0; i < rows; i++ {
		found := false
		for row := table.head(hashSlice[i]); row != emptyChain; row = table.chainNext(row) {
			if int(row) == i {
				found = true
			}
			seen[row] = true
		}
		assert.True(t, found, "row %d not reachable from its bucket", i)
	}
	assert.LessOrEqual(t, len(seen), rows)
}

func TestHashTableNullKeysUnchained(t *testing.T) {
	table := buildTable(t,
		makeSide([2]any{1, "a"}, [2]any{-1, "n"}, [2]any{2, "b"}))
	//the null row is stored for outer scans but never probed
	assert.Equal(t, 3, table.Collection().Count())
	assert.Equal(t, 2, table.Count())
	assert.True(t, table.HasNullKeys())

	clean := buildTable(t, makeSide([2]any{1, "a"}))
	assert.False(t, clean.HasNullKeys())
}

func TestHashTableChainOrderDeterministic(t *testing.T) {
	mk := func() *JoinHashTable {
		return buildTable(t,
			makeSide([2]any{7, "a"}, [2]any{7, "b"}),
			makeSide([2]any{7, "c"}))
	}
	a, b := mk(), mk()
	input := makeSide([2]any{7, "x"})
	ha := chunk.GetSliceInPhyFormatFlat[uint64](a.HashKeys(input))[0]

	var walkA, walkB []int32
	for row := a.head(ha); row != emptyChain; row = a.chainNext(row) {
		walkA = append(walkA, row)
	}
	for row := b.head(ha); row != emptyChain; row = b.chainNext(row) {
		walkB = append(walkB, row)
	}
	assert.Equal(t, walkA, walkB)
	assert.Len(t, walkA, 3)
	//chains prepend: the last appended row heads the chain
	assert.Equal(t, int32(2), walkA[0])
}

func TestHashTableEmpty(t *testing.T) {
	table := buildTable(t)
	assert.Equal(t, 0, table.Count())
	assert.False(t, table.HasNullKeys())
}
