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
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/joinexec/pkg/chunk"
)

func manySide(rows int, prefix string) []*chunk.Chunk {
	var ret []*chunk.Chunk
	const step = 512
	for off := 0; off < rows; off += step {
		specs := make([][2]any, 0, step)
		for i := off; i < min(off+step, rows); i++ {
			specs = append(specs, [2]any{i, fmt.Sprintf("%s%d", prefix, i)})
		}
		ret = append(ret, makeSide(specs...))
	}
	return ret
}

func spillSpec(joinTyp JoinType, tempDir string) *JoinSpec {
	spec := baseSpec(joinTyp)
	spec.Workers = 2
	spec.SpillThreshold = 1 << 12
	spec.SpillPartitions = 4
	spec.TempDir = tempDir
	return spec
}

// the spilled run must produce the same multiset as the in-memory one
func TestSpillMatchesInMemory(t *testing.T) {
	for _, joinTyp := range []JoinType{
		JT_INNER, JT_LEFT, JT_RIGHT, JT_FULL, JT_SEMI, JT_ANTI, JT_MARK,
	} {
		memSink := runJoin(t, baseSpec(joinTyp),
			manySide(2000, "b"), manySide(3000, "p"))

		tempDir := t.TempDir()
		spec := spillSpec(joinTyp, tempDir)
		sink := runJoin(t, spec, manySide(2000, "b"), manySide(3000, "p"))

		assert.Equal(t, sinkRows(memSink), sinkRows(sink),
			joinTyp.String())

		//spill files removed after the run
		entries, err := os.ReadDir(tempDir)
		require.NoError(t, err)
		assert.Empty(t, entries, joinTyp.String())
	}
}

// a null probe key can land in a build partition that holds no rows.
// the tri-state mark answer still comes from the whole build side:
// non-empty build plus an unknowable key is NULL, not false.
func TestSpillMarkJoinNullProbeKey(t *testing.T) {
	spec := spillSpec(JT_MARK, t.TempDir())
	spec.SpillThreshold = 1
	sink := runJoin(t, spec,
		[]*chunk.Chunk{makeSide([2]any{1, "a"})},
		[]*chunk.Chunk{makeSide([2]any{-1, "z"})})
	assert.Equal(t, []string{"-1|z|NULL"}, sinkRowsMark(sink))
}

// unmatched probe rows must see the null build key even when it
// spilled into a different partition than theirs
func TestSpillMarkJoinNullBuildKey(t *testing.T) {
	spec := spillSpec(JT_MARK, t.TempDir())
	spec.SpillThreshold = 1
	sink := runJoin(t, spec,
		[]*chunk.Chunk{makeSide([2]any{1, "a"}, [2]any{-1, "b"})},
		[]*chunk.Chunk{
			makeSide([2]any{7, "x"}, [2]any{23, "y"}, [2]any{101, "z"}),
		})
	assert.Equal(t,
		[]string{"101|z|NULL", "23|y|NULL", "7|x|NULL"},
		sinkRowsMark(sink))
}

func TestSpillActuallyTriggers(t *testing.T) {
	spec := spillSpec(JT_INNER, t.TempDir())
	sink := &CollectSink{}
	pipe, err := NewJoinPipeline(spec,
		NewSliceSource(manySide(2000, "b")),
		NewSliceSource(manySide(2000, "p")),
		sink)
	require.NoError(t, err)
	require.NoError(t, pipe.Run(context.Background()))
	assert.Equal(t, JM_SPILL, pipe.State().Mode())
	assert.Equal(t, 2000, sink.Rows())
}

func TestSpillDistinctKeys(t *testing.T) {
	//1000 distinct keys per side, 4 of them shared
	var buildRows, probeRows [][2]any
	for i := 0; i < 1000; i++ {
		buildRows = append(buildRows, [2]any{i, fmt.Sprintf("b%d", i)})
		probeRows = append(probeRows, [2]any{i + 996, fmt.Sprintf("p%d", i)})
	}
	spec := spillSpec(JT_INNER, t.TempDir())
	sink := runJoin(t, spec,
		[]*chunk.Chunk{makeSide(buildRows...)},
		[]*chunk.Chunk{makeSide(probeRows...)})
	assert.Equal(t, 4, sink.Rows())
}

func TestSpillManagerRouting(t *testing.T) {
	sm, err := NewSpillManager(t.TempDir(), 8)
	require.NoError(t, err)
	defer sm.Cleanup()

	//rows with the same hash land in the same partition on both sides
	input := makeSide([2]any{1, "a"}, [2]any{2, "b"}, [2]any{3, "c"})
	hashes := hashKeyColumns(input, []int{0})
	require.NoError(t, sm.SpillPartitioned(SPILL_BUILD, input, hashes))
	probe := makeSide([2]any{2, "x"})
	require.NoError(t,
		sm.SpillPartitioned(SPILL_PROBE, probe, hashKeyColumns(probe, []int{0})))
	require.NoError(t, sm.FinishWrites(SPILL_BUILD))
	require.NoError(t, sm.FinishWrites(SPILL_PROBE))

	hashSlice := chunk.GetSliceInPhyFormatFlat[uint64](hashes)
	wantPart := sm.PartitionIndex(hashSlice[1])
	assert.Equal(t, 1, sm.PartitionRows(SPILL_PROBE, wantPart))

	//replay returns the build rows of that partition in write order
	got := 0
	err = sm.LoadPartition(SPILL_BUILD, wantPart, func(c *chunk.Chunk) error {
		got += c.Card()
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, 1)
}

func TestSpillManagerCleanup(t *testing.T) {
	base := t.TempDir()
	sm, err := NewSpillManager(base, 2)
	require.NoError(t, err)
	input := makeSide([2]any{1, "a"})
	require.NoError(t,
		sm.SpillPartitioned(SPILL_BUILD, input, hashKeyColumns(input, []int{0})))
	sm.Cleanup()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
