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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
)

func intervalTypes() []common.LType {
	return []common.LType{
		common.BigintType(),
		common.BigintType(),
		common.VarcharType(),
	}
}

// makeIntervals builds one (start, end, name) chunk. start < 0 makes
// the start null.
func makeIntervals(rows ...[3]any) *chunk.Chunk {
	c := &chunk.Chunk{}
	c.Init(intervalTypes(), max(len(rows), 1))
	starts := chunk.GetSliceInPhyFormatFlat[int64](c.Data[0])
	ends := chunk.GetSliceInPhyFormatFlat[int64](c.Data[1])
	names := chunk.GetSliceInPhyFormatFlat[string](c.Data[2])
	for i, row := range rows {
		s := int64(row[0].(int))
		if s < 0 {
			chunk.SetNullInPhyFormatFlat(c.Data[0], uint64(i), true)
		} else {
			starts[i] = s
		}
		ends[i] = int64(row[1].(int))
		names[i] = row[2].(string)
	}
	c.SetCard(len(rows))
	return c
}

func rangeSpec() *RangeJoinSpec {
	return &RangeJoinSpec{
		LeftTypes:     intervalTypes(),
		RightTypes:    intervalTypes(),
		LeftStartCol:  0,
		LeftEndCol:    1,
		RightStartCol: 0,
		RightEndCol:   1,
	}
}

func runRange(
	t *testing.T,
	left, right []*chunk.Chunk,
) []string {
	rj, err := NewRangeJoin(rangeSpec())
	require.NoError(t, err)
	for _, c := range left {
		require.NoError(t, rj.AddLeft(c))
	}
	rj.FinishLeft()
	for _, c := range right {
		require.NoError(t, rj.AddRight(c))
	}
	sink := &CollectSink{}
	require.NoError(t, rj.Execute(sink))
	require.Equal(t, RJ_DONE, rj.Stage())

	var ret []string
	for _, out := range sink.Chunks() {
		for i := 0; i < out.Card(); i++ {
			ret = append(ret, fmt.Sprintf("%s-%s",
				out.Data[2].GetValue(i).Str,
				out.Data[5].GetValue(i).Str))
		}
	}
	sort.Strings(ret)
	return ret
}

func TestRangeJoinIntersections(t *testing.T) {
	left := []*chunk.Chunk{makeIntervals(
		[3]any{0, 10, "a"},
		[3]any{5, 6, "b"},
		[3]any{20, 25, "c"},
	)}
	right := []*chunk.Chunk{makeIntervals(
		[3]any{4, 5, "x"},
		[3]any{9, 21, "y"},
		[3]any{30, 40, "z"},
	)}
	got := runRange(t, left, right)
	assert.Equal(t, []string{"a-x", "a-y", "b-x", "c-y"}, got)
}

func TestRangeJoinTouchingBoundsMatch(t *testing.T) {
	left := []*chunk.Chunk{makeIntervals([3]any{0, 5, "a"})}
	right := []*chunk.Chunk{makeIntervals([3]any{5, 9, "x"})}
	assert.Equal(t, []string{"a-x"}, runRange(t, left, right))
}

func TestRangeJoinDisjoint(t *testing.T) {
	left := []*chunk.Chunk{makeIntervals([3]any{0, 1, "a"})}
	right := []*chunk.Chunk{makeIntervals([3]any{2, 3, "x"})}
	assert.Empty(t, runRange(t, left, right))
}

func TestRangeJoinNullBoundsNeverPair(t *testing.T) {
	left := []*chunk.Chunk{makeIntervals(
		[3]any{-1, 100, "n"},
		[3]any{0, 10, "a"},
	)}
	right := []*chunk.Chunk{makeIntervals([3]any{1, 2, "x"})}
	assert.Equal(t, []string{"a-x"}, runRange(t, left, right))
}

func TestRangeJoinManyPairsBatches(t *testing.T) {
	//every left interval overlaps every right one: output spans
	//several blocks
	var leftRows, rightRows [][3]any
	for i := 0; i < 100; i++ {
		leftRows = append(leftRows, [3]any{i, 5000, fmt.Sprintf("l%d", i)})
		rightRows = append(rightRows, [3]any{i, 5000, fmt.Sprintf("r%d", i)})
	}
	spec := rangeSpec()
	spec.BlockSize = 64
	rj, err := NewRangeJoin(spec)
	require.NoError(t, err)
	require.NoError(t, rj.AddLeft(makeIntervals(leftRows...)))
	rj.FinishLeft()
	require.NoError(t, rj.AddRight(makeIntervals(rightRows...)))
	sink := &CollectSink{}
	require.NoError(t, rj.Execute(sink))
	assert.Equal(t, 100*100, sink.Rows())
	assert.Greater(t, len(sink.Chunks()), 1)
}

func TestRangeJoinRejectsUnsortedInput(t *testing.T) {
	rj, err := NewRangeJoin(rangeSpec())
	require.NoError(t, err)
	err = rj.AddLeft(makeIntervals([3]any{5, 6, "a"}, [3]any{1, 2, "b"}))
	assert.ErrorContains(t, err, "not sorted")
}

func TestRangeJoinSpecValidate(t *testing.T) {
	bad := rangeSpec()
	bad.LeftStartCol = 9
	_, err := NewRangeJoin(bad)
	assert.ErrorContains(t, err, "out of range")

	bad = rangeSpec()
	bad.RightEndCol = 2 //varchar
	_, err = NewRangeJoin(bad)
	assert.ErrorContains(t, err, "integral")
}
