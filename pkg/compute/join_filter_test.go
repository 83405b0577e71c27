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
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

func int64Keys(vals ...int64) *chunk.Vector {
	vec := chunk.NewFlatVector(common.BigintType(), max(len(vals), 1))
	slice := chunk.GetSliceInPhyFormatFlat[int64](vec)
	copy(slice, vals)
	return vec
}

func TestRuntimeFilterNoFalseNegatives(t *testing.T) {
	rf := NewRuntimeFilter(7, common.BigintType())
	require.NoError(t, rf.Collect(int64Keys(10, 20, 30), 3))
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(int64Keys(10, 20, 30, 15, 99), 5, sel)
	require.NoError(t, err)
	//collected keys always pass
	passed := map[int]bool{}
	for i := 0; i < kept; i++ {
		passed[sel.GetIndex(i)] = true
	}
	assert.True(t, passed[0])
	assert.True(t, passed[1])
	assert.True(t, passed[2])
	//15 is inside min/max but not collected: the exact set drops it
	assert.False(t, passed[3])
	//99 is outside min/max
	assert.False(t, passed[4])
}

func TestRuntimeFilterPassAllForVarchar(t *testing.T) {
	rf := NewRuntimeFilter(1, common.VarcharType())
	require.NoError(t, rf.Publish())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(int64Keys(1, 2, 3), 3, sel)
	require.NoError(t, err)
	assert.Equal(t, 3, kept)
}

func TestRuntimeFilterEmptyBuildMatchesNothing(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	require.NoError(t, rf.Publish())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(int64Keys(1, 2), 2, sel)
	require.NoError(t, err)
	assert.Equal(t, 0, kept)
}

func TestRuntimeFilterPublishOnce(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	require.NoError(t, rf.Publish())
	assert.ErrorIs(t, rf.Publish(), ErrFilterPublished)
	//collecting after publication fails too
	assert.ErrorIs(t, rf.Collect(int64Keys(1), 1), ErrFilterPublished)
}

func TestRuntimeFilterEvaluateBeforePublish(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	_, err := rf.Evaluate(int64Keys(1), 1, sel)
	assert.ErrorIs(t, err, ErrFilterNotReady)
}

func TestRuntimeFilterConcurrentCollect(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		worker := int64(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				assert.NoError(t, rf.Collect(int64Keys(worker*500+i), 1))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rf.Publish())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	keys := make([]int64, 0, 2000)
	for i := int64(0); i < 2000; i++ {
		keys = append(keys, i)
	}
	vec := int64Keys(keys...)
	kept, err := rf.Evaluate(vec, len(keys), sel)
	require.NoError(t, err)
	assert.Equal(t, len(keys), kept)
}

func TestRuntimeFilterWideDomainFallsBack(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	//domain too wide for the exact set, min/max still filters
	require.NoError(t, rf.Collect(int64Keys(0, 1<<30), 2))
	require.NoError(t, rf.Publish())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(int64Keys(5, -1, 1<<31), 3, sel)
	require.NoError(t, err)
	//5 passes min/max conservatively. the others are out of range
	assert.Equal(t, 1, kept)
	assert.Equal(t, 0, sel.GetIndex(0))
}

func TestRuntimeFilterSkipsNullKeys(t *testing.T) {
	rf := NewRuntimeFilter(1, common.BigintType())
	keys := int64Keys(5, 0)
	chunk.SetNullInPhyFormatFlat(keys, 1, true)
	require.NoError(t, rf.Collect(keys, 2))
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	probe := int64Keys(5, 0)
	chunk.SetNullInPhyFormatFlat(probe, 1, true)
	kept, err := rf.Evaluate(probe, 2, sel)
	require.NoError(t, err)
	//the null probe key can never equi-match
	assert.Equal(t, 1, kept)
	assert.Equal(t, 0, sel.GetIndex(0))
}

func collectRange(t *testing.T, rf *RuntimeFilter, lo, hi, step int64) {
	t.Helper()
	batch := make([]int64, 0, util.DefaultVectorSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		require.NoError(t, rf.Collect(int64Keys(batch...), len(batch)))
		batch = batch[:0]
	}
	for v := lo; v < hi; v += step {
		batch = append(batch, v)
		if len(batch) == util.DefaultVectorSize {
			flush()
		}
	}
	flush()
}

func TestRuntimeFilterNdvFallsBackToMinMax(t *testing.T) {
	rf := NewRuntimeFilter(2, common.BigintType())
	//2^17 distinct even keys in a narrow domain: too many to stay exact
	collectRange(t, rf, 0, 1<<18, 2)
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	//5 was never collected but sits inside min/max. a min/max-only
	//filter keeps it where an exact set would drop it.
	kept, err := rf.Evaluate(int64Keys(5, -3), 2, sel)
	require.NoError(t, err)
	require.Equal(t, 1, kept)
	assert.Equal(t, 0, sel.GetIndex(0))
}

func TestRuntimeFilterLowNdvStaysExact(t *testing.T) {
	//duplicates do not cost exactness: the distinct count decides
	rf := NewRuntimeFilter(2, common.BigintType())
	batch := make([]int64, util.DefaultVectorSize)
	for i := range batch {
		batch[i] = int64(i % 3 * 10)
	}
	for n := 0; n < 64; n++ {
		require.NoError(t, rf.Collect(int64Keys(batch...), len(batch)))
	}
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(int64Keys(5), 1, sel)
	require.NoError(t, err)
	assert.Equal(t, 0, kept)
}

func TestRuntimeFilterHighNdvPassesAll(t *testing.T) {
	rf := NewRuntimeFilter(2, common.BigintType())
	collectRange(t, rf, 0, 5<<20, 1)
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	//even out-of-range keys pass once the filter has given up
	kept, err := rf.Evaluate(int64Keys(-100, 1<<40), 2, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
}

func TestRuntimeFilterExtremeKeyDomain(t *testing.T) {
	//min and max at the int64 extremes must not wrap the domain width
	//into a tiny number and drag the filter into exact mode
	rf := NewRuntimeFilter(3, common.BigintType())
	require.NoError(t, rf.Collect(
		int64Keys(math.MinInt64, math.MaxInt64), 2))
	require.NoError(t, rf.Publish())

	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := rf.Evaluate(
		int64Keys(math.MinInt64, 0, math.MaxInt64), 3, sel)
	require.NoError(t, err)
	//min/max spans everything here, so every key passes
	assert.Equal(t, 3, kept)
}
