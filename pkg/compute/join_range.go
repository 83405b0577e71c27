// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package compute

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

type RangeJoinStage int

const (
	RJ_SCAN_LEFT RangeJoinStage = iota
	RJ_SCAN_RIGHT
	RJ_EMIT
	RJ_DONE
)

// RangeJoinSpec describes an interval intersection join. Each side
// carries a [start, end] column pair; a left row pairs with a right
// row when l.start <= r.end && l.end >= r.start.
type RangeJoinSpec struct {
	LeftTypes  []common.LType
	RightTypes []common.LType

	LeftStartCol  int
	LeftEndCol    int
	RightStartCol int
	RightEndCol   int

	BlockSize int
}

func (spec *RangeJoinSpec) validate() error {
	check := func(col int, types []common.LType, what string) error {
		if col < 0 || col >= len(types) {
			return fmt.Errorf("range join %s column %d out of range", what, col)
		}
		if !types[col].IsIntegral() {
			return fmt.Errorf("range join %s column must be integral, got %s",
				what, types[col].String())
		}
		return nil
	}
	if err := check(spec.LeftStartCol, spec.LeftTypes, "left start"); err != nil {
		return err
	}
	if err := check(spec.LeftEndCol, spec.LeftTypes, "left end"); err != nil {
		return err
	}
	if err := check(spec.RightStartCol, spec.RightTypes, "right start"); err != nil {
		return err
	}
	return check(spec.RightEndCol, spec.RightTypes, "right end")
}

func (spec *RangeJoinSpec) blockSize() int {
	if spec.BlockSize > 0 {
		return spec.BlockSize
	}
	return util.DefaultVectorSize
}

// windowItem is one live interval inside the sweep window, keyed by
// end so expired intervals pop off the front first.
type windowItem struct {
	_end int64
	_row int32
}

func windowItemLess(a, b windowItem) bool {
	if a._end != b._end {
		return a._end < b._end
	}
	return a._row < b._row
}

type rangeSide struct {
	_rows  *RowCollection
	_start []int64
	_end   []int64
	//sweep cursor and live window
	_pos    int
	_window *btree.BTreeG[windowItem]

	//sortedness check over non-null rows
	_lastStart int64
	_seenStart bool
}

func newRangeSide(types []common.LType) *rangeSide {
	return &rangeSide{
		_rows:   NewRowCollection(types),
		_window: btree.NewBTreeG[windowItem](windowItemLess),
	}
}

// RangeJoin joins two interval inputs with a merge sweep. Both sides
// must arrive sorted ascending on their start column; rows with a null
// start or end never pair. Single-threaded: the planner picks this
// path for small non-equi inputs where hashing does not apply.
type RangeJoin struct {
	_spec  *RangeJoinSpec
	_stage RangeJoinStage
	_left  *rangeSide
	_right *rangeSide
}

func NewRangeJoin(spec *RangeJoinSpec) (*RangeJoin, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &RangeJoin{
		_spec:  spec,
		_stage: RJ_SCAN_LEFT,
		_left:  newRangeSide(spec.LeftTypes),
		_right: newRangeSide(spec.RightTypes),
	}, nil
}

func (rj *RangeJoin) Stage() RangeJoinStage {
	return rj._stage
}

func (rj *RangeJoin) AddLeft(input *chunk.Chunk) error {
	util.AssertFunc(rj._stage == RJ_SCAN_LEFT)
	return rj.addSide(rj._left, input, rj._spec.LeftTypes,
		rj._spec.LeftStartCol, rj._spec.LeftEndCol)
}

// FinishLeft seals the left input. Right chunks may arrive afterward.
func (rj *RangeJoin) FinishLeft() {
	util.AssertFunc(rj._stage == RJ_SCAN_LEFT)
	rj._stage = RJ_SCAN_RIGHT
}

func (rj *RangeJoin) AddRight(input *chunk.Chunk) error {
	util.AssertFunc(rj._stage == RJ_SCAN_RIGHT)
	return rj.addSide(rj._right, input, rj._spec.RightTypes,
		rj._spec.RightStartCol, rj._spec.RightEndCol)
}

func (rj *RangeJoin) addSide(
	side *rangeSide,
	input *chunk.Chunk,
	types []common.LType,
	startCol, endCol int,
) error {
	if err := schemaMatch(input, types); err != nil {
		return err
	}
	input.Flatten()
	base := side._rows.Count()
	side._rows.AppendChunk(input)
	for i := 0; i < input.Card(); i++ {
		start, startOk := intervalBound(input.Data[startCol], i)
		end, endOk := intervalBound(input.Data[endCol], i)
		if !startOk || !endOk {
			//null bound. park an empty interval that matches nothing.
			start, end = 0, -1
		} else {
			if side._seenStart && start < side._lastStart {
				return fmt.Errorf("range join input not sorted on start at row %d",
					base+i)
			}
			side._lastStart = start
			side._seenStart = true
		}
		side._start = append(side._start, start)
		side._end = append(side._end, end)
	}
	return nil
}

func intervalBound(vec *chunk.Vector, row int) (int64, bool) {
	if !vec.RowIsValid(row) {
		return 0, false
	}
	switch vec.Typ().GetInternalType() {
	case common.INT32:
		return int64(chunk.GetSliceInPhyFormatFlat[int32](vec)[row]), true
	case common.INT64:
		return chunk.GetSliceInPhyFormatFlat[int64](vec)[row], true
	case common.UINT64:
		return int64(chunk.GetSliceInPhyFormatFlat[uint64](vec)[row]), true
	}
	panic("usp interval bound type")
}

// Execute runs the sweep and pushes every intersecting pair to sink.
// Output schema is left columns then right columns.
func (rj *RangeJoin) Execute(sink BatchSink) error {
	util.AssertFunc(rj._stage == RJ_SCAN_RIGHT)
	rj._stage = RJ_EMIT

	out := newRangeOutput(rj._spec, rj._left._rows, rj._right._rows, sink)
	left, right := rj._left, rj._right
	for left._pos < len(left._start) || right._pos < len(right._start) {
		//advance the side with the smaller next start
		takeLeft := right._pos >= len(right._start) ||
			(left._pos < len(left._start) &&
				left._start[left._pos] <= right._start[right._pos])
		if takeLeft {
			if err := rj.step(left, right, out, true); err != nil {
				return err
			}
		} else {
			if err := rj.step(right, left, out, false); err != nil {
				return err
			}
		}
	}
	if err := out.flush(); err != nil {
		return err
	}
	rj._stage = RJ_DONE
	return nil
}

// step admits one row from side, expires the other window up to its
// start, and pairs it with every still-live row over there.
func (rj *RangeJoin) step(
	side, other *rangeSide,
	out *rangeOutput,
	sideIsLeft bool,
) error {
	row := side._pos
	start, end := side._start[row], side._end[row]
	side._pos++
	if end < start {
		return nil
	}
	//intervals ending before start can never intersect later rows:
	//starts only grow from here on
	for {
		item, ok := other._window.Min()
		if !ok || item._end >= start {
			break
		}
		other._window.Delete(item)
	}
	var err error
	other._window.Scan(func(item windowItem) bool {
		if sideIsLeft {
			err = out.pair(int32(row), item._row)
		} else {
			err = out.pair(item._row, int32(row))
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	side._window.Set(windowItem{_end: end, _row: int32(row)})
	return nil
}

// rangeOutput batches emitted pairs into chunks.
type rangeOutput struct {
	_spec  *RangeJoinSpec
	_left  *RowCollection
	_right *RowCollection
	_sink  BatchSink

	_pairs []util.Pair[int32, int32]
}

func newRangeOutput(
	spec *RangeJoinSpec,
	left, right *RowCollection,
	sink BatchSink,
) *rangeOutput {
	return &rangeOutput{
		_spec:  spec,
		_left:  left,
		_right: right,
		_sink:  sink,
	}
}

func (out *rangeOutput) pair(leftRow, rightRow int32) error {
	out._pairs = append(out._pairs,
		util.Pair[int32, int32]{First: leftRow, Second: rightRow})
	if len(out._pairs) >= out._spec.blockSize() {
		return out.flush()
	}
	return nil
}

func (out *rangeOutput) flush() error {
	cnt := len(out._pairs)
	if cnt == 0 {
		return nil
	}
	leftRows := make([]int32, cnt)
	rightRows := make([]int32, cnt)
	for i, p := range out._pairs {
		leftRows[i] = p.First
		rightRows[i] = p.Second
	}
	types := append(common.CopyLTypes(out._spec.LeftTypes...),
		out._spec.RightTypes...)
	result := &chunk.Chunk{}
	result.Init(types, cnt)
	for c := 0; c < len(out._spec.LeftTypes); c++ {
		out._left.Gather(c, leftRows, cnt, result.Data[c])
	}
	off := len(out._spec.LeftTypes)
	for c := 0; c < len(out._spec.RightTypes); c++ {
		out._right.Gather(c, rightRows, cnt, result.Data[off+c])
	}
	result.SetCard(cnt)
	out._pairs = out._pairs[:0]
	return out._sink.Push(result)
}
