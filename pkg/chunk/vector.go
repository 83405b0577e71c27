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

package chunk

import (
	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// Vector is one column of a Chunk. Values live in a typed slice chosen
// by the physical type; validity lives in a Bitmap. A CONST vector
// stores a single value logically repeated.
type Vector struct {
	_typ       common.LType
	_phyFormat PhyFormat
	_mask      *util.Bitmap
	_data      any
}

func allocData(pt common.PhyType, cap int) any {
	switch pt {
	case common.BOOL:
		return make([]bool, cap)
	case common.INT32:
		return make([]int32, cap)
	case common.INT64:
		return make([]int64, cap)
	case common.UINT64:
		return make([]uint64, cap)
	case common.DOUBLE:
		return make([]float64, cap)
	case common.VARCHAR:
		return make([]string, cap)
	case common.DECIMAL:
		return make([]decimal.Decimal, cap)
	}
	panic("usp phy type")
}

func NewVector(typ common.LType, cap int) *Vector {
	return &Vector{
		_typ:       typ,
		_phyFormat: PF_FLAT,
		_mask:      &util.Bitmap{},
		_data:      allocData(typ.GetInternalType(), cap),
	}
}

func NewFlatVector(typ common.LType, cap int) *Vector {
	return NewVector(typ, cap)
}

func NewConstVector(typ common.LType) *Vector {
	vec := NewVector(typ, 1)
	vec._phyFormat = PF_CONST
	return vec
}

func (vec *Vector) Typ() common.LType {
	return vec._typ
}

func (vec *Vector) PhyFormat() PhyFormat {
	return vec._phyFormat
}

func (vec *Vector) SetPhyFormat(f PhyFormat) {
	vec._phyFormat = f
}

func (vec *Vector) Mask() *util.Bitmap {
	return vec._mask
}

func (vec *Vector) Capacity() int {
	switch data := vec._data.(type) {
	case []bool:
		return len(data)
	case []int32:
		return len(data)
	case []int64:
		return len(data)
	case []uint64:
		return len(data)
	case []float64:
		return len(data)
	case []string:
		return len(data)
	case []decimal.Decimal:
		return len(data)
	}
	return 0
}

func (vec *Vector) Reset() {
	vec._phyFormat = PF_FLAT
	vec._mask.Reset()
}

// Reference makes vec an alias of other, sharing data and mask.
func (vec *Vector) Reference(other *Vector) {
	util.AssertFunc(vec._typ.Equal(other._typ))
	vec._phyFormat = other._phyFormat
	vec._mask = other._mask
	vec._data = other._data
}

// rowIndex maps a logical row to a physical slot.
func (vec *Vector) rowIndex(idx int) int {
	if vec._phyFormat.IsConst() {
		return 0
	}
	return idx
}

func (vec *Vector) RowIsValid(idx int) bool {
	return vec._mask.RowIsValid(uint64(vec.rowIndex(idx)))
}

func GetSliceInPhyFormatFlat[T any](vec *Vector) []T {
	util.AssertFunc(vec._phyFormat.IsFlat())
	return vec._data.([]T)
}

func GetSliceInPhyFormatConst[T any](vec *Vector) []T {
	return vec._data.([]T)
}

// GetSliceAnyFormat reads the backing slice regardless of format;
// callers must index through rowIndex.
func GetSliceAnyFormat[T any](vec *Vector) []T {
	return vec._data.([]T)
}

func GetMaskInPhyFormatFlat(vec *Vector) *util.Bitmap {
	util.AssertFunc(vec._phyFormat.IsFlat())
	return vec._mask
}

func SetNullInPhyFormatFlat(vec *Vector, idx uint64, null bool) {
	util.AssertFunc(vec._phyFormat.IsFlat())
	if null && vec._mask.Invalid() {
		vec._mask.Init(vec.Capacity())
	}
	vec._mask.Set(idx, !null)
}

func SetNullInPhyFormatConst(vec *Vector, null bool) {
	util.AssertFunc(vec._phyFormat.IsConst())
	if null && vec._mask.Invalid() {
		vec._mask.Init(1)
	}
	vec._mask.Set(0, !null)
}

func IsNullInPhyFormatConst(vec *Vector) bool {
	util.AssertFunc(vec._phyFormat.IsConst())
	return !vec._mask.RowIsValid(0)
}

func sliceTyped[T any](dst *Vector, src *Vector, sel *SelectVector, count int) {
	dstSlice := dst._data.([]T)
	srcSlice := src._data.([]T)
	for i := 0; i < count; i++ {
		idx := src.rowIndex(sel.GetIndex(i))
		dstSlice[i] = srcSlice[idx]
	}
}

// Slice materializes count rows of other selected by sel into vec.
func (vec *Vector) Slice(other *Vector, sel *SelectVector, count int) {
	util.AssertFunc(vec._typ.Equal(other._typ))
	util.AssertFunc(count <= vec.Capacity())
	vec._phyFormat = PF_FLAT
	vec._mask = &util.Bitmap{}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		sliceTyped[bool](vec, other, sel, count)
	case common.INT32:
		sliceTyped[int32](vec, other, sel, count)
	case common.INT64:
		sliceTyped[int64](vec, other, sel, count)
	case common.UINT64:
		sliceTyped[uint64](vec, other, sel, count)
	case common.DOUBLE:
		sliceTyped[float64](vec, other, sel, count)
	case common.VARCHAR:
		sliceTyped[string](vec, other, sel, count)
	case common.DECIMAL:
		sliceTyped[decimal.Decimal](vec, other, sel, count)
	}
	for i := 0; i < count; i++ {
		if !other.RowIsValid(sel.GetIndex(i)) {
			SetNullInPhyFormatFlat(vec, uint64(i), true)
		}
	}
}

// SliceOnSelf compacts vec in place through sel.
func (vec *Vector) SliceOnSelf(sel *SelectVector, count int) {
	tmp := NewFlatVector(vec._typ, max(count, 1))
	tmp.Slice(vec, sel, count)
	vec._phyFormat = PF_FLAT
	vec._mask = tmp._mask
	vec._data = tmp._data
}

// Flatten turns a CONST vector into a FLAT one of count rows.
func (vec *Vector) Flatten(count int) {
	if vec._phyFormat.IsFlat() {
		return
	}
	null := IsNullInPhyFormatConst(vec)
	flat := NewFlatVector(vec._typ, max(count, 1))
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		fillConst[bool](flat, vec, count)
	case common.INT32:
		fillConst[int32](flat, vec, count)
	case common.INT64:
		fillConst[int64](flat, vec, count)
	case common.UINT64:
		fillConst[uint64](flat, vec, count)
	case common.DOUBLE:
		fillConst[float64](flat, vec, count)
	case common.VARCHAR:
		fillConst[string](flat, vec, count)
	case common.DECIMAL:
		fillConst[decimal.Decimal](flat, vec, count)
	}
	vec._phyFormat = PF_FLAT
	vec._mask = flat._mask
	vec._data = flat._data
	if null {
		for i := 0; i < count; i++ {
			SetNullInPhyFormatFlat(vec, uint64(i), true)
		}
	}
}

func fillConst[T any](dst *Vector, src *Vector, count int) {
	dstSlice := dst._data.([]T)
	srcSlice := src._data.([]T)
	for i := 0; i < count; i++ {
		dstSlice[i] = srcSlice[0]
	}
}

func (vec *Vector) GetValue(idx int) *Value {
	slot := vec.rowIndex(idx)
	if !vec._mask.RowIsValid(uint64(slot)) {
		return NullValue(vec._typ)
	}
	val := &Value{Typ: vec._typ}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		val.Bool = vec._data.([]bool)[slot]
	case common.INT32:
		val.I32 = vec._data.([]int32)[slot]
	case common.INT64:
		val.I64 = vec._data.([]int64)[slot]
	case common.UINT64:
		val.U64 = vec._data.([]uint64)[slot]
	case common.DOUBLE:
		val.F64 = vec._data.([]float64)[slot]
	case common.VARCHAR:
		val.Str = vec._data.([]string)[slot]
	case common.DECIMAL:
		val.Dec = vec._data.([]decimal.Decimal)[slot]
	default:
		panic("usp phy type")
	}
	return val
}

func (vec *Vector) SetValue(idx int, val *Value) {
	slot := vec.rowIndex(idx)
	if val.IsNull {
		if vec._mask.Invalid() {
			vec._mask.Init(vec.Capacity())
		}
		vec._mask.SetInvalid(uint64(slot))
		return
	}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		vec._data.([]bool)[slot] = val.Bool
	case common.INT32:
		vec._data.([]int32)[slot] = val.I32
	case common.INT64:
		vec._data.([]int64)[slot] = val.I64
	case common.UINT64:
		vec._data.([]uint64)[slot] = val.U64
	case common.DOUBLE:
		vec._data.([]float64)[slot] = val.F64
	case common.VARCHAR:
		vec._data.([]string)[slot] = val.Str
	case common.DECIMAL:
		vec._data.([]decimal.Decimal)[slot] = val.Dec
	default:
		panic("usp phy type")
	}
}
