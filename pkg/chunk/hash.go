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
	"math"

	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

const (
	NULL_HASH = 0xbf58476d1ce4e5b9
)

func murmurhash64(x uint64) uint64 {
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	return x
}

func murmurhash32(x uint32) uint64 {
	return murmurhash64(uint64(x))
}

func CombineHashScalar(a, b uint64) uint64 {
	return (a * 0xbf58476d1ce4e5b9) ^ b
}

func hashRow(vec *Vector, idx int) uint64 {
	slot := vec.rowIndex(idx)
	if !vec._mask.RowIsValid(uint64(slot)) {
		return NULL_HASH
	}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		if vec._data.([]bool)[slot] {
			return murmurhash32(1)
		}
		return murmurhash32(0)
	case common.INT32:
		return murmurhash32(uint32(vec._data.([]int32)[slot]))
	case common.INT64:
		return murmurhash64(uint64(vec._data.([]int64)[slot]))
	case common.UINT64:
		return murmurhash64(vec._data.([]uint64)[slot])
	case common.DOUBLE:
		return murmurhash64(math.Float64bits(vec._data.([]float64)[slot]))
	case common.VARCHAR:
		return util.HashBytes([]byte(vec._data.([]string)[slot]))
	case common.DECIMAL:
		// canonical form so 1.0 and 1.00 hash identically
		d := vec._data.([]decimal.Decimal)[slot]
		return util.HashBytes([]byte(d.Trim(0).String()))
	}
	panic("usp phy type")
}

// HashTypeSwitch fills result (flat UBIGINT) with the hash of
// count rows of input chosen by sel.
func HashTypeSwitch(
	input *Vector,
	result *Vector,
	sel *SelectVector,
	count int,
	hasSel bool,
) {
	util.AssertFunc(result.Typ().Id == common.LTID_UBIGINT)
	resSlice := GetSliceInPhyFormatFlat[uint64](result)
	if hasSel {
		for i := 0; i < count; i++ {
			idx := sel.GetIndex(i)
			resSlice[idx] = hashRow(input, idx)
		}
	} else {
		for i := 0; i < count; i++ {
			resSlice[i] = hashRow(input, i)
		}
	}
}

// CombineHashTypeSwitch mixes the hash of input into hashes.
func CombineHashTypeSwitch(
	hashes *Vector,
	input *Vector,
	sel *SelectVector,
	count int,
	hasSel bool,
) {
	util.AssertFunc(hashes.Typ().Id == common.LTID_UBIGINT)
	resSlice := GetSliceInPhyFormatFlat[uint64](hashes)
	if hasSel {
		for i := 0; i < count; i++ {
			idx := sel.GetIndex(i)
			resSlice[idx] = CombineHashScalar(resSlice[idx], hashRow(input, idx))
		}
	} else {
		for i := 0; i < count; i++ {
			resSlice[i] = CombineHashScalar(resSlice[i], hashRow(input, i))
		}
	}
}
