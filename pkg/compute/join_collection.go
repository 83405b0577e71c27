package compute

import (
	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// RowCollection stores build-side rows in growable column buffers
// addressed by dense row id. Append happens single-threaded per owner;
// after the hash table is finalized the collection is read-only and
// shared by all probe workers.
type RowCollection struct {
	_types []common.LType
	_cols  []*colBuffer
	_count int
	_bytes int64
}

type colBuffer struct {
	_typ   common.LType
	_data  any
	_valid []bool
}

func newColBuffer(typ common.LType) *colBuffer {
	buf := &colBuffer{_typ: typ}
	switch typ.GetInternalType() {
	case common.BOOL:
		buf._data = make([]bool, 0)
	case common.INT32:
		buf._data = make([]int32, 0)
	case common.INT64:
		buf._data = make([]int64, 0)
	case common.UINT64:
		buf._data = make([]uint64, 0)
	case common.DOUBLE:
		buf._data = make([]float64, 0)
	case common.VARCHAR:
		buf._data = make([]string, 0)
	case common.DECIMAL:
		buf._data = make([]decimal.Decimal, 0)
	default:
		panic("usp phy type")
	}
	return buf
}

func NewRowCollection(types []common.LType) *RowCollection {
	rc := &RowCollection{
		_types: common.CopyLTypes(types...),
	}
	for _, typ := range rc._types {
		rc._cols = append(rc._cols, newColBuffer(typ))
	}
	return rc
}

func (rc *RowCollection) Count() int {
	return rc._count
}

func (rc *RowCollection) Types() []common.LType {
	return rc._types
}

func (rc *RowCollection) MemBytes() int64 {
	return rc._bytes
}

func appendTyped[T any](buf *colBuffer, vec *chunk.Vector, count int) {
	data := buf._data.([]T)
	src := chunk.GetSliceAnyFormat[T](vec)
	isConst := vec.PhyFormat().IsConst()
	for i := 0; i < count; i++ {
		slot := i
		if isConst {
			slot = 0
		}
		data = append(data, src[slot])
	}
	buf._data = data
}

func (buf *colBuffer) appendVector(vec *chunk.Vector, count int) int64 {
	added := int64(0)
	switch buf._typ.GetInternalType() {
	case common.BOOL:
		appendTyped[bool](buf, vec, count)
		added = int64(count)
	case common.INT32:
		appendTyped[int32](buf, vec, count)
		added = int64(count) * 4
	case common.INT64:
		appendTyped[int64](buf, vec, count)
		added = int64(count) * 8
	case common.UINT64:
		appendTyped[uint64](buf, vec, count)
		added = int64(count) * 8
	case common.DOUBLE:
		appendTyped[float64](buf, vec, count)
		added = int64(count) * 8
	case common.VARCHAR:
		data := buf._data.([]string)
		src := chunk.GetSliceAnyFormat[string](vec)
		isConst := vec.PhyFormat().IsConst()
		for i := 0; i < count; i++ {
			slot := i
			if isConst {
				slot = 0
			}
			data = append(data, src[slot])
			added += int64(16 + len(src[slot]))
		}
		buf._data = data
	case common.DECIMAL:
		appendTyped[decimal.Decimal](buf, vec, count)
		added = int64(count) * 16
	default:
		panic("usp phy type")
	}
	for i := 0; i < count; i++ {
		buf._valid = append(buf._valid, vec.RowIsValid(i))
	}
	return added
}

// AppendChunk adds all rows of input and returns the rough number of
// bytes the rows occupy, for memory accounting.
func (rc *RowCollection) AppendChunk(input *chunk.Chunk) int64 {
	util.AssertFunc(input.ColumnCount() == len(rc._cols))
	added := int64(0)
	for i, vec := range input.Data {
		added += rc._cols[i].appendVector(vec, input.Card())
	}
	rc._count += input.Card()
	rc._bytes += added
	return added
}

// Merge moves all rows of other into rc. Other must share the schema.
func (rc *RowCollection) Merge(other *RowCollection) {
	util.AssertFunc(len(rc._cols) == len(other._cols))
	for i, col := range rc._cols {
		switch col._typ.GetInternalType() {
		case common.BOOL:
			col._data = append(col._data.([]bool), other._cols[i]._data.([]bool)...)
		case common.INT32:
			col._data = append(col._data.([]int32), other._cols[i]._data.([]int32)...)
		case common.INT64:
			col._data = append(col._data.([]int64), other._cols[i]._data.([]int64)...)
		case common.UINT64:
			col._data = append(col._data.([]uint64), other._cols[i]._data.([]uint64)...)
		case common.DOUBLE:
			col._data = append(col._data.([]float64), other._cols[i]._data.([]float64)...)
		case common.VARCHAR:
			col._data = append(col._data.([]string), other._cols[i]._data.([]string)...)
		case common.DECIMAL:
			col._data = append(col._data.([]decimal.Decimal), other._cols[i]._data.([]decimal.Decimal)...)
		}
		col._valid = append(col._valid, other._cols[i]._valid...)
	}
	rc._count += other._count
	rc._bytes += other._bytes
}

func (rc *RowCollection) RowIsValid(colIdx int, row int) bool {
	return rc._cols[colIdx]._valid[row]
}

func gatherTyped[T any](buf *colBuffer, rows []int32, count int, result *chunk.Vector) {
	data := buf._data.([]T)
	resSlice := chunk.GetSliceInPhyFormatFlat[T](result)
	for i := 0; i < count; i++ {
		resSlice[i] = data[rows[i]]
	}
}

// Gather fills result[0:count] with column colIdx of the given rows.
func (rc *RowCollection) Gather(colIdx int, rows []int32, count int, result *chunk.Vector) {
	buf := rc._cols[colIdx]
	switch buf._typ.GetInternalType() {
	case common.BOOL:
		gatherTyped[bool](buf, rows, count, result)
	case common.INT32:
		gatherTyped[int32](buf, rows, count, result)
	case common.INT64:
		gatherTyped[int64](buf, rows, count, result)
	case common.UINT64:
		gatherTyped[uint64](buf, rows, count, result)
	case common.DOUBLE:
		gatherTyped[float64](buf, rows, count, result)
	case common.VARCHAR:
		gatherTyped[string](buf, rows, count, result)
	case common.DECIMAL:
		gatherTyped[decimal.Decimal](buf, rows, count, result)
	default:
		panic("usp phy type")
	}
	for i := 0; i < count; i++ {
		if !buf._valid[rows[i]] {
			chunk.SetNullInPhyFormatFlat(result, uint64(i), true)
		}
	}
}

// ValueAt reads one cell. Meant for comparisons and tests, not the
// hot emission path.
func (rc *RowCollection) ValueAt(colIdx int, row int) *chunk.Value {
	buf := rc._cols[colIdx]
	if !buf._valid[row] {
		return chunk.NullValue(buf._typ)
	}
	val := &chunk.Value{Typ: buf._typ}
	switch buf._typ.GetInternalType() {
	case common.BOOL:
		val.Bool = buf._data.([]bool)[row]
	case common.INT32:
		val.I32 = buf._data.([]int32)[row]
	case common.INT64:
		val.I64 = buf._data.([]int64)[row]
	case common.UINT64:
		val.U64 = buf._data.([]uint64)[row]
	case common.DOUBLE:
		val.F64 = buf._data.([]float64)[row]
	case common.VARCHAR:
		val.Str = buf._data.([]string)[row]
	case common.DECIMAL:
		val.Dec = buf._data.([]decimal.Decimal)[row]
	}
	return val
}

// ToChunks materializes the collection back into chunks of at most
// blockSize rows, in row-id order.
func (rc *RowCollection) ToChunks(blockSize int) []*chunk.Chunk {
	if blockSize <= 0 {
		blockSize = util.DefaultVectorSize
	}
	ret := make([]*chunk.Chunk, 0)
	rows := make([]int32, blockSize)
	for base := 0; base < rc._count; base += blockSize {
		cnt := min(blockSize, rc._count-base)
		for i := 0; i < cnt; i++ {
			rows[i] = int32(base + i)
		}
		out := &chunk.Chunk{}
		out.Init(rc._types, blockSize)
		for c := range rc._cols {
			rc.Gather(c, rows, cnt, out.Data[c])
		}
		out.SetCard(cnt)
		ret = append(ret, out)
	}
	return ret
}
