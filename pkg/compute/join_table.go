package compute

import (
	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

const (
	emptyChain = int32(-1)
)

// JoinHashTable is a chained hash table over a RowCollection. Buckets
// hold the head row id; each row links to the previous head through
// _next. It is built exactly once (per join instance, or per spill
// partition in the restore rounds) and is read-only afterwards.
type JoinHashTable struct {
	//full build schema plus one trailing hash column
	_types    []common.LType
	_keyCols  []int
	_hashCol  int
	_joinType JoinType

	_collection *RowCollection

	_heads     []int32
	_next      []int32
	_bitmask   uint64
	_count     int
	_hasNull   bool
	_finalized bool

	//rows of the whole build side. equals the collection count except
	//in restore rounds, where the build side spans many partitions and
	//mark joins need the global answer.
	_buildSideRows int
}

func NewJoinHashTable(
	buildTypes []common.LType,
	keyCols []int,
	joinTyp JoinType,
) *JoinHashTable {
	jht := &JoinHashTable{
		_keyCols:  keyCols,
		_joinType: joinTyp,
	}
	jht._types = common.CopyLTypes(buildTypes...)
	jht._types = append(jht._types, common.HashType())
	jht._hashCol = len(buildTypes)
	jht._collection = NewRowCollection(jht._types)
	return jht
}

func (jht *JoinHashTable) Collection() *RowCollection {
	return jht._collection
}

func (jht *JoinHashTable) BuildColumnCount() int {
	return jht._hashCol
}

// Append hashes the key columns of input and stores the rows. Rows
// with a null key stay in the collection (right and full outer joins
// emit them as unmatched) but are never linked into a bucket.
func (jht *JoinHashTable) Append(input *chunk.Chunk) int64 {
	util.AssertFunc(!jht._finalized)
	if input.Card() == 0 {
		return 0
	}
	input.Flatten()
	hashes := jht.HashKeys(input)

	source := &chunk.Chunk{}
	source.Init(jht._types, input.Card())
	for i := 0; i < input.ColumnCount(); i++ {
		source.Data[i].Reference(input.Data[i])
	}
	source.Data[jht._hashCol].Reference(hashes)
	source.SetCard(input.Card())
	return jht._collection.AppendChunk(source)
}

// HashKeys returns the combined key hash of every row of input.
func (jht *JoinHashTable) HashKeys(input *chunk.Chunk) *chunk.Vector {
	hashes := chunk.NewFlatVector(common.HashType(), max(input.Card(), 1))
	chunk.HashTypeSwitch(input.Data[jht._keyCols[0]], hashes, nil, input.Card(), false)
	for i := 1; i < len(jht._keyCols); i++ {
		chunk.CombineHashTypeSwitch(hashes, input.Data[jht._keyCols[i]], nil, input.Card(), false)
	}
	return hashes
}

func (jht *JoinHashTable) keyRowIsValid(row int) bool {
	for _, kc := range jht._keyCols {
		if !jht._collection.RowIsValid(kc, row) {
			return false
		}
	}
	return true
}

func pointerTableCap(cnt int) int {
	return max(int(util.NextPowerOfTwo(uint64(cnt*2))), 1024)
}

// Finalize builds the bucket table. Chain order is insertion order
// reversed (prepend), which is deterministic for a given append order.
func (jht *JoinHashTable) Finalize() {
	util.AssertFunc(!jht._finalized)
	rowCnt := jht._collection.Count()
	pCap := pointerTableCap(rowCnt)
	util.AssertFunc(util.IsPowerOfTwo(uint64(pCap)))
	jht._heads = make([]int32, pCap)
	for i := range jht._heads {
		jht._heads[i] = emptyChain
	}
	jht._next = make([]int32, rowCnt)
	jht._bitmask = uint64(pCap - 1)

	hashBuf := jht._collection._cols[jht._hashCol]._data.([]uint64)
	for row := 0; row < rowCnt; row++ {
		jht._next[row] = emptyChain
		if !jht.keyRowIsValid(row) {
			jht._hasNull = true
			continue
		}
		bucket := hashBuf[row] & jht._bitmask
		jht._next[row] = jht._heads[bucket]
		jht._heads[bucket] = int32(row)
		jht._count++
	}
	jht._buildSideRows = rowCnt
	jht._finalized = true
}

// BuildSideRows is the row count of the entire build side, not just
// the rows behind this table.
func (jht *JoinHashTable) BuildSideRows() int {
	return jht._buildSideRows
}

// Count is the number of rows reachable from the bucket table.
func (jht *JoinHashTable) Count() int {
	return jht._count
}

func (jht *JoinHashTable) HasNullKeys() bool {
	return jht._hasNull
}

func (jht *JoinHashTable) head(hash uint64) int32 {
	return jht._heads[hash&jht._bitmask]
}

func (jht *JoinHashTable) chainNext(row int32) int32 {
	return jht._next[row]
}

func compareKeyTyped[T comparable](
	probeVec *chunk.Vector,
	probeRow int,
	buf *colBuffer,
	buildRow int32,
) bool {
	probeSlice := chunk.GetSliceAnyFormat[T](probeVec)
	return probeSlice[probeRow] == buf._data.([]T)[buildRow]
}

// compareKeys checks key equality of one probe row against one build
// row. Null keys never match; callers filtered null probe keys before
// hashing and null build keys never enter a chain.
func (jht *JoinHashTable) compareKeys(
	keys *chunk.Chunk,
	probeRow int,
	buildRow int32,
) bool {
	for i, kc := range jht._keyCols {
		probeVec := keys.Data[i]
		buf := jht._collection._cols[kc]
		switch probeVec.Typ().GetInternalType() {
		case common.BOOL:
			if !compareKeyTyped[bool](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.INT32:
			if !compareKeyTyped[int32](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.INT64:
			if !compareKeyTyped[int64](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.UINT64:
			if !compareKeyTyped[uint64](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.DOUBLE:
			if !compareKeyTyped[float64](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.VARCHAR:
			if !compareKeyTyped[string](probeVec, probeRow, buf, buildRow) {
				return false
			}
		case common.DECIMAL:
			probeSlice := chunk.GetSliceAnyFormat[decimal.Decimal](probeVec)
			buildVal := buf._data.([]decimal.Decimal)[buildRow]
			if probeSlice[probeRow].Cmp(buildVal) != 0 {
				return false
			}
		default:
			panic("usp phy type")
		}
	}
	return true
}
