package compute

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

const (
	RF_BUILDING int32 = iota
	RF_READY
)

const (
	//widest key domain kept as an exact membership set
	rfExactDomain = 1 << 20
	//highest build ndv kept as an exact membership set. above this the
	//filter falls back to min/max only.
	rfExactNdv = 1 << 16
	//build ndv beyond which min/max prunes next to nothing and the
	//filter degenerates to pass-all
	rfPassAllNdv = 1 << 22
	//raw values buffered before collection stops. memory guard only;
	//the ndv estimate makes the exactness call.
	rfCollectCap = 1 << 20
)

// RuntimeFilter summarizes the build-side key set so the probe-side
// scan can drop rows early. It must be conservative: a published
// filter may pass keys that are not in the build set but must never
// reject one that is. Non-integral key types degenerate to pass-all,
// as do build sides whose estimated ndv makes pruning pointless.
type RuntimeFilter struct {
	_id  int
	_typ common.LType

	mu       sync.Mutex
	_state   atomic.Int32
	_passAll bool
	_hasRows bool
	_min     int64
	_max     int64
	_vals    []int64
	_sketch  *hyperloglog.Sketch

	//published representation
	_set     *bitset.BitSet
	_setBase int64
	_exact   bool
}

func NewRuntimeFilter(id int, typ common.LType) *RuntimeFilter {
	rf := &RuntimeFilter{
		_id:  id,
		_typ: typ,
	}
	if !typ.IsIntegral() {
		rf._passAll = true
	} else {
		rf._vals = make([]int64, 0, 1024)
		rf._sketch = hyperloglog.New14()
	}
	return rf
}

func (rf *RuntimeFilter) Id() int {
	return rf._id
}

func (rf *RuntimeFilter) State() int32 {
	return rf._state.Load()
}

func keyAt(vec *chunk.Vector, idx int) int64 {
	switch vec.Typ().GetInternalType() {
	case common.INT32:
		return int64(chunk.GetSliceAnyFormat[int32](vec)[idx])
	case common.INT64:
		return chunk.GetSliceAnyFormat[int64](vec)[idx]
	case common.UINT64:
		return int64(chunk.GetSliceAnyFormat[uint64](vec)[idx])
	}
	panic("usp filter key type")
}

// Collect feeds build-side key values. Called concurrently by build
// workers; null keys are skipped since they never equi-match.
func (rf *RuntimeFilter) Collect(keys *chunk.Vector, count int) error {
	if rf._state.Load() != RF_BUILDING {
		return ErrFilterPublished
	}
	if rf._passAll {
		return nil
	}
	keys.Flatten(count)
	rf.mu.Lock()
	defer rf.mu.Unlock()
	var buf [8]byte
	for i := 0; i < count; i++ {
		if !keys.RowIsValid(i) {
			continue
		}
		v := keyAt(keys, i)
		if !rf._hasRows || v < rf._min {
			rf._min = v
		}
		if !rf._hasRows || v > rf._max {
			rf._max = v
		}
		rf._hasRows = true
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		rf._sketch.Insert(buf[:])
		if rf._vals != nil && len(rf._vals) < rfCollectCap {
			rf._vals = append(rf._vals, v)
		} else {
			rf._vals = nil
		}
	}
	if rf._vals != nil && rf._sketch.Estimate() > rfExactNdv {
		//too many distinct keys to stay exact
		rf._vals = nil
	}
	return nil
}

// Publish freezes the filter. Exactly one caller wins the transition;
// later calls fail.
func (rf *RuntimeFilter) Publish() error {
	if !rf._state.CompareAndSwap(RF_BUILDING, RF_READY) {
		return ErrFilterPublished
	}
	if rf._passAll {
		return nil
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if !rf._hasRows {
		//empty build side. the filter matches nothing.
		return nil
	}
	ndv := rf._sketch.Estimate()
	if ndv > rfPassAllNdv {
		//min/max over this many distinct keys prunes next to nothing
		rf._passAll = true
		rf._vals = nil
		util.Debug("runtime filter published",
			zap.Int("id", rf._id),
			zap.Bool("pass all", true),
			zap.Uint64("ndv estimate", ndv))
		return nil
	}
	//unsigned subtraction: min and max can sit at the int64 extremes,
	//where max-min overflows signed arithmetic
	span := uint64(rf._max) - uint64(rf._min)
	if rf._vals != nil && span < rfExactDomain && ndv <= rfExactNdv {
		rf._set = bitset.New(uint(span) + 1)
		for _, v := range rf._vals {
			rf._set.Set(uint(v - rf._min))
		}
		rf._setBase = rf._min
		rf._exact = true
	}
	util.Debug("runtime filter published",
		zap.Int("id", rf._id),
		zap.Bool("exact", rf._exact),
		zap.Uint64("ndv estimate", ndv))
	rf._vals = nil
	return nil
}

// Evaluate fills sel with the probe rows that may have a build match
// and returns their count. Must only be called after Publish.
func (rf *RuntimeFilter) Evaluate(keys *chunk.Vector, count int, sel *chunk.SelectVector) (int, error) {
	if rf._state.Load() != RF_READY {
		return 0, ErrFilterNotReady
	}
	if rf._passAll {
		for i := 0; i < count; i++ {
			sel.SetIndex(i, i)
		}
		return count, nil
	}
	keys.Flatten(count)
	kept := 0
	for i := 0; i < count; i++ {
		if !keys.RowIsValid(i) {
			//null never equi-matches
			continue
		}
		if !rf._hasRows {
			continue
		}
		v := keyAt(keys, i)
		if v < rf._min || v > rf._max {
			continue
		}
		if rf._exact && !rf._set.Test(uint(v-rf._setBase)) {
			continue
		}
		sel.SetIndex(kept, i)
		kept++
	}
	return kept, nil
}
