package compute

import (
	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// Scan walks one probe chunk against a finalized hash table. Each call
// to Next resolves at most one candidate pairing per probe row, so a
// probe row matching k build rows surfaces across k iterations, in
// bucket chain order.
type Scan struct {
	_ht       *JoinHashTable
	_visited  *util.AtomicBitmap
	_residual Predicate

	_probe *chunk.Chunk
	_keys  *chunk.Chunk

	//current chain position per probe row
	_rows       []int32
	_selVec     *chunk.SelectVector
	_count      int
	_foundMatch []bool
	_keyValid   []bool
	_finished   bool

	//scratch for residual evaluation
	_candProbe []int
	_candBuild []int32
	_candOk    []bool
}

func NewScan(ht *JoinHashTable, visited *util.AtomicBitmap, residual Predicate) *Scan {
	return &Scan{
		_ht:       ht,
		_visited:  visited,
		_residual: residual,
		_selVec:   chunk.NewSelectVector(util.DefaultVectorSize),
		_rows:     make([]int32, util.DefaultVectorSize),
	}
}

// Init prepares the scan for one probe chunk. Null-key probe rows are
// kept out of the chain walk; they surface only through the unmatched
// paths of the outer, anti and mark variants.
func (scan *Scan) Init(probe *chunk.Chunk, keyCols []int) {
	probe.Flatten()
	scan._probe = probe
	scan._keys = &chunk.Chunk{}
	for _, kc := range keyCols {
		vec := chunk.NewFlatVector(probe.Data[kc].Typ(), probe.Cap())
		vec.Reference(probe.Data[kc])
		scan._keys.Data = append(scan._keys.Data, vec)
	}
	scan._keys.SetCap(probe.Cap())
	scan._keys.SetCard(probe.Card())

	scan._finished = false
	scan._foundMatch = make([]bool, probe.Card())
	scan._keyValid = make([]bool, probe.Card())

	//filter null keys
	valid := 0
	for i := 0; i < probe.Card(); i++ {
		ok := true
		for _, vec := range scan._keys.Data {
			if !vec.RowIsValid(i) {
				ok = false
				break
			}
		}
		scan._keyValid[i] = ok
		if ok {
			scan._selVec.SetIndex(valid, i)
			valid++
		}
	}
	scan._count = valid
	if valid == 0 || scan._ht.Count() == 0 {
		scan._count = 0
		return
	}

	//hash and map to bucket heads
	hashVec := scan.hashKeys()
	hashSlice := chunk.GetSliceInPhyFormatFlat[uint64](hashVec)
	nonEmpty := 0
	for i := 0; i < valid; i++ {
		idx := scan._selVec.GetIndex(i)
		head := scan._ht.head(hashSlice[idx])
		scan._rows[idx] = head
		if head != emptyChain {
			scan._selVec.SetIndex(nonEmpty, idx)
			nonEmpty++
		}
	}
	scan._count = nonEmpty
}

func (scan *Scan) hashKeys() *chunk.Vector {
	result := chunk.NewFlatVector(
		scan._ht._types[scan._ht._hashCol],
		max(scan._probe.Card(), 1))
	chunk.HashTypeSwitch(scan._keys.Data[0], result, nil, scan._probe.Card(), false)
	for i := 1; i < len(scan._keys.Data); i++ {
		chunk.CombineHashTypeSwitch(result, scan._keys.Data[i], nil, scan._probe.Card(), false)
	}
	return result
}

func (scan *Scan) Next(result *chunk.Chunk) error {
	if scan._finished {
		return nil
	}
	switch scan._ht._joinType {
	case JT_INNER, JT_RIGHT:
		return scan.NextInnerJoin(result)
	case JT_LEFT, JT_FULL:
		return scan.NextLeftJoin(result)
	case JT_SEMI:
		return scan.NextSemiJoin(result)
	case JT_ANTI:
		return scan.NextAntiJoin(result)
	case JT_MARK:
		return scan.NextMarkJoin(result)
	}
	panic("usp join type")
}

// resolveMatches splits current candidates into matches and the rest.
// Matches passed key equality and the residual predicate.
func (scan *Scan) resolveMatches(
	matchSel *chunk.SelectVector,
	noMatchSel *chunk.SelectVector,
) (int, int, error) {
	candCnt := 0
	if cap(scan._candProbe) < scan._count {
		scan._candProbe = make([]int, util.DefaultVectorSize)
		scan._candBuild = make([]int32, util.DefaultVectorSize)
		scan._candOk = make([]bool, util.DefaultVectorSize)
	}
	noMatchCnt := 0
	for i := 0; i < scan._count; i++ {
		idx := scan._selVec.GetIndex(i)
		row := scan._rows[idx]
		if scan._ht.compareKeys(scan._keys, idx, row) {
			scan._candProbe[candCnt] = idx
			scan._candBuild[candCnt] = row
			candCnt++
		} else if noMatchSel != nil {
			noMatchSel.SetIndex(noMatchCnt, idx)
			noMatchCnt++
		}
	}
	if scan._residual != nil && candCnt > 0 {
		err := scan._residual.Select(
			scan._probe,
			scan._candProbe,
			scan._ht._collection,
			scan._candBuild,
			candCnt,
			scan._candOk,
		)
		if err != nil {
			return 0, 0, err
		}
		kept := 0
		for i := 0; i < candCnt; i++ {
			if scan._candOk[i] {
				scan._candProbe[kept] = scan._candProbe[i]
				scan._candBuild[kept] = scan._candBuild[i]
				kept++
			} else if noMatchSel != nil {
				noMatchSel.SetIndex(noMatchCnt, scan._candProbe[i])
				noMatchCnt++
			}
		}
		candCnt = kept
	}
	for i := 0; i < candCnt; i++ {
		matchSel.SetIndex(i, scan._candProbe[i])
	}
	return candCnt, noMatchCnt, nil
}

func (scan *Scan) advancePointers(sel *chunk.SelectVector, cnt int) {
	newCnt := 0
	for i := 0; i < cnt; i++ {
		idx := sel.GetIndex(i)
		scan._rows[idx] = scan._ht.chainNext(scan._rows[idx])
		if scan._rows[idx] != emptyChain {
			scan._selVec.SetIndex(newCnt, idx)
			newCnt++
		}
	}
	scan._count = newCnt
}

func (scan *Scan) advancePointers2() {
	scan.advancePointers(scan._selVec, scan._count)
}

func (scan *Scan) NextInnerJoin(result *chunk.Chunk) error {
	probeCols := scan._probe.ColumnCount()
	util.AssertFunc(result.ColumnCount() == probeCols+scan._ht.BuildColumnCount())
	matchSel := chunk.NewSelectVector(util.DefaultVectorSize)
	for scan._count > 0 {
		resCnt, _, err := scan.resolveMatches(matchSel, nil)
		if err != nil {
			return err
		}
		if resCnt == 0 {
			scan.advancePointers2()
			continue
		}
		for i := 0; i < resCnt; i++ {
			scan._foundMatch[matchSel.GetIndex(i)] = true
			if scan._visited != nil {
				scan._visited.Set(int(scan._candBuild[i]))
			}
		}
		//probe part
		result.Slice(scan._probe, matchSel, resCnt, 0)
		//build part
		for c := 0; c < scan._ht.BuildColumnCount(); c++ {
			scan._ht._collection.Gather(c, scan._candBuild, resCnt, result.Data[probeCols+c])
		}
		result.SetCard(resCnt)
		scan.advancePointers2()
		return nil
	}
	result.SetCard(0)
	return nil
}

func (scan *Scan) NextLeftJoin(result *chunk.Chunk) error {
	err := scan.NextInnerJoin(result)
	if err != nil {
		return err
	}
	if result.Card() == 0 {
		//no more matches. emit unmatched probe rows null-extended.
		remaining := 0
		sel := chunk.NewSelectVector(util.DefaultVectorSize)
		for i := 0; i < scan._probe.Card(); i++ {
			if !scan._foundMatch[i] {
				sel.SetIndex(remaining, i)
				remaining++
			}
		}
		if remaining > 0 {
			result.Slice(scan._probe, sel, remaining, 0)
			for i := scan._probe.ColumnCount(); i < result.ColumnCount(); i++ {
				vec := result.Data[i]
				vec.SetPhyFormat(chunk.PF_CONST)
				chunk.SetNullInPhyFormatConst(vec, true)
			}
			result.SetCard(remaining)
		}
		scan._finished = true
	}
	return nil
}

// ScanKeyMatches drains every chain, only recording match existence.
func (scan *Scan) ScanKeyMatches() error {
	matchSel := chunk.NewSelectVector(util.DefaultVectorSize)
	noMatchSel := chunk.NewSelectVector(util.DefaultVectorSize)
	for scan._count > 0 {
		matchCnt, noMatchCnt, err := scan.resolveMatches(matchSel, noMatchSel)
		if err != nil {
			return err
		}
		for i := 0; i < matchCnt; i++ {
			scan._foundMatch[matchSel.GetIndex(i)] = true
		}
		scan.advancePointers(noMatchSel, noMatchCnt)
	}
	return nil
}

func (scan *Scan) nextSemiOrAntiJoin(result *chunk.Chunk, match bool) {
	util.AssertFunc(scan._probe.ColumnCount() == result.ColumnCount())
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	resCnt := 0
	for i := 0; i < scan._probe.Card(); i++ {
		if scan._foundMatch[i] == match {
			sel.SetIndex(resCnt, i)
			resCnt++
		}
	}
	if resCnt > 0 {
		result.Slice(scan._probe, sel, resCnt, 0)
		result.SetCard(resCnt)
	}
}

func (scan *Scan) NextSemiJoin(result *chunk.Chunk) error {
	if err := scan.ScanKeyMatches(); err != nil {
		return err
	}
	scan.nextSemiOrAntiJoin(result, true)
	scan._finished = true
	return nil
}

func (scan *Scan) NextAntiJoin(result *chunk.Chunk) error {
	if err := scan.ScanKeyMatches(); err != nil {
		return err
	}
	scan.nextSemiOrAntiJoin(result, false)
	scan._finished = true
	return nil
}

func (scan *Scan) NextMarkJoin(result *chunk.Chunk) error {
	util.AssertFunc(util.Back(result.Data).Typ().Id == common.LTID_BOOLEAN)
	if err := scan.ScanKeyMatches(); err != nil {
		return err
	}
	scan.constructMarkJoinResult(result)
	scan._finished = true
	return nil
}

func (scan *Scan) constructMarkJoinResult(result *chunk.Chunk) {
	result.SetCard(scan._probe.Card())
	sel := chunk.IncrSelectVectorInPhyFormatFlat()
	for i := 0; i < scan._probe.ColumnCount(); i++ {
		result.Data[i].Slice(scan._probe.Data[i], sel, scan._probe.Card())
	}
	markVec := util.Back(result.Data)
	markVec.SetPhyFormat(chunk.PF_FLAT)
	markSlice := chunk.GetSliceInPhyFormatFlat[bool](markVec)
	for i := 0; i < scan._probe.Card(); i++ {
		markSlice[i] = scan._foundMatch[i]
		//unknown: no match provable either way. an empty build side
		//stays false, nulls and all.
		if !scan._foundMatch[i] && scan._ht.BuildSideRows() > 0 &&
			(!scan._keyValid[i] || scan._ht.HasNullKeys()) {
			chunk.SetNullInPhyFormatFlat(markVec, uint64(i), true)
		}
	}
}

// FullOuterScan emits build rows never visited by any probe worker.
// Exactly one worker may drive it per hash table.
type FullOuterScan struct {
	_ht          *JoinHashTable
	_visited     *util.AtomicBitmap
	_probeColCnt int
	_pos         int
}

func NewFullOuterScan(ht *JoinHashTable, visited *util.AtomicBitmap, probeColCnt int) *FullOuterScan {
	return &FullOuterScan{
		_ht:          ht,
		_visited:     visited,
		_probeColCnt: probeColCnt,
	}
}

// Next fills result with unmatched build rows, probe side null-padded.
// Returns 0 rows when exhausted.
func (fo *FullOuterScan) Next(result *chunk.Chunk) {
	rowCnt := fo._ht._collection.Count()
	rows := make([]int32, 0, util.DefaultVectorSize)
	for fo._pos < rowCnt && len(rows) < result.Cap() {
		if !fo._visited.IsSet(fo._pos) {
			rows = append(rows, int32(fo._pos))
		}
		fo._pos++
	}
	if len(rows) == 0 {
		result.SetCard(0)
		return
	}
	for i := 0; i < fo._probeColCnt; i++ {
		vec := result.Data[i]
		vec.SetPhyFormat(chunk.PF_CONST)
		chunk.SetNullInPhyFormatConst(vec, true)
	}
	for c := 0; c < fo._ht.BuildColumnCount(); c++ {
		fo._ht._collection.Gather(c, rows, len(rows), result.Data[fo._probeColCnt+c])
	}
	result.SetCard(len(rows))
}
