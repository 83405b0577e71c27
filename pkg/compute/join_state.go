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
	"context"
	"sync"
	"sync/atomic"

	"github.com/liyue201/gostl/ds/deque"
	"go.uber.org/zap"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// BatchSink receives output chunks. Push may be called concurrently
// from several workers.
type BatchSink interface {
	Push(out *chunk.Chunk) error
}

// buildLocal buffers one worker's build input. Append order inside a
// local is preserved, and FinishBuild merges locals in worker order,
// so a fixed input-to-worker assignment yields one deterministic
// chain layout.
type buildLocal struct {
	mu      sync.Mutex
	_chunks []*chunk.Chunk
	_hashes []*chunk.Vector
}

// HashJoinState is the shared coordination state of one join instance.
// All workers hold the same state and drive it through the build
// barrier, the probe phase and the probe barrier.
type HashJoinState struct {
	_spec *JoinSpec

	_buildBarrier *util.Barrier
	_probeBarrier *util.Barrier

	_locals  []*buildLocal
	_memUsed atomic.Int64

	_mode   atomic.Int32
	_modeMu sync.Mutex
	_spill  *SpillManager

	_table   atomic.Pointer[JoinHashTable]
	_visited *util.AtomicBitmap
	_filter  *RuntimeFilter
	//any null build key seen, across all partitions. mark joins need
	//the global answer, not the per-partition one.
	_buildHasNull atomic.Bool
	//rows appended to the build side, across all partitions
	_buildRows atomic.Int64

	_stage atomic.Int32

	_ready chan struct{}

	_failOnce sync.Once
	_failErr  error
	_aborted  chan struct{}
}

func NewHashJoinState(spec *JoinSpec) (*HashJoinState, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	spec = spec.Clone()
	st := &HashJoinState{
		_spec:         spec,
		_buildBarrier: util.NewBarrier(spec.Workers),
		_probeBarrier: util.NewBarrier(spec.Workers),
		_ready:        make(chan struct{}),
		_aborted:      make(chan struct{}),
	}
	for i := 0; i < spec.Workers; i++ {
		st._locals = append(st._locals, &buildLocal{})
	}
	if spec.FilterId >= 0 && filterableJoinType(spec.JoinTyp) {
		st._filter = NewRuntimeFilter(spec.FilterId,
			spec.BuildTypes[spec.BuildKeyCols[0]])
	}
	st._stage.Store(int32(HJS_BUILD))
	return st, nil
}

// filterableJoinType reports whether probe rows rejected by the
// runtime filter can be dropped without changing the result. Types
// that emit unmatched probe rows cannot prune.
func filterableJoinType(jt JoinType) bool {
	switch jt {
	case JT_INNER, JT_SEMI, JT_RIGHT:
		return true
	}
	return false
}

func (st *HashJoinState) Spec() *JoinSpec {
	return st._spec
}

func (st *HashJoinState) Mode() JoinMode {
	return JoinMode(st._mode.Load())
}

func (st *HashJoinState) Stage() HashJoinStage {
	return HashJoinStage(st._stage.Load())
}

func (st *HashJoinState) Filter() *RuntimeFilter {
	return st._filter
}

// schemaMatch checks an input chunk against one side's schema and the
// vector size cap.
func schemaMatch(input *chunk.Chunk, types []common.LType) error {
	if input.Card() > util.DefaultVectorSize {
		return ErrChunkTooLarge
	}
	if input.ColumnCount() != len(types) {
		return ErrSchemaMismatch
	}
	for i, vec := range input.Data {
		if !vec.Typ().Equal(types[i]) {
			return ErrSchemaMismatch
		}
	}
	return nil
}

// hashKeyColumns hashes the key columns of a flattened chunk.
func hashKeyColumns(input *chunk.Chunk, keyCols []int) *chunk.Vector {
	result := chunk.NewFlatVector(common.HashType(), max(input.Card(), 1))
	chunk.HashTypeSwitch(input.Data[keyCols[0]], result, nil, input.Card(), false)
	for i := 1; i < len(keyCols); i++ {
		chunk.CombineHashTypeSwitch(result, input.Data[keyCols[i]], nil, input.Card(), false)
	}
	return result
}

// AddBuildChunk hands one build chunk to worker's local buffer, or
// straight to disk once the join is in spill mode. The state takes
// ownership of input.
func (st *HashJoinState) AddBuildChunk(worker int, input *chunk.Chunk) error {
	if err := st.failed(); err != nil {
		return err
	}
	if err := schemaMatch(input, st._spec.BuildTypes); err != nil {
		return err
	}
	if input.Card() == 0 {
		return nil
	}
	input.Flatten()
	st._buildRows.Add(int64(input.Card()))
	if !st._buildHasNull.Load() {
		for i := 0; i < input.Card(); i++ {
			for _, kc := range st._spec.BuildKeyCols {
				if !input.Data[kc].RowIsValid(i) {
					st._buildHasNull.Store(true)
					break
				}
			}
		}
	}
	if st._filter != nil {
		if err := st._filter.Collect(
			input.Data[st._spec.BuildKeyCols[0]], input.Card()); err != nil {
			return err
		}
	}
	hashes := hashKeyColumns(input, st._spec.BuildKeyCols)

	local := st._locals[worker]
	local.mu.Lock()
	if st.Mode() == JM_SPILL {
		err := st._spill.SpillPartitioned(SPILL_BUILD, input, hashes)
		local.mu.Unlock()
		return err
	}
	local._chunks = append(local._chunks, input)
	local._hashes = append(local._hashes, hashes)
	local.mu.Unlock()

	used := st._memUsed.Add(approxChunkBytes(input))
	if st._spec.SpillThreshold > 0 && used > st._spec.SpillThreshold {
		return st.enterSpillMode(used)
	}
	return nil
}

// enterSpillMode flips the join to disk once. The mode is published
// before any local is drained, so appenders that miss the flush see
// spill mode under their own local lock and write to disk themselves.
func (st *HashJoinState) enterSpillMode(used int64) error {
	st._modeMu.Lock()
	defer st._modeMu.Unlock()
	if st.Mode() == JM_SPILL {
		return nil
	}
	spill, err := NewSpillManager(st._spec.TempDir, st._spec.SpillPartitions)
	if err != nil {
		return err
	}
	st._spill = spill
	st._mode.Store(int32(JM_SPILL))
	util.Info("join switched to spill mode",
		zap.Int64("memory used", used),
		zap.Int64("threshold", st._spec.SpillThreshold))

	for _, local := range st._locals {
		local.mu.Lock()
		for i, buffered := range local._chunks {
			if err = spill.SpillPartitioned(
				SPILL_BUILD, buffered, local._hashes[i]); err != nil {
				local.mu.Unlock()
				return err
			}
		}
		local._chunks = nil
		local._hashes = nil
		local.mu.Unlock()
	}
	return nil
}

// FinishBuild is the build barrier. Every worker calls it exactly once
// after its build input is exhausted; the last arriver finalizes the
// hash table (or seals the build partitions) and releases the probers.
func (st *HashJoinState) FinishBuild(ctx context.Context) error {
	leader, err := st._buildBarrier.Wait(ctx)
	if err != nil {
		return err
	}
	if !leader {
		return nil
	}
	defer close(st._ready)
	defer st._stage.Store(int32(HJS_PROBE))

	if st._filter != nil {
		if err = st._filter.Publish(); err != nil {
			st.Fail(err)
			return err
		}
	}
	if st.Mode() == JM_SPILL {
		if err = st._spill.FinishWrites(SPILL_BUILD); err != nil {
			st.Fail(err)
			return err
		}
		return nil
	}

	table := NewJoinHashTable(
		st._spec.BuildTypes, st._spec.BuildKeyCols, st._spec.JoinTyp)
	for _, local := range st._locals {
		for _, buffered := range local._chunks {
			table.Append(buffered)
		}
		local._chunks = nil
		local._hashes = nil
	}
	table.Finalize()
	if st._spec.JoinTyp.NeedsVisited() {
		st._visited = util.NewAtomicBitmap(table.Collection().Count())
	}
	st._table.Store(table)
	util.Debug("join hash table finalized",
		zap.Int("rows", table.Count()),
		zap.Bool("null keys", table.HasNullKeys()))
	return nil
}

// WaitTableReady blocks until the build side is sealed.
func (st *HashJoinState) WaitTableReady(ctx context.Context) error {
	select {
	case <-st._ready:
		return st.failed()
	case <-st._aborted:
		return st.failed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyFilter prunes probe rows the runtime filter rules out. It is a
// no-op when no filter is attached.
func (st *HashJoinState) ApplyFilter(probe *chunk.Chunk) error {
	if st._filter == nil || probe.Card() == 0 {
		return nil
	}
	probe.Flatten()
	sel := chunk.NewSelectVector(util.DefaultVectorSize)
	kept, err := st._filter.Evaluate(
		probe.Data[st._spec.ProbeKeyCols[0]], probe.Card(), sel)
	if err != nil {
		return err
	}
	if kept == probe.Card() {
		return nil
	}
	probe.SliceItself(sel, kept)
	return nil
}

// ProbeChunk joins one probe chunk and pushes every output chunk to
// sink. In spill mode the chunk is routed to its disk partitions
// instead; the matching happens during FinishProbe's restore rounds.
func (st *HashJoinState) ProbeChunk(ctx context.Context, input *chunk.Chunk, sink BatchSink) error {
	if err := st.failed(); err != nil {
		return err
	}
	if err := schemaMatch(input, st._spec.ProbeTypes); err != nil {
		return err
	}
	if err := st.WaitTableReady(ctx); err != nil {
		return err
	}
	if input.Card() == 0 {
		return nil
	}
	input.Flatten()
	if st.Mode() == JM_SPILL {
		hashes := hashKeyColumns(input, st._spec.ProbeKeyCols)
		return st._spill.SpillPartitioned(SPILL_PROBE, input, hashes)
	}
	return st.probeAgainst(st._table.Load(), st._visited, input, sink)
}

func (st *HashJoinState) probeAgainst(
	table *JoinHashTable,
	visited *util.AtomicBitmap,
	probe *chunk.Chunk,
	sink BatchSink,
) error {
	types := st._spec.OutputTypesUnprojected()
	scan := NewScan(table, visited, st._spec.Residual)
	scan.Init(probe, st._spec.ProbeKeyCols)
	//one chain step can match every probe row at once, so the result
	//must hold at least probe.Card() rows whatever the block size
	resCap := max(st._spec.blockSize(), probe.Card())
	for {
		result := &chunk.Chunk{}
		result.Init(types, resCap)
		if err := scan.Next(result); err != nil {
			return err
		}
		if result.Card() == 0 {
			return nil
		}
		if err := st.emit(sink, result); err != nil {
			return err
		}
	}
}

// emit applies the descriptor projection and pushes the chunk.
func (st *HashJoinState) emit(sink BatchSink, result *chunk.Chunk) error {
	if len(st._spec.Projection) == 0 {
		return sink.Push(result)
	}
	out := &chunk.Chunk{}
	for _, p := range st._spec.Projection {
		vec := chunk.NewFlatVector(result.Data[p].Typ(), result.Cap())
		vec.Reference(result.Data[p])
		out.Data = append(out.Data, vec)
	}
	out.SetCap(result.Cap())
	out.SetCard(result.Card())
	return sink.Push(out)
}

// FinishProbe is the probe barrier. The last arriver emits the
// unmatched build rows of right and full joins, then runs the restore
// rounds if the join spilled. Only the leader pushes to sink here, so
// the deferred output is produced exactly once.
func (st *HashJoinState) FinishProbe(ctx context.Context, sink BatchSink) error {
	leader, err := st._probeBarrier.Wait(ctx)
	if err != nil {
		return err
	}
	if !leader {
		return nil
	}
	st._stage.Store(int32(HJS_SCAN_HT))
	defer st._stage.Store(int32(HJS_DONE))
	if st.Mode() == JM_SPILL {
		return st.restoreRounds(sink)
	}
	if st._spec.JoinTyp.NeedsVisited() {
		return st.fullOuterEmit(st._table.Load(), st._visited, sink)
	}
	return nil
}

func (st *HashJoinState) fullOuterEmit(
	table *JoinHashTable,
	visited *util.AtomicBitmap,
	sink BatchSink,
) error {
	types := st._spec.OutputTypesUnprojected()
	fo := NewFullOuterScan(table, visited, len(st._spec.ProbeTypes))
	for {
		result := &chunk.Chunk{}
		result.Init(types, st._spec.blockSize())
		fo.Next(result)
		if result.Card() == 0 {
			return nil
		}
		if err := st.emit(sink, result); err != nil {
			return err
		}
	}
}

// restoreRounds replays the spilled partitions one at a time. Each
// round rebuilds a transient hash table from one build partition and
// streams the matching probe partition through it. A probe partition
// with an empty build side still runs, so unmatched-probe join types
// keep their rows.
func (st *HashJoinState) restoreRounds(sink BatchSink) error {
	if err := st._spill.FinishWrites(SPILL_PROBE); err != nil {
		st.Fail(err)
		return err
	}
	pending := deque.New[int]()
	for p := 0; p < st._spill.PartitionCount(); p++ {
		if st._spill.PartitionRows(SPILL_BUILD, p) == 0 &&
			st._spill.PartitionRows(SPILL_PROBE, p) == 0 {
			continue
		}
		pending.PushBack(p)
	}
	round := 0
	for !pending.Empty() {
		p := pending.PopFront()
		if err := st.restoreOne(p, sink); err != nil {
			st.Fail(err)
			return err
		}
		round++
	}
	util.Info("join restore finished", zap.Int("rounds", round))
	return nil
}

func (st *HashJoinState) restoreOne(partition int, sink BatchSink) error {
	table := NewJoinHashTable(
		st._spec.BuildTypes, st._spec.BuildKeyCols, st._spec.JoinTyp)
	err := st._spill.LoadPartition(SPILL_BUILD, partition,
		func(loaded *chunk.Chunk) error {
			table.Append(loaded)
			return nil
		})
	if err != nil {
		return err
	}
	table.Finalize()
	//null keys and row counts spilled across partitions, but the
	//tri-state mark semantics see the whole build side
	table._buildSideRows = int(st._buildRows.Load())
	if st._buildHasNull.Load() {
		table._hasNull = true
	}
	var visited *util.AtomicBitmap
	if st._spec.JoinTyp.NeedsVisited() {
		visited = util.NewAtomicBitmap(table.Collection().Count())
	}
	util.Debug("join restore round",
		zap.Int("partition", partition),
		zap.Int("build rows", table.Count()))

	err = st._spill.LoadPartition(SPILL_PROBE, partition,
		func(loaded *chunk.Chunk) error {
			return st.probeAgainst(table, visited, loaded, sink)
		})
	if err != nil {
		return err
	}
	if st._spec.JoinTyp.NeedsVisited() {
		return st.fullOuterEmit(table, visited, sink)
	}
	return nil
}

// Fail aborts the join. The first error wins; both barriers break so
// no worker stays parked.
func (st *HashJoinState) Fail(err error) {
	st._failOnce.Do(func() {
		st._failErr = err
		st._buildBarrier.Abort(err)
		st._probeBarrier.Abort(err)
		close(st._aborted)
		util.Error("join failed", zap.Error(err))
	})
}

func (st *HashJoinState) failed() error {
	select {
	case <-st._aborted:
		if st._failErr != nil {
			return st._failErr
		}
		return ErrJoinAborted
	default:
		return nil
	}
}

// Cleanup removes spill files. Safe to call whether or not the join
// ever spilled.
func (st *HashJoinState) Cleanup() {
	st._modeMu.Lock()
	defer st._modeMu.Unlock()
	if st._spill != nil {
		st._spill.Cleanup()
		st._spill = nil
	}
}

// approxChunkBytes estimates memory held by a buffered chunk.
func approxChunkBytes(input *chunk.Chunk) int64 {
	var bytes int64
	for _, vec := range input.Data {
		pt := vec.Typ().GetInternalType()
		if pt.IsConstant() {
			bytes += int64(pt.Size() * input.Card())
		} else {
			//varchar and friends. count payload lengths.
			for i := 0; i < input.Card(); i++ {
				if vec.RowIsValid(i) {
					val := vec.GetValue(i)
					bytes += int64(len(val.Str)) + 16
				}
			}
		}
	}
	return bytes
}
