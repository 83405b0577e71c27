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

	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/util"
)

// BatchSource hands out input chunks. Next may be called concurrently
// by several workers; nil means exhausted.
type BatchSource interface {
	Next() (*chunk.Chunk, error)
}

// SliceSource deals a fixed chunk list to pulling workers.
type SliceSource struct {
	mu      sync.Mutex
	_chunks []*chunk.Chunk
	_pos    int
}

func NewSliceSource(chunks []*chunk.Chunk) *SliceSource {
	return &SliceSource{_chunks: chunks}
}

func (src *SliceSource) Next() (*chunk.Chunk, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src._pos >= len(src._chunks) {
		return nil, nil
	}
	ret := src._chunks[src._pos]
	src._pos++
	return ret, nil
}

// CollectSink gathers output chunks from all workers.
type CollectSink struct {
	mu      sync.Mutex
	_chunks []*chunk.Chunk
	_rows   int
}

func (sink *CollectSink) Push(out *chunk.Chunk) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink._chunks = append(sink._chunks, out)
	sink._rows += out.Card()
	return nil
}

func (sink *CollectSink) Chunks() []*chunk.Chunk {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink._chunks
}

func (sink *CollectSink) Rows() int {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink._rows
}

// JoinPipeline drives one hash join with the descriptor's worker
// count. Every worker drains the build source, meets the build
// barrier, drains the probe source and meets the probe barrier; the
// probe-barrier leader then produces the deferred output (unmatched
// build rows, spilled partitions).
type JoinPipeline struct {
	_state    *HashJoinState
	_buildSrc BatchSource
	_probeSrc BatchSource
	_sink     BatchSink
}

func NewJoinPipeline(
	spec *JoinSpec,
	buildSrc, probeSrc BatchSource,
	sink BatchSink,
) (*JoinPipeline, error) {
	state, err := NewHashJoinState(spec)
	if err != nil {
		return nil, err
	}
	return &JoinPipeline{
		_state:    state,
		_buildSrc: buildSrc,
		_probeSrc: probeSrc,
		_sink:     sink,
	}, nil
}

func (pipe *JoinPipeline) State() *HashJoinState {
	return pipe._state
}

// Run executes the join to completion. The first worker error wins;
// the rest unblock through the broken barriers. Spill files are
// removed on every path.
func (pipe *JoinPipeline) Run(ctx context.Context) error {
	defer pipe._state.Cleanup()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < pipe._state.Spec().Workers; w++ {
		worker := w
		g.Go(func() error {
			err := pipe.runWorker(gctx, worker)
			if err != nil {
				pipe._state.Fail(err)
			}
			return err
		})
	}
	return g.Wait()
}

func (pipe *JoinPipeline) runWorker(ctx context.Context, worker int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = util.ConvertPanicError(r)
		}
	}()
	st := pipe._state
	for {
		input, serr := pipe._buildSrc.Next()
		if serr != nil {
			st.Fail(serr)
			return serr
		}
		if input == nil {
			break
		}
		if err = st.AddBuildChunk(worker, input); err != nil {
			return err
		}
	}
	if err = st.FinishBuild(ctx); err != nil {
		return err
	}
	//the filter publishes with the table
	if err = st.WaitTableReady(ctx); err != nil {
		return err
	}
	for {
		input, serr := pipe._probeSrc.Next()
		if serr != nil {
			st.Fail(serr)
			return serr
		}
		if input == nil {
			break
		}
		if err = st.ApplyFilter(input); err != nil {
			return err
		}
		if err = st.ProbeChunk(ctx, input, pipe._sink); err != nil {
			return err
		}
	}
	return st.FinishProbe(ctx, pipe._sink)
}
