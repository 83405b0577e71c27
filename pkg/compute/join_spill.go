package compute

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/util"
)

type SpillSide int

const (
	SPILL_BUILD SpillSide = iota
	SPILL_PROBE
)

func (s SpillSide) String() string {
	if s == SPILL_BUILD {
		return "build"
	}
	return "probe"
}

type spillPartition struct {
	mu      sync.Mutex
	_path   string
	_serial *util.FileSerialize
	_rows   int
}

// SpillManager owns the on-disk partitions of one join instance.
// A build row and any probe row with the same key land in the same
// partition index, so every partition pair can be joined on its own.
// Partition files are framed chunk streams written sequentially;
// nothing about the format is stable across versions.
type SpillManager struct {
	//serializes FinishWrites against Cleanup. reentrant because
	//Cleanup seals both sides through FinishWrites itself.
	lock *util.ReentryLock

	_dir     string
	_partCnt int
	//partition index comes from the high hash bits so the bucket
	//table of a restore round still sees uniform low bits
	_shift uint

	_build []*spillPartition
	_probe []*spillPartition
}

func NewSpillManager(tempDir string, partitions int) (*SpillManager, error) {
	util.AssertFunc(util.IsPowerOfTwo(uint64(partitions)))
	dir, err := os.MkdirTemp(tempDir, "joinspill")
	if err != nil {
		return nil, errors.Join(ErrSpillIO, err)
	}
	sm := &SpillManager{
		lock:     util.NewReentryLock(),
		_dir:     dir,
		_partCnt: partitions,
		_shift:   uint(64 - bits.TrailingZeros64(uint64(partitions))),
	}
	for i := 0; i < partitions; i++ {
		sm._build = append(sm._build, &spillPartition{
			_path: filepath.Join(dir, fmt.Sprintf("build_%d", i)),
		})
		sm._probe = append(sm._probe, &spillPartition{
			_path: filepath.Join(dir, fmt.Sprintf("probe_%d", i)),
		})
	}
	util.Info("join spill enabled",
		zap.String("dir", dir),
		zap.Int("partitions", partitions))
	return sm, nil
}

func (sm *SpillManager) PartitionCount() int {
	return sm._partCnt
}

// PartitionIndex maps a key hash to its partition.
func (sm *SpillManager) PartitionIndex(hash uint64) int {
	return int(hash >> sm._shift)
}

func (sm *SpillManager) side(side SpillSide) []*spillPartition {
	if side == SPILL_BUILD {
		return sm._build
	}
	return sm._probe
}

// SpillChunk appends one framed chunk to partition idx.
func (sm *SpillManager) SpillChunk(side SpillSide, idx int, input *chunk.Chunk) error {
	part := sm.side(side)[idx]
	part.mu.Lock()
	defer part.mu.Unlock()
	if part._serial == nil {
		serial, err := util.NewFileSerialize(part._path)
		if err != nil {
			return errors.Join(ErrSpillIO, err)
		}
		part._serial = serial
	}
	if err := input.Serialize(part._serial); err != nil {
		return errors.Join(ErrSpillIO, err)
	}
	part._rows += input.Card()
	return nil
}

// SpillPartitioned splits input by hash and appends each slice to its
// partition.
func (sm *SpillManager) SpillPartitioned(
	side SpillSide,
	input *chunk.Chunk,
	hashes *chunk.Vector,
) error {
	hashSlice := chunk.GetSliceInPhyFormatFlat[uint64](hashes)
	sels := make(map[int]*chunk.SelectVector)
	counts := make(map[int]int)
	for i := 0; i < input.Card(); i++ {
		p := sm.PartitionIndex(hashSlice[i])
		if sels[p] == nil {
			sels[p] = chunk.NewSelectVector(util.DefaultVectorSize)
		}
		sels[p].SetIndex(counts[p], i)
		counts[p]++
	}
	for p, sel := range sels {
		part := &chunk.Chunk{}
		part.Init(input.Types(), counts[p])
		part.Slice(input, sel, counts[p], 0)
		if err := sm.SpillChunk(side, p, part); err != nil {
			return err
		}
	}
	return nil
}

// FinishWrites closes one side's writers so the files can be replayed.
func (sm *SpillManager) FinishWrites(side SpillSide) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	for _, part := range sm.side(side) {
		part.mu.Lock()
		if part._serial != nil {
			if err := part._serial.Close(); err != nil {
				part.mu.Unlock()
				return errors.Join(ErrSpillIO, err)
			}
			part._serial = nil
		}
		part.mu.Unlock()
	}
	return nil
}

func (sm *SpillManager) PartitionRows(side SpillSide, idx int) int {
	return sm.side(side)[idx]._rows
}

// LoadPartition replays every chunk of one partition file in write
// order. A missing file means the partition never received rows.
func (sm *SpillManager) LoadPartition(
	side SpillSide,
	idx int,
	fn func(*chunk.Chunk) error,
) error {
	part := sm.side(side)[idx]
	if part._rows == 0 {
		return nil
	}
	deserial, err := util.NewFileDeserialize(part._path)
	if err != nil {
		return errors.Join(ErrSpillIO, err)
	}
	defer deserial.Close()
	for {
		loaded := &chunk.Chunk{}
		err = loaded.Deserialize(deserial)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Join(ErrSpillIO, err)
		}
		if err = fn(loaded); err != nil {
			return err
		}
	}
}

// Cleanup closes writers and removes every partition file. Partially
// written partitions must never stay visible to a retry.
func (sm *SpillManager) Cleanup() {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if err := sm.FinishWrites(SPILL_BUILD); err != nil {
		util.Warn("spill cleanup close failed", zap.Error(err))
	}
	if err := sm.FinishWrites(SPILL_PROBE); err != nil {
		util.Warn("spill cleanup close failed", zap.Error(err))
	}
	if err := os.RemoveAll(sm._dir); err != nil {
		util.Warn("spill cleanup failed",
			zap.String("dir", sm._dir),
			zap.Error(err))
	}
}
