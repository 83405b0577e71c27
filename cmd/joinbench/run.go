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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"
	"go.uber.org/zap"

	"github.com/daviszhen/joinexec/pkg/chunk"
	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/compute"
	"github.com/daviszhen/joinexec/pkg/util"
)

// bench schema for both sides: (id BIGINT, val VARCHAR), joined on id
func benchTypes() []common.LType {
	return []common.LType{
		common.BigintType(),
		common.VarcharType(),
	}
}

var joinTypeNames = map[string]compute.JoinType{
	"inner": compute.JT_INNER,
	"left":  compute.JT_LEFT,
	"right": compute.JT_RIGHT,
	"full":  compute.JT_FULL,
	"semi":  compute.JT_SEMI,
	"anti":  compute.JT_ANTI,
	"mark":  compute.JT_MARK,
}

func runJoin(ctx context.Context, cfg *util.Config) (int, error) {
	joinTyp, has := joinTypeNames[cfg.Join.JoinType]
	if !has {
		return 0, fmt.Errorf("unknown join type %s", cfg.Join.JoinType)
	}
	buildChunks, err := loadSide(cfg.Data.BuildPath, cfg.Data.BuildRows, 1)
	if err != nil {
		return 0, err
	}
	probeChunks, err := loadSide(cfg.Data.ProbePath, cfg.Data.ProbeRows, 2)
	if err != nil {
		return 0, err
	}

	spec := &compute.JoinSpec{
		JoinTyp:         joinTyp,
		BuildTypes:      benchTypes(),
		ProbeTypes:      benchTypes(),
		BuildKeyCols:    []int{0},
		ProbeKeyCols:    []int{0},
		Workers:         cfg.Join.Workers,
		SpillThreshold:  cfg.Join.SpillThreshold,
		SpillPartitions: cfg.Join.SpillPartitions,
		TempDir:         cfg.Join.TempDir,
		FilterId:        0,
	}
	util.Info("join plan", zap.String("explain", spec.Explain()))

	sink := &compute.CollectSink{}
	pipe, err := compute.NewJoinPipeline(spec,
		compute.NewSliceSource(buildChunks),
		compute.NewSliceSource(probeChunks),
		sink)
	if err != nil {
		return 0, err
	}
	if err = pipe.Run(ctx); err != nil {
		return 0, err
	}
	if cfg.Debug.PrintResult {
		printed := 0
		for _, out := range sink.Chunks() {
			if cfg.Debug.MaxOutputRowCount > 0 &&
				printed >= cfg.Debug.MaxOutputRowCount {
				break
			}
			out.Print2(fmt.Sprintf("row %d", printed))
			printed += out.Card()
		}
	}
	return sink.Rows(), nil
}

func loadSide(path string, genRows int, seed int64) ([]*chunk.Chunk, error) {
	if path != "" {
		return readParquetSide(path)
	}
	return genSide(genRows, seed), nil
}

// genSide synthesizes rows with ids clustered to produce matches
// between the two sides.
func genSide(rows int, seed int64) []*chunk.Chunk {
	rnd := rand.New(rand.NewSource(seed))
	var ret []*chunk.Chunk
	for off := 0; off < rows; off += util.DefaultVectorSize {
		cnt := min(util.DefaultVectorSize, rows-off)
		data := &chunk.Chunk{}
		data.Init(benchTypes(), cnt)
		ids := chunk.GetSliceInPhyFormatFlat[int64](data.Data[0])
		vals := chunk.GetSliceInPhyFormatFlat[string](data.Data[1])
		for i := 0; i < cnt; i++ {
			ids[i] = rnd.Int63n(int64(max(rows/4, 1)))
			vals[i] = fmt.Sprintf("v%d", ids[i])
		}
		data.SetCard(cnt)
		ret = append(ret, data)
	}
	return ret
}

func readParquetSide(path string) ([]*chunk.Chunk, error) {
	pqFile, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer pqFile.Close()
	rdr, err := pqReader.NewParquetColumnReader(pqFile, 1)
	if err != nil {
		return nil, err
	}
	defer rdr.ReadStop()

	types := benchTypes()
	var ret []*chunk.Chunk
	for {
		data := &chunk.Chunk{}
		data.Init(types, util.DefaultVectorSize)
		rowCnt := -1
		for j := range types {
			values, _, _, rerr := rdr.ReadColumnByIndex(
				int64(j), int64(util.DefaultVectorSize))
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					break
				}
				return nil, rerr
			}
			if rowCnt < 0 {
				rowCnt = len(values)
			} else if len(values) != rowCnt {
				return nil, fmt.Errorf(
					"column %d has %d values, previous columns %d",
					j, len(values), rowCnt)
			}
			vec := data.Data[j]
			for i := 0; i < len(values); i++ {
				val, cerr := parquetFieldToValue(values[i], vec.Typ())
				if cerr != nil {
					return nil, cerr
				}
				vec.SetValue(i, val)
			}
		}
		if rowCnt <= 0 {
			return ret, nil
		}
		data.SetCard(rowCnt)
		ret = append(ret, data)
	}
}

func parquetFieldToValue(field any, lTyp common.LType) (*chunk.Value, error) {
	val := &chunk.Value{
		Typ: lTyp,
	}
	if field == nil {
		val.IsNull = true
		return val, nil
	}
	switch lTyp.Id {
	case common.LTID_BIGINT:
		switch fVal := field.(type) {
		case int32:
			val.I64 = int64(fVal)
		case int64:
			val.I64 = fVal
		default:
			return nil, fmt.Errorf("bigint column holds %T", field)
		}
	case common.LTID_VARCHAR:
		fVal, ok := field.(string)
		if !ok {
			return nil, fmt.Errorf("varchar column holds %T", field)
		}
		val.Str = fVal
	default:
		panic("usp")
	}
	return val, nil
}
