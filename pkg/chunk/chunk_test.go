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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	dec "github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

func testChunk(t *testing.T, rows int) *Chunk {
	typs := []common.LType{
		common.BigintType(),
		common.VarcharType(),
		common.DecimalType(10, 2),
	}
	c := &Chunk{}
	c.Init(typs, rows)
	ids := GetSliceInPhyFormatFlat[int64](c.Data[0])
	strs := GetSliceInPhyFormatFlat[string](c.Data[1])
	decs := GetSliceInPhyFormatFlat[dec.Decimal](c.Data[2])
	for i := 0; i < rows; i++ {
		ids[i] = int64(i * 3)
		strs[i] = fmt.Sprintf("s%d", i)
		d, err := dec.NewFromFloat64(float64(i) + 0.25)
		require.NoError(t, err)
		decs[i] = d
		if i%7 == 0 {
			SetNullInPhyFormatFlat(c.Data[1], uint64(i), true)
		}
	}
	c.SetCard(rows)
	return c
}

func TestChunkSerializeRoundTrip(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "chunks")
	first := testChunk(t, 100)
	second := testChunk(t, 17)

	serial, err := util.NewFileSerialize(fname)
	require.NoError(t, err)
	require.NoError(t, first.Serialize(serial))
	require.NoError(t, second.Serialize(serial))
	require.NoError(t, serial.Close())

	deserial, err := util.NewFileDeserialize(fname)
	require.NoError(t, err)
	defer deserial.Close()

	for _, want := range []*Chunk{first, second} {
		got := &Chunk{}
		require.NoError(t, got.Deserialize(deserial))
		require.Equal(t, want.Card(), got.Card())
		require.Equal(t, want.ColumnCount(), got.ColumnCount())
		for col := 0; col < want.ColumnCount(); col++ {
			assert.True(t, want.Data[col].Typ().Equal(got.Data[col].Typ()))
			for row := 0; row < want.Card(); row++ {
				wv := want.Data[col].GetValue(row)
				gv := got.Data[col].GetValue(row)
				assert.Equal(t, wv.String(), gv.String(),
					"col %d row %d", col, row)
			}
		}
	}
	//stream exhausted
	extra := &Chunk{}
	assert.ErrorIs(t, extra.Deserialize(deserial), io.EOF)

	_ = os.Remove(fname)
}

func TestChunkSliceAndFlatten(t *testing.T) {
	src := testChunk(t, 50)
	sel := NewSelectVector(util.DefaultVectorSize)
	picked := []int{0, 7, 13, 49}
	for i, idx := range picked {
		sel.SetIndex(i, idx)
	}
	dst := &Chunk{}
	dst.Init(src.Types(), util.DefaultVectorSize)
	dst.Slice(src, sel, len(picked), 0)
	dst.SetCard(len(picked))
	dst.Flatten()
	for i, idx := range picked {
		assert.Equal(t,
			src.Data[0].GetValue(idx).String(),
			dst.Data[0].GetValue(i).String())
		//row 0 and 7 hold a null varchar
		assert.Equal(t, idx%7 == 0, dst.Data[1].GetValue(i).IsNull)
	}
}

func TestChunkHashDeterministic(t *testing.T) {
	c := testChunk(t, 64)
	h1 := NewFlatVector(common.HashType(), c.Card())
	h2 := NewFlatVector(common.HashType(), c.Card())
	c.Hash(h1)
	c.Hash(h2)
	s1 := GetSliceInPhyFormatFlat[uint64](h1)
	s2 := GetSliceInPhyFormatFlat[uint64](h2)
	for i := 0; i < c.Card(); i++ {
		assert.Equal(t, s1[i], s2[i])
	}
}

func TestHashDecimalCanonical(t *testing.T) {
	//1.0 and 1.00 must hash alike: equality treats them equal
	a, err := dec.Parse("1.0")
	require.NoError(t, err)
	b, err := dec.Parse("1.00")
	require.NoError(t, err)

	va := NewFlatVector(common.DecimalType(10, 2), 2)
	slice := GetSliceInPhyFormatFlat[dec.Decimal](va)
	slice[0] = a
	slice[1] = b
	hashes := NewFlatVector(common.HashType(), 2)
	HashTypeSwitch(va, hashes, nil, 2, false)
	hs := GetSliceInPhyFormatFlat[uint64](hashes)
	assert.Equal(t, hs[0], hs[1])
}
