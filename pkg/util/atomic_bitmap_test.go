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

package util

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicBitmapClaimOnce(t *testing.T) {
	const rows = 1000
	const workers = 8
	bm := NewAtomicBitmap(rows)
	var claimed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rows; i++ {
				if bm.Claim(i) {
					claimed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	//every row claimed by exactly one worker
	assert.Equal(t, int64(rows), claimed.Load())
	for i := 0; i < rows; i++ {
		assert.True(t, bm.IsSet(i))
	}
}

func TestAtomicBitmapSetAndQuery(t *testing.T) {
	bm := NewAtomicBitmap(130)
	assert.False(t, bm.IsSet(0))
	assert.False(t, bm.IsSet(129))
	bm.Set(0)
	bm.Set(64)
	bm.Set(129)
	assert.True(t, bm.IsSet(0))
	assert.True(t, bm.IsSet(64))
	assert.True(t, bm.IsSet(129))
	assert.False(t, bm.IsSet(1))
	assert.Equal(t, 130, bm.Count())
}
