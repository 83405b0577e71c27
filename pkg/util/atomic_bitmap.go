package util

import (
	"sync/atomic"
)

// AtomicBitmap is a fixed-size bitmap mutated concurrently with
// set-if-unset semantics. One bit per row, packed into uint64 words.
type AtomicBitmap struct {
	_words []atomic.Uint64
	_count int
}

func NewAtomicBitmap(count int) *AtomicBitmap {
	return &AtomicBitmap{
		_words: make([]atomic.Uint64, (count+63)/64),
		_count: count,
	}
}

func (bm *AtomicBitmap) Count() int {
	return bm._count
}

// Claim sets bit idx and reports whether this caller flipped it.
func (bm *AtomicBitmap) Claim(idx int) bool {
	word := idx / 64
	mask := uint64(1) << (idx % 64)
	old := bm._words[word].Or(mask)
	return old&mask == 0
}

func (bm *AtomicBitmap) Set(idx int) {
	bm._words[idx/64].Or(uint64(1) << (idx % 64))
}

func (bm *AtomicBitmap) IsSet(idx int) bool {
	return bm._words[idx/64].Load()&(uint64(1)<<(idx%64)) != 0
}
