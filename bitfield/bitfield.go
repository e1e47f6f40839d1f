// Package bitfield tracks the local state of every piece of a torrent: whether it has been fully
// received, whether its hash has been checked, and whether file selection excluded it.
package bitfield

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
)

type Bitfield struct {
	mu        sync.RWMutex
	numPieces int
	// Hash checked at least once. Stays set after a failed check.
	verified roaring.Bitmap
	// All blocks received. Cleared by a failed check.
	complete roaring.Bitmap
	skipped  roaring.Bitmap
}

func New(numPieces int) *Bitfield {
	panicif.LessThan(numPieces, 0)
	return &Bitfield{numPieces: numPieces}
}

func (bf *Bitfield) NumPieces() int {
	return bf.numPieces
}

func (bf *Bitfield) checkIndex(i int) {
	panicif.LessThan(i, 0)
	panicif.LessThanOrEqual(bf.numPieces, i)
}

func (bf *Bitfield) MarkComplete(i int) {
	bf.checkIndex(i)
	bf.mu.Lock()
	bf.complete.AddInt(i)
	bf.mu.Unlock()
}

// Records the result of a hash check. A failed check clears completion so the piece is scheduled
// again.
func (bf *Bitfield) MarkVerified(i int, ok bool) {
	bf.checkIndex(i)
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.verified.AddInt(i)
	if !ok {
		bf.complete.Remove(uint32(i))
	}
}

func (bf *Bitfield) Skip(i int) {
	bf.checkIndex(i)
	bf.mu.Lock()
	bf.skipped.AddInt(i)
	bf.mu.Unlock()
}

func (bf *Bitfield) Unskip(i int) {
	bf.checkIndex(i)
	bf.mu.Lock()
	bf.skipped.Remove(uint32(i))
	bf.mu.Unlock()
}

// Replaces the skipped set wholesale, as when file selection completes.
func (bf *Bitfield) SetSkipped(skipped *roaring.Bitmap) {
	if !skipped.IsEmpty() {
		panicif.LessThanOrEqual(uint32(bf.numPieces), skipped.Maximum())
	}
	bf.mu.Lock()
	bf.skipped.Clear()
	bf.skipped.Or(skipped)
	bf.mu.Unlock()
}

func (bf *Bitfield) IsComplete(i int) bool {
	bf.checkIndex(i)
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.complete.ContainsInt(i)
}

func (bf *Bitfield) IsVerified(i int) bool {
	bf.checkIndex(i)
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.verified.ContainsInt(i)
}

func (bf *Bitfield) IsCompleteVerified(i int) bool {
	bf.checkIndex(i)
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.complete.ContainsInt(i) && bf.verified.ContainsInt(i)
}

func (bf *Bitfield) IsSkipped(i int) bool {
	bf.checkIndex(i)
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.skipped.ContainsInt(i)
}

func (bf *Bitfield) Complete() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.complete.Clone()
}

func (bf *Bitfield) Verified() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.verified.Clone()
}

func (bf *Bitfield) Skipped() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.skipped.Clone()
}

// Pieces that are both received and hash checked. This is what we advertise to peers.
func (bf *Bitfield) CompleteVerified() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return roaring.And(&bf.complete, &bf.verified)
}

// Pieces still to be downloaded: neither complete nor skipped.
func (bf *Bitfield) Remaining() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	ret := bf.all()
	ret.AndNot(&bf.complete)
	ret.AndNot(&bf.skipped)
	return ret
}

func (bf *Bitfield) NotSkipped() *roaring.Bitmap {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	ret := bf.all()
	ret.AndNot(&bf.skipped)
	return ret
}

func (bf *Bitfield) all() *roaring.Bitmap {
	ret := roaring.New()
	ret.AddRange(0, uint64(bf.numPieces))
	return ret
}

func (bf *Bitfield) CompleteVerifiedCount() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return int(bf.complete.AndCardinality(&bf.verified))
}

func (bf *Bitfield) SkippedCount() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return int(bf.skipped.GetCardinality())
}

func (bf *Bitfield) RemainingCount() int {
	return int(bf.Remaining().GetCardinality())
}

// Complete and verified pieces in the layout of a BEP 3 bitfield message.
func (bf *Bitfield) Bools() []bool {
	ret := make([]bool, bf.numPieces)
	bf.CompleteVerified().Iterate(func(x uint32) bool {
		ret[x] = true
		return true
	})
	return ret
}
