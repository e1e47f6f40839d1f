// Package rarity keeps a histogram of piece availability across a swarm as a stack of nested
// bitmaps rather than a counter per piece.
package rarity

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
)

// Layer k holds the pieces whose availability exceeds k, so each layer is a superset of the one
// above it. Adding a bitmap is a ripple-carry increment through the layers, removing one is the
// matching decrement from the top.
//
// Accumulator is not safe for concurrent use. Callers serialize access, usually together with the
// per-peer state that feeds it.
type Accumulator struct {
	length int
	layers []*roaring.Bitmap
	// Index of the first layer that doesn't cover all pieces. Every layer below it is full.
	firstIncomplete int
}

func NewAccumulator(length int) *Accumulator {
	panicif.LessThan(length, 0)
	return &Accumulator{length: length}
}

func (me *Accumulator) Len() int {
	return me.length
}

func (me *Accumulator) IsEmpty() bool {
	return len(me.layers) == 0
}

// The number of layers, which is also the highest availability of any piece.
func (me *Accumulator) Depth() int {
	return len(me.layers)
}

// Returns a copy of layer k.
func (me *Accumulator) Layer(k int) *roaring.Bitmap {
	return me.layers[k].Clone()
}

func (me *Accumulator) Clear() {
	me.layers = nil
	me.firstIncomplete = 0
}

func (me *Accumulator) checkBounds(bm *roaring.Bitmap) {
	if bm.IsEmpty() {
		return
	}
	panicif.LessThanOrEqual(uint64(me.length), uint64(bm.Maximum()))
}

func (me *Accumulator) isFull(bm *roaring.Bitmap) bool {
	return bm.GetCardinality() == uint64(me.length)
}

func (me *Accumulator) insertLayer(at int, bm *roaring.Bitmap) {
	me.layers = append(me.layers, nil)
	copy(me.layers[at+1:], me.layers[at:])
	me.layers[at] = bm
}

// Increments the availability of every piece in bm.
func (me *Accumulator) Add(bm *roaring.Bitmap) {
	me.checkBounds(bm)
	if bm.IsEmpty() {
		return
	}
	remainder := bm.Clone()
	full := me.isFull(remainder)
	if len(me.layers) == 0 || full {
		me.insertLayer(me.firstIncomplete, remainder)
		if full {
			me.firstIncomplete++
		}
		return
	}
	for index := me.firstIncomplete; index < len(me.layers); index++ {
		current := me.layers[index]
		before := current.Clone()
		current.Or(remainder)
		if me.isFull(current) {
			me.firstIncomplete++
		}
		remainder.And(before)
		if remainder.IsEmpty() {
			return
		}
	}
	me.layers = append(me.layers, remainder)
}

// Increments the availability of a single piece.
func (me *Accumulator) AddBit(i int) {
	panicif.LessThan(i, 0)
	panicif.LessThanOrEqual(me.length, i)
	for index := me.firstIncomplete; index < len(me.layers); index++ {
		current := me.layers[index]
		if current.CheckedAdd(uint32(i)) {
			if me.isFull(current) {
				me.firstIncomplete++
			}
			return
		}
	}
	me.layers = append(me.layers, roaring.BitmapOf(uint32(i)))
}

// Decrements the availability of every piece in bm. bm must have been added before, panics if any
// piece in bm has no availability.
func (me *Accumulator) Remove(bm *roaring.Bitmap) {
	me.checkBounds(bm)
	if bm.IsEmpty() {
		return
	}
	panicif.True(len(me.layers) == 0)
	panicif.NotEq(me.layers[0].AndCardinality(bm), bm.GetCardinality())
	if me.isFull(bm) && me.isFull(me.layers[0]) {
		me.layers = me.layers[1:]
		me.firstIncomplete--
		panicif.LessThan(me.firstIncomplete, 0)
		return
	}
	remainder := bm.Clone()
	for index := len(me.layers) - 1; index >= 0; index-- {
		current := me.layers[index]
		intersect := roaring.And(current, remainder)
		if intersect.IsEmpty() {
			continue
		}
		current.Xor(intersect)
		if index < me.firstIncomplete {
			me.firstIncomplete = index
		}
		if current.IsEmpty() {
			panicif.NotEq(index, len(me.layers)-1)
			me.layers = me.layers[:index]
		}
		remainder.Xor(intersect)
		if remainder.IsEmpty() {
			return
		}
	}
	panic("remainder not consumed")
}

// Decrements the availability of a single piece, which must currently be available.
func (me *Accumulator) RemoveBit(i int) {
	k := me.Availability(i)
	panicif.LessThanOrEqual(k, 0)
	top := k - 1
	me.layers[top].Remove(uint32(i))
	if top < me.firstIncomplete {
		me.firstIncomplete = top
	}
	if me.layers[top].IsEmpty() {
		panicif.NotEq(top, len(me.layers)-1)
		me.layers = me.layers[:top]
	}
}

// The number of sources that have contributed piece i.
func (me *Accumulator) Availability(i int) int {
	panicif.LessThan(i, 0)
	panicif.LessThanOrEqual(me.length, i)
	return sort.Search(len(me.layers), func(k int) bool {
		return !me.layers[k].Contains(uint32(i))
	})
}

// Pieces in mask available from at least one source.
func (me *Accumulator) Ordinal(mask *roaring.Bitmap) *roaring.Bitmap {
	if len(me.layers) == 0 {
		return roaring.New()
	}
	return roaring.And(me.layers[0], mask)
}

// Pieces in mask that share the lowest non-zero availability of all pieces in mask. Empty if no
// piece in mask is available.
func (me *Accumulator) Rarest(mask *roaring.Bitmap) *roaring.Bitmap {
	if len(me.layers) == 0 || mask.IsEmpty() {
		return roaring.New()
	}
	result := roaring.New()
	for index := max(0, me.firstIncomplete-1); index < len(me.layers); index++ {
		result = roaring.And(me.layers[index], mask)
		if result.IsEmpty() {
			break
		}
		if next := index + 1; next < len(me.layers) {
			result.AndNot(me.layers[next])
		}
		if !result.IsEmpty() {
			break
		}
	}
	return result
}

// An estimate of how many complete copies of the data the contributing sources hold between them.
func (me *Accumulator) Ratio() float64 {
	if len(me.layers) == 0 {
		return 0
	}
	if me.firstIncomplete == len(me.layers) {
		return float64(me.firstIncomplete)
	}
	return float64(me.firstIncomplete) +
		float64(me.layers[me.firstIncomplete].GetCardinality())/float64(me.length)
}

// The Ratio as if addition had also been added.
func (me *Accumulator) RatioWith(addition *roaring.Bitmap) float64 {
	me.checkBounds(addition)
	card := addition.GetCardinality()
	switch {
	case card == 0:
		return me.Ratio()
	case me.isFull(addition):
		return me.Ratio() + 1
	case len(me.layers) == 0:
		return float64(card) / float64(me.length)
	case me.firstIncomplete == len(me.layers):
		return float64(me.firstIncomplete) + float64(card)/float64(me.length)
	}
	me.Add(addition)
	ratio := me.Ratio()
	me.Remove(addition)
	return ratio
}
