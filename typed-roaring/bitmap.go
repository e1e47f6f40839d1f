package typedRoaring

import (
	"github.com/RoaringBitmap/roaring"
)

// A roaring bitmap whose members are typed as T. The embedded untyped bitmap is still accessible
// for the set algebra, which doesn't care about the element type.
type Bitmap[T BitConstraint] struct {
	roaring.Bitmap
}

func (me *Bitmap[T]) Contains(x T) bool {
	return me.Bitmap.Contains(uint32(x))
}

func (me *Bitmap[T]) Iterate(f func(x T) bool) {
	me.Bitmap.Iterate(func(x uint32) bool {
		return f(T(x))
	})
}

func (me *Bitmap[T]) Add(x T) {
	me.Bitmap.Add(uint32(x))
}

func (me *Bitmap[T]) AddRange(begin, end T) {
	me.Bitmap.AddRange(uint64(begin), uint64(end))
}

func (me *Bitmap[T]) Rank(x T) uint64 {
	return me.Bitmap.Rank(uint32(x))
}

func (me *Bitmap[T]) CheckedRemove(x T) bool {
	return me.Bitmap.CheckedRemove(uint32(x))
}

func (me *Bitmap[T]) Clone() Bitmap[T] {
	return Bitmap[T]{*me.Bitmap.Clone()}
}

func (me *Bitmap[T]) CheckedAdd(x T) bool {
	return me.Bitmap.CheckedAdd(uint32(x))
}

func (me *Bitmap[T]) Remove(x T) {
	me.Bitmap.Remove(uint32(x))
}

func (me *Bitmap[T]) Len() int {
	return int(me.Bitmap.GetCardinality())
}

// Returns all members in ascending order.
func (me *Bitmap[T]) ToSlice() (ret []T) {
	ret = make([]T, 0, me.Bitmap.GetCardinality())
	me.Iterate(func(x T) bool {
		ret = append(ret, x)
		return true
	})
	return
}

// Returns the members and empties the bitmap.
func (me *Bitmap[T]) Drain() []T {
	ret := me.ToSlice()
	me.Bitmap.Clear()
	return ret
}
