package typedRoaring

import (
	"testing"

	"github.com/go-quicktest/qt"
)

func TestBitmapTypedMembers(t *testing.T) {
	var bm Bitmap[int]
	bm.AddRange(2, 5)
	bm.Add(9)
	qt.Assert(t, qt.IsTrue(bm.Contains(3)))
	qt.Assert(t, qt.IsFalse(bm.Contains(5)))
	qt.Assert(t, qt.Equals(bm.Len(), 4))
	qt.Assert(t, qt.DeepEquals(bm.ToSlice(), []int{2, 3, 4, 9}))
	qt.Assert(t, qt.IsTrue(bm.CheckedRemove(9)))
	qt.Assert(t, qt.IsFalse(bm.CheckedRemove(9)))
	clone := bm.Clone()
	qt.Assert(t, qt.DeepEquals(bm.Drain(), []int{2, 3, 4}))
	qt.Assert(t, qt.IsTrue(bm.IsEmpty()))
	qt.Assert(t, qt.Equals(clone.Len(), 3))
}

func TestIterateStops(t *testing.T) {
	var bm Bitmap[uint16]
	bm.Add(1)
	bm.Add(7)
	bm.Add(30)
	var got []uint16
	bm.Iterate(func(x uint16) bool {
		got = append(got, x)
		return x < 7
	})
	qt.Assert(t, qt.DeepEquals(got, []uint16{1, 7}))
}
