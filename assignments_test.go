package torrent

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-quicktest/qt"

	"github.com/peerweave/torrent/bitfield"
	requestStrategy "github.com/peerweave/torrent/request-strategy"
)

type assignmentsFixture struct {
	bf          *bitfield.Bitfield
	stats       *PieceStatistics
	assignments *Assignments
	clock       *testClock
}

func newAssignmentsFixture(numPieces int) assignmentsFixture {
	bf := bitfield.New(numPieces)
	stats := NewPieceStatistics(numPieces)
	as := NewAssignments(bf, requestStrategy.NewRarest(fullBitmap(numPieces)), stats, TestingConfig(), rand.New(rand.NewPCG(3, 4)))
	clock := &testClock{t: time.Unix(1e9, 0)}
	as.now = clock.Now
	return assignmentsFixture{bf, stats, as, clock}
}

func fullBitmap(numPieces int) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(numPieces))
	return bm
}

func (me assignmentsFixture) completePiece(i int) {
	me.bf.MarkComplete(i)
	me.bf.MarkVerified(i, true)
}

func TestAssignNoOverAssignmentOutsideEndgame(t *testing.T) {
	f := newAssignmentsFixture(10)
	for i := range 6 {
		f.stats.AddPieces(testPeer(i), fullBitmap(10))
	}
	for i := range 6 {
		a, ok := f.assignments.Assign(testPeer(i))
		qt.Assert(t, qt.IsTrue(ok))
		qt.Check(t, qt.Equals(a.Peer(), testPeer(i)))
		qt.Assert(t, qt.IsFalse(f.assignments.IsEndgame()))
		qt.Check(t, qt.Equals(int(f.assignments.AssignedPieces().GetCardinality()), f.assignments.Count()))
	}
}

func TestAssignPrefersRarest(t *testing.T) {
	f := newAssignmentsFixture(4)
	f.stats.AddPieces(testPeer(1), roaring.BitmapOf(0))
	f.stats.AddPieces(testPeer(2), roaring.BitmapOf(0))
	f.stats.AddPieces(testPeer(3), roaring.BitmapOf(0, 1))
	a, ok := f.assignments.Assign(testPeer(3))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(a.Piece(), 1))
}

func TestAssignSkipsCompleteAndUnavailable(t *testing.T) {
	f := newAssignmentsFixture(4)
	f.completePiece(0)
	f.stats.AddPieces(testPeer(1), roaring.BitmapOf(0))
	_, ok := f.assignments.Assign(testPeer(1))
	qt.Check(t, qt.IsFalse(ok))
	_, ok = f.assignments.Assign(testPeer(2))
	qt.Check(t, qt.IsFalse(ok))
	qt.Check(t, qt.Equals(f.assignments.Count(), 0))
}

func TestEndgameActivation(t *testing.T) {
	f := newAssignmentsFixture(4)
	f.completePiece(0)
	f.completePiece(1)
	for i := range 4 {
		f.stats.AddPieces(testPeer(i), fullBitmap(4))
	}
	a0, ok := f.assignments.Assign(testPeer(0))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.IsFalse(f.assignments.IsEndgame()))
	a1, ok := f.assignments.Assign(testPeer(1))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Not(qt.Equals(a0.Piece(), a1.Piece())))
	// Every remaining piece is claimed.
	qt.Assert(t, qt.IsTrue(f.assignments.IsEndgame()))
	a2, ok := f.assignments.Assign(testPeer(2))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.IsTrue(a2.Piece() == a0.Piece() || a2.Piece() == a1.Piece()))
	qt.Check(t, qt.Equals(f.assignments.Count(), 3))
	qt.Check(t, qt.Equals(f.assignments.AssignedPieces().GetCardinality(), uint64(2)))

	// The duplicate claim keeps the piece assigned.
	dup := a0
	if a2.Piece() == a1.Piece() {
		dup = a1
	}
	f.assignments.Remove(dup)
	qt.Check(t, qt.IsTrue(f.assignments.AssignedPieces().ContainsInt(dup.Piece())))
	f.assignments.Remove(a2)
	qt.Check(t, qt.IsFalse(f.assignments.AssignedPieces().ContainsInt(dup.Piece())))
	qt.Check(t, qt.Equals(f.assignments.Count(), 1))
}

func TestEndgameUsesRandomOrder(t *testing.T) {
	f := newAssignmentsFixture(3)
	for i := range 3 {
		f.stats.AddPieces(testPeer(i), roaring.BitmapOf(0, 1, 2))
	}
	f.stats.AddPieces(testPeer(10), roaring.BitmapOf(0, 1, 2))
	for i := range 3 {
		_, ok := f.assignments.Assign(testPeer(i))
		qt.Assert(t, qt.IsTrue(ok))
	}
	qt.Assert(t, qt.IsTrue(f.assignments.IsEndgame()))
	seen := make(map[int]bool)
	for range 50 {
		a, ok := f.assignments.Assign(testPeer(10))
		qt.Assert(t, qt.IsTrue(ok))
		seen[a.Piece()] = true
		f.assignments.Remove(a)
	}
	// The rarest order alone would always pick piece 0.
	qt.Check(t, qt.IsTrue(len(seen) > 1), qt.Commentf("%v", seen))
}

func TestRemovedAssignmentPieceIsReassigned(t *testing.T) {
	f := newAssignmentsFixture(8)
	f.stats.AddPieces(testPeer(1), roaring.BitmapOf(5))
	f.stats.AddPieces(testPeer(2), roaring.BitmapOf(5))
	a, ok := f.assignments.Assign(testPeer(1))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(a.Piece(), 5))
	// Outside endgame the piece is taken.
	_, ok = f.assignments.Assign(testPeer(2))
	qt.Check(t, qt.IsFalse(ok))
	f.assignments.Remove(a)
	f.stats.RemovePieces(testPeer(1))
	qt.Check(t, qt.IsFalse(f.assignments.AssignedPieces().ContainsInt(5)))
	a, ok = f.assignments.Assign(testPeer(2))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(a.Piece(), 5))
}

func TestInteresting(t *testing.T) {
	f := newAssignmentsFixture(4)
	f.completePiece(3)
	f.stats.AddPieces(testPeer(1), roaring.BitmapOf(0))
	f.stats.AddPieces(testPeer(2), roaring.BitmapOf(0, 1))
	f.stats.AddPieces(testPeer(3), roaring.BitmapOf(3))
	f.stats.AddPieces(testPeer(4), roaring.BitmapOf(1))
	_, ok := f.assignments.Assign(testPeer(1))
	qt.Assert(t, qt.IsTrue(ok))
	interesting := f.assignments.Interesting(
		[]PeerKey{testPeer(1), testPeer(2), testPeer(3)},
		[]PeerKey{testPeer(4), testPeer(5)})
	qt.Check(t, qt.CmpEquals(interesting, map[PeerKey]struct{}{
		// Already downloading.
		testPeer(1): {},
		// Piece 1 is still unclaimed.
		testPeer(2): {},
		testPeer(4): {},
	}, equatePeerKeys))
	qt.Check(t, qt.Equals(f.assignments.WorkersCount(), 2))
}

func TestAssignTwicePanics(t *testing.T) {
	f := newAssignmentsFixture(4)
	f.stats.AddPieces(testPeer(1), roaring.BitmapOf(0, 1))
	_, ok := f.assignments.Assign(testPeer(1))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.PanicMatches(func() { f.assignments.Assign(testPeer(1)) }, ".*"))
}
