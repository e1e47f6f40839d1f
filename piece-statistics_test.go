package torrent

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-quicktest/qt"
)

func TestPieceStatisticsAddRemove(t *testing.T) {
	ps := NewPieceStatistics(4)
	ps.AddPieces(testPeer(1), roaring.BitmapOf(0, 1))
	ps.AddPieces(testPeer(2), roaring.BitmapOf(0))
	ps.AddPiece(testPeer(3), 0)
	qt.Check(t, qt.Equals(ps.Availability(0), 3))
	qt.Check(t, qt.Equals(ps.Availability(1), 1))
	qt.Check(t, qt.Equals(ps.Availability(2), 0))

	// A repeated have doesn't count twice.
	ps.AddPiece(testPeer(3), 0)
	qt.Check(t, qt.Equals(ps.Availability(0), 3))

	// A new bitfield replaces what we knew.
	ps.AddPieces(testPeer(1), roaring.BitmapOf(2))
	qt.Check(t, qt.Equals(ps.Availability(0), 2))
	qt.Check(t, qt.Equals(ps.Availability(1), 0))
	qt.Check(t, qt.Equals(ps.Availability(2), 1))

	ps.RemovePieces(testPeer(2))
	ps.RemovePieces(testPeer(3))
	ps.RemovePieces(testPeer(1))
	// Unknown peers are ignored.
	ps.RemovePieces(testPeer(4))
	for i := range 4 {
		qt.Check(t, qt.Equals(ps.Availability(i), 0))
	}
	qt.Check(t, qt.IsFalse(ps.Pieces(testPeer(1)).Ok))
}

func TestPieceStatisticsPiecesIsCopy(t *testing.T) {
	ps := NewPieceStatistics(4)
	ps.AddPieces(testPeer(1), roaring.BitmapOf(1))
	pieces := ps.Pieces(testPeer(1))
	qt.Assert(t, qt.IsTrue(pieces.Ok))
	pieces.Value.Add(3)
	qt.Check(t, qt.Equals(ps.Availability(3), 0))
	qt.Check(t, qt.IsFalse(ps.HasAny(testPeer(1), roaring.BitmapOf(3))))
	qt.Check(t, qt.IsTrue(ps.HasAny(testPeer(1), roaring.BitmapOf(1, 3))))
}

func TestPieceStatisticsOutOfRangePanics(t *testing.T) {
	ps := NewPieceStatistics(4)
	qt.Check(t, qt.PanicMatches(func() { ps.AddPiece(testPeer(1), 4) }, ".*"))
	qt.Check(t, qt.PanicMatches(func() { ps.AddPieces(testPeer(1), roaring.BitmapOf(1, 4)) }, ".*"))
}

func TestPieceStatisticsRatio(t *testing.T) {
	ps := NewPieceStatistics(4)
	qt.Check(t, qt.Equals(ps.Ratio(roaring.New()), 0.0))
	ps.AddPieces(testPeer(1), roaring.BitmapOf(0, 1, 2, 3))
	ps.AddPieces(testPeer(2), roaring.BitmapOf(0, 1))
	qt.Check(t, qt.Equals(ps.Ratio(roaring.New()), 1.5))
	qt.Check(t, qt.Equals(ps.Ratio(roaring.BitmapOf(2, 3)), 2.0))
	// The local pieces aren't left behind.
	qt.Check(t, qt.Equals(ps.Availability(2), 1))
}
