package requestStrategy

import (
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/go-quicktest/qt"

	"github.com/peerweave/torrent/rarity"
)

func TestBuildPieceOrderGroups(t *testing.T) {
	// Three files over 10 pieces of 100 bytes. The middle file is skipped but shares piece 3 with
	// the first file.
	files := []FileSelection{
		{Offset: 0, Length: 350, Priority: DefaultPriority},
		{Offset: 350, Length: 250, Priority: SkipPriority},
		{Offset: 600, Length: 400, Priority: 3, Rarest: true, PrefetchHead: 50, PrefetchTail: 100},
	}
	order, skipped := BuildPieceOrder(10, 100, files, nil)
	qt.Assert(t, qt.DeepEquals(skipped.ToArray(), []uint32{4, 5}))
	qt.Assert(t, qt.DeepEquals(order.Mask().ToArray(), []uint32{0, 1, 2, 3, 6, 7, 8, 9}))
	orders := order.Orders()
	qt.Assert(t, qt.HasLen(orders, 3))
	// Highest priority prefetch, then its body, then the default priority file.
	qt.Assert(t, qt.DeepEquals(orders[0].Mask().ToArray(), []uint32{6, 9}))
	qt.Assert(t, qt.DeepEquals(orders[1].Mask().ToArray(), []uint32{7, 8}))
	qt.Assert(t, qt.DeepEquals(orders[2].Mask().ToArray(), []uint32{0, 1, 2, 3}))
	_, ok := orders[0].(*Rarest)
	qt.Assert(t, qt.IsTrue(ok))
	_, ok = orders[2].(*Sequential)
	qt.Assert(t, qt.IsTrue(ok))

	acc := rarity.NewAccumulator(10)
	all := fullMask(10)
	acc.Add(all)
	qt.Assert(t, qt.Equals(order.Next(acc, all), g.Some(6)))
	all.Remove(6)
	all.Remove(9)
	qt.Assert(t, qt.Equals(order.Next(acc, all), g.Some(7)))
	all.Remove(7)
	all.Remove(8)
	qt.Assert(t, qt.Equals(order.Next(acc, all), g.Some(0)))
}

func TestModeFor(t *testing.T) {
	qt.Check(t, qt.Equals(ModeFor(false, false), ModeSequential))
	qt.Check(t, qt.Equals(ModeFor(false, true), ModeRandom))
	qt.Check(t, qt.Equals(ModeFor(true, false), ModeRarest))
	qt.Check(t, qt.Equals(ModeFor(true, true), ModeRandomizedRarest))
	qt.Check(t, qt.Equals(ModeRandomizedRarest.String(), "randomized-rarest"))
}
