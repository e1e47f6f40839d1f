package requestStrategy

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/peerweave/torrent/types"
)

type pieceIndex = types.PieceIndex

// The queries a PieceOrder makes against the swarm's piece availability.
type Availability interface {
	// Pieces in mask available from anyone.
	Ordinal(mask *roaring.Bitmap) *roaring.Bitmap
	// Pieces in mask at the lowest non-zero availability.
	Rarest(mask *roaring.Bitmap) *roaring.Bitmap
}

// Chooses the next piece to download. Implementations hold no mutable state other than Delegate.
type PieceOrder interface {
	// The pieces this order applies to. Callers must not modify it.
	Mask() *roaring.Bitmap
	// Returns a piece from mask ∩ Mask() that is available, or None.
	Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex]
}

// Source of uniform random choices. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

func orDefaultRand(r Rand) Rand {
	if r == nil {
		return globalRand{}
	}
	return r
}

func candidates(orderMask, mask *roaring.Bitmap) *roaring.Bitmap {
	return roaring.And(orderMask, mask)
}

func lowest(bm *roaring.Bitmap) g.Option[pieceIndex] {
	if bm.IsEmpty() {
		return g.None[pieceIndex]()
	}
	return g.Some(pieceIndex(bm.Minimum()))
}

func uniform(bm *roaring.Bitmap, r Rand) g.Option[pieceIndex] {
	card := bm.GetCardinality()
	if card == 0 {
		return g.None[pieceIndex]()
	}
	x, err := bm.Select(uint32(r.IntN(int(card))))
	panicif.Err(err)
	return g.Some(pieceIndex(x))
}

// Lowest available index first.
type Sequential struct {
	mask *roaring.Bitmap
}

func NewSequential(mask *roaring.Bitmap) *Sequential {
	return &Sequential{mask: mask}
}

func (me *Sequential) Mask() *roaring.Bitmap {
	return me.mask
}

func (me *Sequential) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	return lowest(avail.Ordinal(candidates(me.mask, mask)))
}

// Uniformly random among available pieces.
type Random struct {
	mask *roaring.Bitmap
	rand Rand
}

// r may be nil to use the global source.
func NewRandom(mask *roaring.Bitmap, r Rand) *Random {
	return &Random{mask: mask, rand: orDefaultRand(r)}
}

func (me *Random) Mask() *roaring.Bitmap {
	return me.mask
}

func (me *Random) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	return uniform(avail.Ordinal(candidates(me.mask, mask)), me.rand)
}

// The lowest index among the rarest available pieces.
type Rarest struct {
	mask *roaring.Bitmap
}

func NewRarest(mask *roaring.Bitmap) *Rarest {
	return &Rarest{mask: mask}
}

func (me *Rarest) Mask() *roaring.Bitmap {
	return me.mask
}

func (me *Rarest) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	return lowest(avail.Rarest(candidates(me.mask, mask)))
}

// Uniformly random among the rarest available pieces. Peers asking at the same time are less
// likely to be handed the same piece than with Rarest.
type RandomizedRarest struct {
	mask *roaring.Bitmap
	rand Rand
}

func NewRandomizedRarest(mask *roaring.Bitmap, r Rand) *RandomizedRarest {
	return &RandomizedRarest{mask: mask, rand: orDefaultRand(r)}
}

func (me *RandomizedRarest) Mask() *roaring.Bitmap {
	return me.mask
}

func (me *RandomizedRarest) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	return uniform(avail.Rarest(candidates(me.mask, mask)), me.rand)
}

// Tries each order in turn, the first to return a piece wins.
type Complex struct {
	orders []PieceOrder
	mask   *roaring.Bitmap
}

func NewComplex(orders ...PieceOrder) *Complex {
	mask := roaring.New()
	for _, o := range orders {
		mask.Or(o.Mask())
	}
	return &Complex{orders: orders, mask: mask}
}

func (me *Complex) Mask() *roaring.Bitmap {
	return me.mask
}

func (me *Complex) Orders() []PieceOrder {
	return me.orders
}

func (me *Complex) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	for _, o := range me.orders {
		if next := o.Next(avail, mask); next.Ok {
			return next
		}
	}
	return g.None[pieceIndex]()
}

// A PieceOrder that can be installed after construction, for example once file selection has
// finished. Before then it selects nothing.
type Delegate struct {
	target atomic.Pointer[PieceOrder]
}

func (me *Delegate) Set(o PieceOrder) {
	panicif.Nil(o)
	me.target.Store(&o)
}

func (me *Delegate) Get() g.Option[PieceOrder] {
	p := me.target.Load()
	if p == nil {
		return g.None[PieceOrder]()
	}
	return g.Some(*p)
}

func (me *Delegate) Mask() *roaring.Bitmap {
	if o := me.Get(); o.Ok {
		return o.Value.Mask()
	}
	return roaring.New()
}

func (me *Delegate) Next(avail Availability, mask *roaring.Bitmap) g.Option[pieceIndex] {
	if o := me.Get(); o.Ok {
		return o.Value.Next(avail, mask)
	}
	return g.None[pieceIndex]()
}
