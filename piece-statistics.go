package torrent

import (
	"github.com/RoaringBitmap/roaring"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"

	"github.com/peerweave/torrent/rarity"
	requestStrategy "github.com/peerweave/torrent/request-strategy"
)

// The pieces each connected peer has, and their combined availability. The map and the accumulator
// are only changed together under one lock.
type PieceStatistics struct {
	mu    sync.Mutex
	acc   *rarity.Accumulator
	peers map[PeerKey]*roaring.Bitmap
}

func NewPieceStatistics(numPieces int) *PieceStatistics {
	return &PieceStatistics{
		acc:   rarity.NewAccumulator(numPieces),
		peers: make(map[PeerKey]*roaring.Bitmap),
	}
}

func (me *PieceStatistics) NumPieces() int {
	return me.acc.Len()
}

func (me *PieceStatistics) checkPieces(pieces *roaring.Bitmap) {
	if !pieces.IsEmpty() {
		panicif.LessThanOrEqual(uint32(me.acc.Len()), pieces.Maximum())
	}
}

// Replaces everything known about the peer's pieces, as on receipt of a bitfield.
func (me *PieceStatistics) AddPieces(peer PeerKey, pieces *roaring.Bitmap) {
	me.checkPieces(pieces)
	pieces = pieces.Clone()
	me.mu.Lock()
	defer me.mu.Unlock()
	if prev, ok := me.peers[peer]; ok {
		me.acc.Remove(prev)
	}
	me.peers[peer] = pieces
	me.acc.Add(pieces)
}

// Records that the peer has piece i, as on receipt of a have.
func (me *PieceStatistics) AddPiece(peer PeerKey, i int) {
	panicif.LessThan(i, 0)
	panicif.LessThanOrEqual(me.acc.Len(), i)
	me.mu.Lock()
	defer me.mu.Unlock()
	pieces, ok := me.peers[peer]
	if !ok {
		pieces = roaring.New()
		me.peers[peer] = pieces
	}
	if pieces.CheckedAdd(uint32(i)) {
		me.acc.AddBit(i)
	}
}

func (me *PieceStatistics) RemovePieces(peer PeerKey) {
	me.mu.Lock()
	defer me.mu.Unlock()
	prev, ok := me.peers[peer]
	if !ok {
		return
	}
	delete(me.peers, peer)
	me.acc.Remove(prev)
}

// Returns a copy of the peer's pieces.
func (me *PieceStatistics) Pieces(peer PeerKey) g.Option[*roaring.Bitmap] {
	me.mu.Lock()
	defer me.mu.Unlock()
	pieces, ok := me.peers[peer]
	if !ok {
		return g.None[*roaring.Bitmap]()
	}
	return g.Some(pieces.Clone())
}

// Whether the peer has any piece in mask.
func (me *PieceStatistics) HasAny(peer PeerKey, mask *roaring.Bitmap) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	pieces, ok := me.peers[peer]
	return ok && pieces.Intersects(mask)
}

func (me *PieceStatistics) Availability(i int) int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.acc.Availability(i)
}

// Asks order for the next piece in mask that peer has.
func (me *PieceStatistics) Next(
	order requestStrategy.PieceOrder, mask *roaring.Bitmap, peer PeerKey,
) g.Option[int] {
	me.mu.Lock()
	defer me.mu.Unlock()
	pieces, ok := me.peers[peer]
	if !ok {
		return g.None[int]()
	}
	return order.Next(me.acc, roaring.And(pieces, mask))
}

// Distributed copies across the swarm, counting local as one more source.
func (me *PieceStatistics) Ratio(local *roaring.Bitmap) float64 {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.acc.RatioWith(local)
}
