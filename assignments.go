package torrent

import (
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"

	"github.com/peerweave/torrent/bitfield"
	requestStrategy "github.com/peerweave/torrent/request-strategy"
)

// Tracks which peer is downloading which piece. Outside endgame a piece is assigned to at most one
// peer. In endgame a piece may be assigned to several, so assigned pieces are reference counted.
type Assignments struct {
	mu       sync.Mutex
	bitfield *bitfield.Bitfield
	order    requestStrategy.PieceOrder
	// Used once every remaining piece is assigned.
	endgameOrder requestStrategy.PieceOrder
	stats        *PieceStatistics
	limit        time.Duration
	now          func() time.Time
	logger       log.Logger

	assignedPieces roaring.Bitmap
	pieceRefs      map[pieceIndex]int
	assignments    map[PeerKey]*Assignment
	// Unchoked peers that had something to assign at the last rebalance.
	workers map[PeerKey]struct{}
}

func NewAssignments(
	bf *bitfield.Bitfield,
	order requestStrategy.PieceOrder,
	stats *PieceStatistics,
	cfg *Config,
	r requestStrategy.Rand,
) *Assignments {
	all := roaring.New()
	all.AddRange(0, uint64(bf.NumPieces()))
	return &Assignments{
		bitfield:     bf,
		order:        order,
		endgameOrder: requestStrategy.NewRandom(all, r),
		stats:        stats,
		limit:        cfg.MaxPieceReceivingTime,
		now:          time.Now,
		logger:       cfg.Logger.WithNames("assignments"),
		pieceRefs:    make(map[pieceIndex]int),
		assignments:  make(map[PeerKey]*Assignment),
		workers:      make(map[PeerKey]struct{}),
	}
}

func (me *Assignments) Get(peer PeerKey) (a *Assignment, ok bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	a, ok = me.assignments[peer]
	return
}

// Aborts the assignment and releases its claim on the piece.
func (me *Assignments) Remove(a *Assignment) {
	me.mu.Lock()
	defer me.mu.Unlock()
	a.abort()
	if me.assignments[a.peer] != a {
		return
	}
	delete(me.assignments, a.peer)
	refs := me.pieceRefs[a.piece]
	panicif.LessThanOrEqual(refs, 0)
	if refs == 1 {
		delete(me.pieceRefs, a.piece)
		me.assignedPieces.Remove(uint32(a.piece))
	} else {
		me.pieceRefs[a.piece] = refs - 1
	}
}

func (me *Assignments) Count() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.assignments)
}

func (me *Assignments) WorkersCount() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.workers)
}

func (me *Assignments) PiecesRemaining() int {
	return me.bitfield.RemainingCount()
}

// Copy of the pieces with at least one assignment.
func (me *Assignments) AssignedPieces() *roaring.Bitmap {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.assignedPieces.Clone()
}

func (me *Assignments) IsEndgame() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.isEndgame()
}

// Every piece still needed has been claimed by someone.
func (me *Assignments) isEndgame() bool {
	return me.PiecesRemaining() <= int(me.assignedPieces.GetCardinality())
}

func (me *Assignments) Ratio() float64 {
	return me.stats.Ratio(me.bitfield.CompleteVerified())
}

// The pieces that could be handed out now, and the order to choose them with.
func (me *Assignments) candidates() (mask *roaring.Bitmap, order requestStrategy.PieceOrder, endgame bool) {
	mask = me.bitfield.Remaining()
	endgame = me.isEndgame()
	if endgame {
		// Spread peers across the remaining pieces rather than piling them all on the rarest.
		order = me.endgameOrder
	} else {
		mask.AndNot(&me.assignedPieces)
		order = me.order
	}
	return
}

// Claims a piece the peer has for it to download.
func (me *Assignments) Assign(peer PeerKey) (*Assignment, bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	panicif.True(me.assignments[peer] != nil)
	mask, order, endgame := me.candidates()
	next := me.stats.Next(order, mask, peer)
	me.logger.Levelf(
		log.Debug,
		"claiming assignment for %v: %v pieces remaining, %v in progress, endgame %v: %v",
		peer, me.PiecesRemaining(), me.assignedPieces.GetCardinality(), endgame, next)
	if !next.Ok {
		return nil, false
	}
	a := newAssignment(peer, next.Value, me.limit, me.now)
	me.assignments[peer] = a
	me.pieceRefs[a.piece]++
	me.assignedPieces.AddInt(a.piece)
	assignmentEvents.Add("created", 1)
	return a, true
}

// The peers that have something we want. Ready peers are unchoking us, and count only if they hold
// an assignment or a piece could be assigned to them right now. They also become the current workers. Choking peers count
// if they have any piece we still need.
func (me *Assignments) Interesting(ready, choking []PeerKey) map[PeerKey]struct{} {
	me.mu.Lock()
	defer me.mu.Unlock()
	ret := make(map[PeerKey]struct{})
	mask, _, _ := me.candidates()
	clear(me.workers)
	for _, peer := range ready {
		// Peers already downloading for us stay interesting.
		if me.assignments[peer] != nil || me.stats.Next(me.order, mask, peer).Ok {
			ret[peer] = struct{}{}
			me.workers[peer] = struct{}{}
		}
	}
	for _, peer := range choking {
		if me.stats.HasAny(peer, mask) {
			ret[peer] = struct{}{}
		}
	}
	return ret
}

// Snapshot of the current assignments.
func (me *Assignments) All() []*Assignment {
	me.mu.Lock()
	defer me.mu.Unlock()
	ret := make([]*Assignment, 0, len(me.assignments))
	for _, a := range me.assignments {
		ret = append(ret, a)
	}
	return ret
}
