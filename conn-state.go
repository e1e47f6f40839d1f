package torrent

import (
	"time"

	g "github.com/anacrolix/generics"

	typedRoaring "github.com/peerweave/torrent/typed-roaring"
)

// A write submitted to the data worker for a block received on the connection, and then the hash
// check it triggered if any.
type pendingWrite struct {
	write        <-chan BlockWrite
	verification g.Option[<-chan bool]
}

// Returns true once the write, and any verification it triggered, has finished.
func (me *pendingWrite) poll() (done bool) {
	if me.verification.Ok {
		select {
		case <-me.verification.Value:
			return true
		default:
			return false
		}
	}
	select {
	case res := <-me.write:
		if res.Rejected || res.Err != nil || !res.Verification.Ok {
			return true
		}
		me.verification = res.Verification
		return me.poll()
	default:
		return false
	}
}

// A read for a block a peer requested from us.
type pendingRead struct {
	request Request
	read    <-chan BlockRead
}

// The state of a connection to a peer, from the point of view of piece scheduling. Only accessed
// with the TorrentWorker lock held.
type ConnState struct {
	// We want pieces from the peer.
	Interested bool
	// The peer wants pieces from us.
	PeerInterested bool
	// We won't serve the peer's requests.
	Choking bool
	// The peer won't serve our requests.
	PeerChoking bool
	// Pending choke decision, sent on the next production tick.
	shouldChoke g.Option[bool]
	// Pending interest change, sent ahead of anything else.
	interestUpdate g.Option[bool]

	assignment              *Assignment
	requestQueue            []Request
	initializedRequestQueue bool
	// Requests sent and not yet answered, with when they were sent.
	pendingRequests map[Request]time.Time
	pendingWrites   map[Request]*pendingWrite
	// Requests to cancel on the next production tick.
	cancels []Request

	// Reads for the peer in flight, in request order.
	peerReads             []pendingRead
	cancelledPeerRequests map[Request]struct{}

	sentBitfield bool
	// Verified pieces the peer hasn't been told about.
	unannounced typedRoaring.Bitmap[pieceIndex]

	stats ConnStats
}

func newConnState() *ConnState {
	return &ConnState{
		Choking:               true,
		PeerChoking:           true,
		pendingRequests:       make(map[Request]time.Time),
		pendingWrites:         make(map[Request]*pendingWrite),
		cancelledPeerRequests: make(map[Request]struct{}),
	}
}

// The piece currently assigned to the connection.
func (cs *ConnState) Piece() g.Option[pieceIndex] {
	if cs.assignment == nil {
		return g.None[pieceIndex]()
	}
	return g.Some(cs.assignment.piece)
}

func (cs *ConnState) NumPendingRequests() int {
	return len(cs.pendingRequests)
}

func (cs *ConnState) NumPendingWrites() int {
	return len(cs.pendingWrites)
}

func (cs *ConnState) Stats() ConnStats {
	return cs.stats.Copy()
}

// Drops all download work for the current assignment. Outstanding requests become cancels.
func (cs *ConnState) resetRequests() {
	cs.requestQueue = nil
	cs.initializedRequestQueue = false
	for r := range cs.pendingRequests {
		cs.cancels = append(cs.cancels, r)
	}
	clear(cs.pendingRequests)
	clear(cs.pendingWrites)
}

// Drops writes that have finished.
func (cs *ConnState) pollPendingWrites() {
	for r, pw := range cs.pendingWrites {
		if pw.poll() {
			delete(cs.pendingWrites, r)
		}
	}
}

func (cs *ConnState) setInterested(interested bool) {
	if cs.Interested == interested {
		return
	}
	cs.Interested = interested
	cs.interestUpdate = g.Some(interested)
}

// Queues a change to whether we serve the peer.
func (cs *ConnState) setChoking(choking bool) {
	if cs.Choking == choking {
		cs.shouldChoke = g.None[bool]()
	} else {
		cs.shouldChoke = g.Some(choking)
	}
}
