package torrent

import (
	"math/rand/v2"
	"time"

	"github.com/anacrolix/log"

	"github.com/peerweave/torrent/bitfield"
	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
)

// Turns a connection's assignment into block requests.
type requestProducer struct {
	bitfield    *bitfield.Bitfield
	chunks      storage.Chunks
	dataWorker  *DataWorker
	assignments *Assignments
	logger      log.Logger
	now         func() time.Time
}

func (me *requestProducer) flushCancels(cs *ConnState, send func(pp.Message)) {
	for _, r := range cs.cancels {
		send(r.ToMsg(pp.Cancel))
	}
	cs.cancels = cs.cancels[:0]
}

// Builds the requests for every block of the piece we don't have yet, in random order so that
// peers on the same piece in endgame don't all fetch the same blocks first.
func (me *requestProducer) initRequestQueue(cs *ConnState, piece pieceIndex) {
	clear(cs.pendingWrites)
	chunk := me.chunks.Chunk(piece)
	size := chunk.Size()
	blockSize := chunk.BlockSize()
	cs.requestQueue = cs.requestQueue[:0]
	for b := range chunk.BlockCount() {
		if chunk.IsBlockPresent(b) {
			continue
		}
		begin := int64(b) * blockSize
		cs.requestQueue = append(
			cs.requestQueue,
			NewRequest(piece, int(begin), int(min(blockSize, size-begin))))
	}
	rand.Shuffle(len(cs.requestQueue), func(i, j int) {
		cs.requestQueue[i], cs.requestQueue[j] = cs.requestQueue[j], cs.requestQueue[i]
	})
	cs.initializedRequestQueue = true
}

func (me *requestProducer) produce(peer PeerKey, cs *ConnState, send func(pp.Message)) {
	defer me.flushCancels(cs, send)
	a := cs.assignment
	if a == nil {
		return
	}
	if me.bitfield.IsComplete(a.piece) {
		// Some other connection finished it, or we did and it's being verified.
		a.finish()
		cs.resetRequests()
		return
	}
	if !cs.initializedRequestQueue {
		me.initRequestQueue(cs, a.piece)
	}
	chunk := me.chunks.Chunk(a.piece)
	for len(cs.requestQueue) != 0 && len(cs.pendingRequests) < maxPendingRequests {
		if me.dataWorker.IsOverload() {
			// Not the peer's fault we aren't asking for more.
			a.check()
			break
		}
		r := cs.requestQueue[0]
		cs.requestQueue = cs.requestQueue[1:]
		if chunk.IsPresentAt(r.Begin.Int64()) {
			continue
		}
		send(r.ToMsg(pp.Request))
		cs.pendingRequests[r] = me.now()
	}
	cs.pollPendingWrites()
	if len(cs.requestQueue) == 0 && len(cs.pendingRequests) == 0 && len(cs.pendingWrites) == 0 {
		me.logger.Levelf(log.Debug, "%v has nothing left to do for piece %v", peer, a.piece)
		assignmentEvents.Add("abandoned", 1)
		a.abandon()
		me.assignments.Remove(a)
	}
}
