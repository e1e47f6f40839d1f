package torrent

import (
	"github.com/anacrolix/log"

	"github.com/peerweave/torrent/bitfield"
	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types"
)

// Hands blocks received from peers to the data worker.
type pieceConsumer struct {
	bitfield   *bitfield.Bitfield
	chunks     storage.Chunks
	dataWorker *DataWorker
	logger     log.Logger
}

func (me *pieceConsumer) discard(peer PeerKey, cs *ConnState, r Request, reason string) {
	me.logger.Levelf(log.Debug, "discarding block from %v (%v): %v", peer, r, reason)
	blocksDiscarded.Add(reason, 1)
	cs.stats.ChunksReadWasted.Add(1)
}

func (me *pieceConsumer) consume(peer PeerKey, cs *ConnState, msg pp.Message) {
	r := types.RequestFromMessage(msg)
	if _, ok := cs.pendingRequests[r]; !ok {
		// Late, duplicated, or for a request we cancelled.
		me.discard(peer, cs, r, "unexpected")
		return
	}
	delete(cs.pendingRequests, r)
	piece := r.Index.Int()
	if a := cs.assignment; a != nil && a.piece == piece {
		a.check()
	}
	if me.bitfield.IsCompleteVerified(piece) {
		me.discard(peer, cs, r, "piece verified")
		return
	}
	if me.chunks.Chunk(piece).IsPresentAt(r.Begin.Int64()) {
		me.discard(peer, cs, r, "block present")
		return
	}
	cs.stats.receivedUsefulChunk(len(msg.Piece))
	cs.pendingWrites[r] = &pendingWrite{
		write: me.dataWorker.AddBlock(peer, r, msg.Piece),
	}
}
