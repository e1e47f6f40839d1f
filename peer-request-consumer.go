package torrent

import (
	"github.com/anacrolix/log"

	"github.com/peerweave/torrent/bitfield"
	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types"
)

// Serves blocks peers request from us.
type peerRequestConsumer struct {
	bitfield   *bitfield.Bitfield
	chunks     storage.Chunks
	dataWorker *DataWorker
	logger     log.Logger
}

func (me *peerRequestConsumer) validRequest(r Request) bool {
	piece := r.Index.Int()
	if piece >= me.chunks.NumChunks() {
		return false
	}
	chunk := me.chunks.Chunk(piece)
	if r.Length == 0 || r.Length.Int64() > chunk.BlockSize() {
		return false
	}
	return r.Begin.Int64()+r.Length.Int64() <= chunk.Size()
}

func (me *peerRequestConsumer) consume(peer PeerKey, cs *ConnState, msg pp.Message) {
	r := types.RequestFromMessage(msg)
	switch msg.Type {
	case pp.Cancel:
		cs.cancelledPeerRequests[r] = struct{}{}
		return
	case pp.Request:
	default:
		return
	}
	if cs.Choking {
		me.logger.Levelf(log.Debug, "ignoring request %v from choked peer %v", r, peer)
		return
	}
	if !me.validRequest(r) {
		me.logger.Levelf(log.Debug, "ignoring invalid request %v from %v", r, peer)
		return
	}
	if !me.bitfield.IsCompleteVerified(r.Index.Int()) {
		requestsReceivedForMissingPieces.Add(1)
		return
	}
	// A repeat clears an earlier cancel.
	delete(cs.cancelledPeerRequests, r)
	cs.peerReads = append(cs.peerReads, pendingRead{
		request: r,
		read:    me.dataWorker.AddBlockRequest(peer, r),
	})
}

// Sends finished reads in the order they were requested.
func (me *peerRequestConsumer) produce(peer PeerKey, cs *ConnState, send func(pp.Message)) {
	for len(cs.peerReads) != 0 {
		pr := cs.peerReads[0]
		var res BlockRead
		select {
		case res = <-pr.read:
		default:
			return
		}
		cs.peerReads = cs.peerReads[1:]
		if _, ok := cs.cancelledPeerRequests[pr.request]; ok {
			delete(cs.cancelledPeerRequests, pr.request)
			continue
		}
		if res.Rejected {
			me.logger.Levelf(log.Debug, "dropped read %v for %v: data worker overloaded", pr.request, peer)
			continue
		}
		if res.Err != nil {
			me.logger.Levelf(log.Warning, "error reading %v for %v: %v", pr.request, peer, res.Err)
			continue
		}
		msg := pr.request.ToMsg(pp.Piece)
		msg.Piece = res.Block
		send(msg)
	}
	// Nothing left that a cancel could apply to.
	clear(cs.cancelledPeerRequests)
}

// Stop serving the peer. It has to request again after it's unchoked.
func (me *peerRequestConsumer) choked(cs *ConnState) {
	cs.peerReads = nil
	clear(cs.cancelledPeerRequests)
}
