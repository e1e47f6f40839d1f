package torrent

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"

	pp "github.com/peerweave/torrent/peer_protocol"
)

// Feeds the pieces peers announce into the piece statistics.
type bitfieldConsumer struct {
	stats  *PieceStatistics
	logger log.Logger
}

func (me *bitfieldConsumer) consume(peer PeerKey, msg pp.Message) {
	numPieces := me.stats.NumPieces()
	switch msg.Type {
	case pp.Bitfield:
		// The wire form is padded to a whole number of bytes.
		if len(msg.Bitfield) < numPieces {
			me.logger.Levelf(log.Debug, "ignoring short bitfield from %v: %v bits", peer, len(msg.Bitfield))
			return
		}
		var pieces roaring.Bitmap
		for i, have := range msg.Bitfield {
			if !have {
				continue
			}
			if i >= numPieces {
				me.logger.Levelf(log.Debug, "%v sent bitfield with spare bits set", peer)
				break
			}
			pieces.AddInt(i)
		}
		me.stats.AddPieces(peer, &pieces)
	case pp.Have:
		i := msg.Index.Int()
		if i >= numPieces {
			me.logger.Levelf(log.Debug, "ignoring have for piece %v from %v: out of range", i, peer)
			return
		}
		me.stats.AddPiece(peer, i)
	}
}
