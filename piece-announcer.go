package torrent

import (
	"github.com/peerweave/torrent/bitfield"
	pp "github.com/peerweave/torrent/peer_protocol"
)

// Tells peers which pieces we have.
type pieceAnnouncer struct {
	bitfield *bitfield.Bitfield
}

func (me *pieceAnnouncer) produce(cs *ConnState, send func(pp.Message)) {
	if !cs.sentBitfield {
		cs.sentBitfield = true
		// Everything queued so far was verified before the snapshot below.
		cs.unannounced.Clear()
		if me.bitfield.CompleteVerifiedCount() != 0 {
			send(pp.MakeBitfieldMessage(me.bitfield.Bools()))
		}
		return
	}
	for _, i := range cs.unannounced.Drain() {
		send(pp.MakeHaveMessage(pp.Integer(i)))
	}
}
