// package types contains types that are used by the request strategy and the torrent package and
// need to be shared between them.
package types

import (
	"fmt"
	"net/netip"

	pp "github.com/peerweave/torrent/peer_protocol"
)

type PieceIndex = int

type ChunkSpec struct {
	Begin, Length pp.Integer
}

// A block of a piece. Also used as the key for pending requests and pending writes on a
// connection.
type Request struct {
	Index pp.Integer
	ChunkSpec
}

func NewRequest(index PieceIndex, begin, length int) Request {
	return Request{
		Index:     pp.Integer(index),
		ChunkSpec: ChunkSpec{pp.Integer(begin), pp.Integer(length)},
	}
}

func (r Request) String() string {
	return fmt.Sprintf("piece %v, %v bytes at %v", r.Index, r.Length, r.Begin)
}

func (r Request) ToMsg(mt pp.MessageType) pp.Message {
	return pp.Message{
		Type:   mt,
		Index:  r.Index,
		Begin:  r.Begin,
		Length: r.Length,
	}
}

func RequestFromMessage(msg pp.Message) Request {
	spec := msg.RequestSpec()
	return Request{spec.Index, ChunkSpec{spec.Begin, spec.Length}}
}

// Identifies a remote peer for the lifetime of its connection.
type PeerKey = netip.AddrPort
