package torrent

import (
	"github.com/peerweave/torrent/types"
)

type (
	PeerKey    = types.PeerKey
	Request    = types.Request
	ChunkSpec  = types.ChunkSpec
	pieceIndex = types.PieceIndex
)

// Outstanding requests allowed on a connection before we wait for blocks to arrive.
const maxPendingRequests = 5

func NewRequest(index pieceIndex, begin, length int) Request {
	return types.NewRequest(index, begin, length)
}
