package torrent

import (
	"expvar"
)

func init() {
	torrent.Set("blocks discarded", &blocksDiscarded)
	torrent.Set("assignments", &assignmentEvents)
}

var (
	torrent = expvar.NewMap("torrent")
	// Counts of received blocks that were thrown away, keyed by reason.
	blocksDiscarded expvar.Map
	// Counts of assignments created and how they ended.
	assignmentEvents expvar.Map

	pieceHashedCorrect    = expvar.NewInt("pieceHashedCorrect")
	pieceHashedNotCorrect = expvar.NewInt("pieceHashedNotCorrect")

	readsRejectedOverload = expvar.NewInt("readsRejectedOverload")
	writesUnderOverload   = expvar.NewInt("writesUnderOverload")
	// Requests received for pieces we don't have.
	requestsReceivedForMissingPieces = expvar.NewInt("requestsReceivedForMissingPieces")
	messageTypesReceived             = expvar.NewMap("messageTypesReceived")
)
