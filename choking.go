package torrent

import (
	"slices"

	"github.com/anacrolix/multiless"
)

type unchokeCandidate struct {
	peer       PeerKey
	downloaded int64
	unchoked   bool
}

// Peers that have given us the most come first. Ties go to peers that are already unchoked so slots
// don't flap.
func betterUnchokeCandidate(l, r unchokeCandidate) multiless.Computation {
	return multiless.New().CmpInt64(
		r.downloaded - l.downloaded,
	).Bool(
		!l.unchoked, !r.unchoked,
	).Cmp(
		l.peer.Compare(r.peer),
	)
}

// Decides which peers to serve. Interested peers fill the upload slots and everyone else is
// choked. Decisions that change a connection's state are queued on it for the next production tick.
func updateChoking(peers map[PeerKey]*ConnState, slots int) {
	var candidates []unchokeCandidate
	for peer, cs := range peers {
		if !cs.PeerInterested {
			cs.setChoking(true)
			continue
		}
		candidates = append(candidates, unchokeCandidate{
			peer:       peer,
			downloaded: cs.stats.BytesReadUsefulData.Int64(),
			unchoked:   !cs.Choking,
		})
	}
	slices.SortFunc(candidates, func(l, r unchokeCandidate) int {
		return betterUnchokeCandidate(l, r).OrderingInt()
	})
	for i, c := range candidates {
		peers[c.peer].setChoking(i >= slots)
	}
}
