package torrent

import (
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/go-quicktest/qt"
)

func interestedConn(downloaded int64, unchoked bool) *ConnState {
	cs := newConnState()
	cs.PeerInterested = true
	cs.Choking = !unchoked
	cs.stats.BytesReadUsefulData.Add(downloaded)
	return cs
}

func TestUpdateChokingPrefersBestUploaders(t *testing.T) {
	peers := map[PeerKey]*ConnState{
		testPeer(1): interestedConn(100, false),
		testPeer(2): interestedConn(300, false),
		testPeer(3): interestedConn(200, true),
		testPeer(4): newConnState(),
	}
	updateChoking(peers, 2)
	qt.Check(t, qt.Equals(peers[testPeer(2)].shouldChoke, g.Some(false)))
	// Already unchoked, so nothing to send.
	qt.Check(t, qt.Equals(peers[testPeer(3)].shouldChoke, g.None[bool]()))
	qt.Check(t, qt.Equals(peers[testPeer(1)].shouldChoke, g.None[bool]()))
	qt.Check(t, qt.Equals(peers[testPeer(4)].shouldChoke, g.None[bool]()))
}

func TestUpdateChokingTiesKeepUnchoked(t *testing.T) {
	peers := map[PeerKey]*ConnState{
		testPeer(1): interestedConn(0, false),
		testPeer(2): interestedConn(0, true),
	}
	updateChoking(peers, 1)
	qt.Check(t, qt.Equals(peers[testPeer(2)].shouldChoke, g.None[bool]()))
	qt.Check(t, qt.Equals(peers[testPeer(1)].shouldChoke, g.None[bool]()))

	// A peer that lost interest is choked.
	peers[testPeer(2)].PeerInterested = false
	updateChoking(peers, 1)
	qt.Check(t, qt.Equals(peers[testPeer(2)].shouldChoke, g.Some(true)))
	qt.Check(t, qt.Equals(peers[testPeer(1)].shouldChoke, g.Some(false)))
}
