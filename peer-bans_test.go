package torrent

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func TestPeerBansExpireInOrder(t *testing.T) {
	bans := newPeerBans()
	now := time.Unix(1e9, 0)
	bans.ban(testPeer(1), now.Add(3*time.Second))
	bans.ban(testPeer(2), now.Add(time.Second))
	bans.ban(testPeer(3), now.Add(2*time.Second))
	qt.Check(t, qt.CmpEquals(bans.peers(), []PeerKey{testPeer(2), testPeer(3), testPeer(1)}, equatePeerKeys))
	qt.Check(t, qt.HasLen(bans.expire(now), 0))
	qt.Check(t, qt.CmpEquals(bans.expire(now.Add(2*time.Second)), []PeerKey{testPeer(2), testPeer(3)}, equatePeerKeys))
	qt.Check(t, qt.IsTrue(bans.isBanned(testPeer(1))))
	qt.Check(t, qt.IsFalse(bans.isBanned(testPeer(2))))
	qt.Check(t, qt.Equals(bans.len(), 1))
}

func TestPeerBanReplaced(t *testing.T) {
	bans := newPeerBans()
	now := time.Unix(1e9, 0)
	bans.ban(testPeer(1), now.Add(time.Second))
	bans.ban(testPeer(1), now.Add(time.Minute))
	qt.Check(t, qt.Equals(bans.len(), 1))
	qt.Check(t, qt.Equals(bans.byExpires.Len(), 1))
	qt.Check(t, qt.HasLen(bans.expire(now.Add(time.Second)), 0))
	bans.lift(testPeer(1))
	qt.Check(t, qt.IsFalse(bans.isBanned(testPeer(1))))
	qt.Check(t, qt.Equals(bans.byExpires.Len(), 0))
	// Lifting again is harmless.
	bans.lift(testPeer(1))
}
