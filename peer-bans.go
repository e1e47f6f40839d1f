package torrent

import (
	"time"

	"github.com/anacrolix/multiless"
	"github.com/tidwall/btree"
)

type peerBan struct {
	expires time.Time
	peer    PeerKey
}

func peerBanLess(l, r peerBan) bool {
	return multiless.New().Cmp(
		l.expires.Compare(r.expires),
	).Cmp(
		l.peer.Compare(r.peer),
	).Less()
}

// Peers temporarily ineligible for assignments, indexed by when they become eligible again.
type peerBans struct {
	byPeer    map[PeerKey]time.Time
	byExpires *btree.BTreeG[peerBan]
}

func newPeerBans() peerBans {
	return peerBans{
		byPeer: make(map[PeerKey]time.Time),
		byExpires: btree.NewBTreeGOptions(peerBanLess, btree.Options{
			NoLocks: true,
		}),
	}
}

// Bans the peer until expires, replacing any existing ban.
func (me *peerBans) ban(peer PeerKey, expires time.Time) {
	me.lift(peer)
	me.byPeer[peer] = expires
	me.byExpires.Set(peerBan{expires, peer})
}

func (me *peerBans) lift(peer PeerKey) {
	expires, ok := me.byPeer[peer]
	if !ok {
		return
	}
	delete(me.byPeer, peer)
	me.byExpires.Delete(peerBan{expires, peer})
}

func (me *peerBans) isBanned(peer PeerKey) bool {
	_, ok := me.byPeer[peer]
	return ok
}

// Lifts every ban that has expired by now, returning the peers that were freed.
func (me *peerBans) expire(now time.Time) (freed []PeerKey) {
	for {
		first, ok := me.byExpires.Min()
		if !ok || first.expires.After(now) {
			return
		}
		me.byExpires.Delete(first)
		delete(me.byPeer, first.peer)
		freed = append(freed, first.peer)
	}
}

func (me *peerBans) peers() []PeerKey {
	ret := make([]PeerKey, 0, len(me.byPeer))
	me.byExpires.Scan(func(item peerBan) bool {
		ret = append(ret, item.peer)
		return true
	})
	return ret
}

func (me *peerBans) len() int {
	return len(me.byPeer)
}
