package torrent

import (
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp/cmpopts"

	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types"
)

const testBlockSize = 1 << 10

// go-cmp can't look inside netip.AddrPort, but PeerKeys are comparable.
var equatePeerKeys = cmpopts.EquateComparable(netip.AddrPort{})

func testPeer(i int) PeerKey {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, byte(i)}), 6881)
}

func randomData(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

type testClock struct {
	t time.Time
}

func (me *testClock) Now() time.Time {
	return me.t
}

func (me *testClock) Advance(d time.Duration) {
	me.t = me.t.Add(d)
}

// A session over in-memory storage, with its data worker run by hand and a fake clock.
type testSession struct {
	*Session
	t     testing.TB
	data  []byte
	clock *testClock
}

func newTestSession(t testing.TB, cfg *Config, numPieces int, pieceLength int64) *testSession {
	data := randomData(uint64(numPieces), numPieces*int(pieceLength))
	chunks := storage.NewMemory(
		int64(len(data)), pieceLength, testBlockSize, storage.HashPieces(data, pieceLength))
	return newTestSessionWith(t, cfg, data, SessionSpec{Chunks: chunks, Rand: rand.New(rand.NewPCG(1, 2))})
}

func newTestSessionWith(t testing.TB, cfg *Config, data []byte, spec SessionSpec) *testSession {
	if cfg == nil {
		cfg = TestingConfig()
	}
	s, err := NewSession(cfg, spec)
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { s.Close() })
	clock := &testClock{t: time.Unix(1e9, 0)}
	s.torrentWorker.now = clock.Now
	s.assignments.now = clock.Now
	return &testSession{Session: s, t: t, data: data, clock: clock}
}

// Runs everything queued on the data worker, including hash checks the writes trigger, and fans
// out the resulting announcements.
func (me *testSession) runDataWorker() {
	dw := me.dataWorker
	for {
		f, ok := dw.pop()
		if !ok {
			break
		}
		f()
		dw.pending.Add(-1)
	}
	for {
		select {
		case piece := <-me.torrentWorker.verified:
			me.torrentWorker.announce(piece)
		default:
			return
		}
	}
}

func (me *testSession) addPeer(peer PeerKey) {
	qt.Assert(me.t, qt.IsNil(me.torrentWorker.AddPeer(peer)))
}

func (me *testSession) consume(peer PeerKey, msgs ...pp.Message) {
	for _, msg := range msgs {
		me.torrentWorker.Consume(peer, msg)
	}
}

func (me *testSession) produce(peer PeerKey) (ret sentMessages) {
	me.torrentWorker.Produce(peer, ret.send)
	return
}

// Answers requests from our data, as a seeding peer would.
func (me *testSession) deliver(peer PeerKey, reqs []Request) {
	for _, r := range reqs {
		me.torrentWorker.Consume(peer, me.pieceMessage(r))
	}
}

func (me *testSession) connState(peer PeerKey) *ConnState {
	cs, ok := me.torrentWorker.peers[peer]
	qt.Assert(me.t, qt.IsTrue(ok))
	return cs
}

// The block of our data that r asks for, as a peer would send it.
func (me *testSession) pieceMessage(r Request) pp.Message {
	off := int64(r.Index.Int())*me.chunks.PieceLength() + r.Begin.Int64()
	return pp.Message{
		Type:  pp.Piece,
		Index: r.Index,
		Begin: r.Begin,
		Piece: me.data[off : off+r.Length.Int64()],
	}
}

func bitfieldMessage(numPieces int, pieces ...int) pp.Message {
	bf := make([]bool, numPieces)
	for _, i := range pieces {
		bf[i] = true
	}
	return pp.MakeBitfieldMessage(bf)
}

func allPieces(numPieces int) (ret []int) {
	for i := range numPieces {
		ret = append(ret, i)
	}
	return
}

var unchokeMessage = pp.Message{Type: pp.Unchoke}

type sentMessages []pp.Message

func (me *sentMessages) send(msg pp.Message) {
	*me = append(*me, msg)
}

func (me sentMessages) types() (ret []pp.MessageType) {
	for _, msg := range me {
		ret = append(ret, msg.Type)
	}
	return
}

func (me sentMessages) ofType(mt pp.MessageType) (ret sentMessages) {
	for _, msg := range me {
		if msg.Type == mt {
			ret = append(ret, msg)
		}
	}
	return
}

func (me sentMessages) requests() (ret []Request) {
	for _, msg := range me.ofType(pp.Request) {
		ret = append(ret, types.RequestFromMessage(msg))
	}
	return
}
