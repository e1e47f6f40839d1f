package torrent

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/dustin/go-humanize"
)

// A point in time view of a Session for reporting.
type SessionState struct {
	PiecesTotal      int
	PiecesComplete   int
	PiecesIncomplete int
	PiecesRemaining  int
	PiecesSkipped    int
	PiecesNotSkipped int
	// Pieces being downloaded by some peer.
	Processing *roaring.Bitmap
	// Pieces we have and have verified.
	Local *roaring.Bitmap
	// Estimated copies of the torrent across the swarm, including ours.
	Ratio float64

	Downloaded int64
	Uploaded   int64
	PerPeer    map[PeerKey]TransferAmount

	ConnectedPeers []PeerKey
	ActivePeers    []PeerKey
	TimeoutedPeers []PeerKey
	Peers          []PeerState

	Overload      bool
	SelectedBytes int64
	LeftBytes     int64
	Endgame       bool

	complete bool
}

// Every selected piece is verified.
func (me SessionState) IsComplete() bool {
	return me.complete
}

func (me SessionState) String() string {
	return fmt.Sprintf(
		"%v/%v pieces (%v skipped), %v in progress, %v left, %v peers (%v active), down %v, up %v, ratio %.2f",
		me.PiecesComplete, me.PiecesTotal, me.PiecesSkipped, me.Processing.GetCardinality(),
		humanize.Bytes(uint64(me.LeftBytes)), len(me.ConnectedPeers), len(me.ActivePeers),
		humanize.Bytes(uint64(me.Downloaded)), humanize.Bytes(uint64(me.Uploaded)), me.Ratio)
}

func (s *Session) pieceSize(i int) int64 {
	return s.chunks.Chunk(i).Size()
}

func (s *Session) bytesOf(pieces *roaring.Bitmap) (n int64) {
	pieces.Iterate(func(x uint32) bool {
		n += s.pieceSize(int(x))
		return true
	})
	return
}

// Processing pieces are derived from the assignment of each active peer, intersected with what
// that peer has. Assignments for complete pieces linger until the next inspection and are left out.
func (s *Session) processingPieces() *roaring.Bitmap {
	ret := roaring.New()
	for _, a := range s.assignments.All() {
		if s.bitfield.IsComplete(a.piece) {
			continue
		}
		pieces := s.stats.Pieces(a.peer)
		if pieces.Ok && pieces.Value.ContainsInt(a.piece) {
			ret.AddInt(a.piece)
		}
	}
	return ret
}

func (s *Session) State() (ret SessionState) {
	bf := s.bitfield
	ret.PiecesTotal = bf.NumPieces()
	ret.Local = bf.CompleteVerified()
	ret.PiecesComplete = int(ret.Local.GetCardinality())
	ret.PiecesIncomplete = ret.PiecesTotal - ret.PiecesComplete
	remaining := bf.Remaining()
	ret.PiecesRemaining = int(remaining.GetCardinality())
	ret.PiecesSkipped = bf.SkippedCount()
	notSkipped := bf.NotSkipped()
	ret.PiecesNotSkipped = int(notSkipped.GetCardinality())
	ret.complete = roaring.AndNot(notSkipped, ret.Local).IsEmpty()
	ret.Processing = s.processingPieces()
	ret.Ratio = s.stats.Ratio(ret.Local)

	tw := s.torrentWorker
	ret.Peers = tw.PeerStates()
	ret.PerPeer = make(map[PeerKey]TransferAmount, len(ret.Peers))
	for _, ps := range ret.Peers {
		ret.ConnectedPeers = append(ret.ConnectedPeers, ps.Peer)
		ret.PerPeer[ps.Peer] = ps.Stats.TransferAmount()
	}
	total := tw.Stats()
	amount := total.TransferAmount()
	ret.Downloaded = amount.Downloaded
	ret.Uploaded = amount.Uploaded
	ret.ActivePeers = tw.ActivePeers()
	ret.TimeoutedPeers = tw.TimeoutedPeers()

	ret.Overload = s.dataWorker.IsOverload()
	ret.SelectedBytes = s.bytesOf(notSkipped)
	ret.LeftBytes = s.bytesOf(remaining)
	ret.Endgame = s.assignments.IsEndgame()
	return
}
