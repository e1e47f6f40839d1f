package torrent

import (
	"context"
	"slices"
	"time"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"

	"github.com/peerweave/torrent/bitfield"
	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
)

// Drives piece scheduling for one torrent. Connections feed it the messages they receive with
// Consume, and call Produce to get the messages they should send. All connection state is guarded by
// a single lock.
type TorrentWorker struct {
	mu     sync.RWMutex
	config *Config
	logger log.Logger
	now    func() time.Time

	bitfield    *bitfield.Bitfield
	chunks      storage.Chunks
	stats       *PieceStatistics
	assignments *Assignments
	dataWorker  *DataWorker

	peers map[PeerKey]*ConnState
	bans  peerBans
	// Peers removed since the last rebalance.
	disconnected           []PeerKey
	lastUpdatedAssignments time.Time
	// Transfer totals of peers no longer connected.
	closedConnStats ConnStats

	verified chan pieceIndex
	closed   chansync.SetOnce

	requests  requestProducer
	pieces    pieceConsumer
	bitfields bitfieldConsumer
	uploads   peerRequestConsumer
	announcer pieceAnnouncer
}

type TorrentWorkerOpts struct {
	Bitfield    *bitfield.Bitfield
	Chunks      storage.Chunks
	Stats       *PieceStatistics
	Assignments *Assignments
	DataWorker  *DataWorker
}

func NewTorrentWorker(opts TorrentWorkerOpts, cfg *Config) *TorrentWorker {
	logger := cfg.Logger.WithNames("torrent-worker")
	tw := &TorrentWorker{
		config:      cfg,
		logger:      logger,
		now:         time.Now,
		bitfield:    opts.Bitfield,
		chunks:      opts.Chunks,
		stats:       opts.Stats,
		assignments: opts.Assignments,
		dataWorker:  opts.DataWorker,
		peers:       make(map[PeerKey]*ConnState),
		bans:        newPeerBans(),
		verified:    make(chan pieceIndex, opts.Bitfield.NumPieces()),
	}
	tw.requests = requestProducer{
		bitfield:    opts.Bitfield,
		chunks:      opts.Chunks,
		dataWorker:  opts.DataWorker,
		assignments: opts.Assignments,
		logger:      logger,
		now:         func() time.Time { return tw.now() },
	}
	tw.pieces = pieceConsumer{
		bitfield:   opts.Bitfield,
		chunks:     opts.Chunks,
		dataWorker: opts.DataWorker,
		logger:     logger,
	}
	tw.bitfields = bitfieldConsumer{
		stats:  opts.Stats,
		logger: logger,
	}
	tw.uploads = peerRequestConsumer{
		bitfield:   opts.Bitfield,
		chunks:     opts.Chunks,
		dataWorker: opts.DataWorker,
		logger:     logger,
	}
	tw.announcer = pieceAnnouncer{bitfield: opts.Bitfield}
	return tw
}

func (tw *TorrentWorker) AddPeer(peer PeerKey) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, ok := tw.peers[peer]; ok {
		return errors.Errorf("peer %v already added", peer)
	}
	tw.peers[peer] = newConnState()
	tw.logger.Levelf(log.Debug, "added peer %v", peer)
	return nil
}

// Forgets the peer. Its assignment is released immediately so another peer can take the piece.
func (tw *TorrentWorker) RemovePeer(peer PeerKey) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	cs, ok := tw.peers[peer]
	if !ok {
		return
	}
	delete(tw.peers, peer)
	if a, ok := tw.assignments.Get(peer); ok {
		assignmentEvents.Add("disconnected", 1)
		tw.assignments.Remove(a)
	}
	tw.stats.RemovePieces(peer)
	tw.closedConnStats.add(&cs.stats)
	tw.disconnected = append(tw.disconnected, peer)
	tw.logger.Levelf(log.Debug, "removed peer %v", peer)
}

// Handles a message received from the peer.
func (tw *TorrentWorker) Consume(peer PeerKey, msg pp.Message) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	cs, ok := tw.peers[peer]
	if !ok {
		return
	}
	cs.stats.readMsg(&msg)
	if msg.Keepalive {
		return
	}
	messageTypesReceived.Add(msg.Type.String(), 1)
	switch msg.Type {
	case pp.Choke:
		cs.PeerChoking = true
	case pp.Unchoke:
		cs.PeerChoking = false
	case pp.Interested:
		cs.PeerInterested = true
	case pp.NotInterested:
		cs.PeerInterested = false
	case pp.Have, pp.Bitfield:
		tw.bitfields.consume(peer, msg)
	case pp.Request, pp.Cancel:
		tw.uploads.consume(peer, cs, msg)
	case pp.Piece:
		tw.pieces.consume(peer, cs, msg)
	default:
		tw.logger.Levelf(log.Debug, "unhandled message from %v: %v", peer, msg)
	}
}

// Works out what to send to the peer, passing each message to send in order. send is called with
// the worker locked and must not call back into it.
func (tw *TorrentWorker) Produce(peer PeerKey, send func(pp.Message)) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	cs, ok := tw.peers[peer]
	if !ok {
		return
	}
	sendMsg := func(msg pp.Message) {
		cs.stats.wroteMsg(&msg)
		send(msg)
	}
	now := tw.now()
	if tw.bitfield.RemainingCount() != 0 || tw.assignments.Count() != 0 {
		tw.inspectAssignment(peer, cs, now)
	}
	if tw.shouldUpdateAssignments(now) {
		tw.updateAssignments(now)
	}
	if cs.interestUpdate.Ok {
		sendMsg(pp.MakeInterestedMessage(cs.interestUpdate.Value))
		cs.interestUpdate = g.None[bool]()
	}
	if cs.shouldChoke.Ok {
		choking := cs.shouldChoke.Value
		cs.shouldChoke = g.None[bool]()
		cs.Choking = choking
		if choking {
			tw.uploads.choked(cs)
			sendMsg(pp.Message{Type: pp.Choke})
		} else {
			sendMsg(pp.Message{Type: pp.Unchoke})
		}
	}
	tw.announcer.produce(cs, sendMsg)
	tw.uploads.produce(peer, cs, sendMsg)
	tw.requests.produce(peer, cs, sendMsg)
}

func (tw *TorrentWorker) inspectAssignment(peer PeerKey, cs *ConnState, now time.Time) {
	if a, ok := tw.assignments.Get(peer); ok {
		switch a.Status() {
		case AssignmentActive:
		case AssignmentDone:
			assignmentEvents.Add("done", 1)
			tw.assignments.Remove(a)
			return
		case AssignmentTimeout:
			tw.logger.Levelf(log.Debug, "%v timed out, banning until %v", a, now.Add(tw.config.TimeoutedAssignmentPeerBanDuration))
			assignmentEvents.Add("timeout", 1)
			tw.bans.ban(peer, now.Add(tw.config.TimeoutedAssignmentPeerBanDuration))
			tw.assignments.Remove(a)
		}
	}
	if cs.PeerChoking {
		if a, ok := tw.assignments.Get(peer); ok {
			assignmentEvents.Add("choked", 1)
			tw.assignments.Remove(a)
		}
		return
	}
	if _, ok := tw.assignments.Get(peer); ok {
		return
	}
	if tw.bans.isBanned(peer) {
		return
	}
	if tw.assignments.Count() >= tw.config.MaxConcurrentlyActivePeerConnectionsPerTorrent {
		return
	}
	if a, ok := tw.assignments.Assign(peer); ok {
		a.start(cs)
	}
}

func (tw *TorrentWorker) shouldUpdateAssignments(now time.Time) bool {
	since := now.Sub(tw.lastUpdatedAssignments)
	if since >= tw.config.UpdateAssignmentsMandatoryInterval {
		return true
	}
	return since >= tw.config.UpdateAssignmentsOptionalInterval &&
		tw.assignments.WorkersCount() < tw.config.MaxConcurrentlyActivePeerConnectionsPerTorrent
}

// Purges state for peers that went away, expires bans, and recomputes interest and choking for
// every peer.
func (tw *TorrentWorker) updateAssignments(now time.Time) {
	tw.lastUpdatedAssignments = now
	for _, peer := range tw.disconnected {
		tw.bans.lift(peer)
	}
	tw.disconnected = tw.disconnected[:0]
	for _, peer := range tw.bans.expire(now) {
		tw.logger.Levelf(log.Debug, "ban on %v expired", peer)
	}
	var ready, choking []PeerKey
	for peer, cs := range tw.peers {
		if tw.bans.isBanned(peer) {
			continue
		}
		if cs.PeerChoking {
			choking = append(choking, peer)
		} else {
			ready = append(ready, peer)
		}
	}
	interesting := tw.assignments.Interesting(ready, choking)
	for peer, cs := range tw.peers {
		if tw.bans.isBanned(peer) {
			continue
		}
		_, ok := interesting[peer]
		cs.setInterested(ok)
	}
	updateChoking(tw.peers, tw.config.MaxUploadSlots)
}

// Called by the data worker after each hash check.
func (tw *TorrentWorker) pieceVerified(piece pieceIndex, ok bool) {
	if !ok {
		return
	}
	select {
	case tw.verified <- piece:
	default:
		// Only possible if a piece verifies more than once.
		tw.logger.Levelf(log.Warning, "dropped announcement of piece %v", piece)
	}
}

func (tw *TorrentWorker) announce(piece pieceIndex) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	for _, cs := range tw.peers {
		cs.unannounced.Add(piece)
	}
}

// Fans out verified pieces to connections until ctx is done or the worker is closed.
func (tw *TorrentWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-tw.closed.Done():
			return nil
		case piece := <-tw.verified:
			tw.announce(piece)
		}
	}
}

func (tw *TorrentWorker) Close() {
	tw.closed.Set()
}

// A snapshot of a connection's scheduling state.
type PeerState struct {
	Peer           PeerKey
	Interested     bool
	PeerInterested bool
	Choking        bool
	PeerChoking    bool
	// The piece assigned to the peer, if any.
	Piece           g.Option[pieceIndex]
	PendingRequests int
	PendingWrites   int
	Banned          bool
	Stats           ConnStats
}

func (tw *TorrentWorker) peerState(peer PeerKey, cs *ConnState) PeerState {
	return PeerState{
		Peer:            peer,
		Interested:      cs.Interested,
		PeerInterested:  cs.PeerInterested,
		Choking:         cs.Choking,
		PeerChoking:     cs.PeerChoking,
		Piece:           cs.Piece(),
		PendingRequests: cs.NumPendingRequests(),
		PendingWrites:   cs.NumPendingWrites(),
		Banned:          tw.bans.isBanned(peer),
		Stats:           cs.Stats(),
	}
}

func (tw *TorrentWorker) PeerState(peer PeerKey) g.Option[PeerState] {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	cs, ok := tw.peers[peer]
	if !ok {
		return g.None[PeerState]()
	}
	return g.Some(tw.peerState(peer, cs))
}

// States of all connected peers, ordered by address.
func (tw *TorrentWorker) PeerStates() []PeerState {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	ret := make([]PeerState, 0, len(tw.peers))
	for peer, cs := range tw.peers {
		ret = append(ret, tw.peerState(peer, cs))
	}
	slices.SortFunc(ret, func(l, r PeerState) int {
		return l.Peer.Compare(r.Peer)
	})
	return ret
}

func (tw *TorrentWorker) Peers() []PeerKey {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	ret := make([]PeerKey, 0, len(tw.peers))
	for peer := range tw.peers {
		ret = append(ret, peer)
	}
	slices.SortFunc(ret, PeerKey.Compare)
	return ret
}

// Connected peers that aren't serving a ban for a timed out assignment.
func (tw *TorrentWorker) ActivePeers() []PeerKey {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	ret := make([]PeerKey, 0, len(tw.peers))
	for peer := range tw.peers {
		if !tw.bans.isBanned(peer) {
			ret = append(ret, peer)
		}
	}
	slices.SortFunc(ret, PeerKey.Compare)
	return ret
}

// Peers banned from assignments after letting one time out.
func (tw *TorrentWorker) TimeoutedPeers() []PeerKey {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.bans.peers()
}

// Transfer totals across all peers, including ones that have gone.
func (tw *TorrentWorker) Stats() (ret ConnStats) {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	ret.add(&tw.closedConnStats)
	for _, cs := range tw.peers {
		ret.add(&cs.stats)
	}
	return
}
