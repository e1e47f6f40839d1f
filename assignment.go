package torrent

import (
	"fmt"
	"time"

	"github.com/anacrolix/missinggo/v2/panicif"
)

type AssignmentStatus int

const (
	AssignmentActive AssignmentStatus = iota
	AssignmentDone
	AssignmentTimeout
)

func (s AssignmentStatus) String() string {
	switch s {
	case AssignmentActive:
		return "active"
	case AssignmentDone:
		return "done"
	case AssignmentTimeout:
		return "timeout"
	}
	return fmt.Sprintf("AssignmentStatus(%d)", int(s))
}

// A peer's claim on a piece it is expected to deliver. The deadline is pushed back each time the
// peer makes progress on the piece. Accessed only with the TorrentWorker lock held.
type Assignment struct {
	peer  PeerKey
	piece pieceIndex
	limit time.Duration
	now   func() time.Time

	conn        *ConnState
	started     time.Time
	lastChecked time.Time
	finished    bool
}

func newAssignment(peer PeerKey, piece pieceIndex, limit time.Duration, now func() time.Time) *Assignment {
	return &Assignment{
		peer:  peer,
		piece: piece,
		limit: limit,
		now:   now,
	}
}

func (a *Assignment) Peer() PeerKey {
	return a.peer
}

func (a *Assignment) Piece() pieceIndex {
	return a.piece
}

func (a *Assignment) Status() AssignmentStatus {
	if a.finished {
		return AssignmentDone
	}
	if !a.started.IsZero() && a.now().Sub(a.lastChecked) > a.limit {
		return AssignmentTimeout
	}
	return AssignmentActive
}

// Binds the assignment to the connection that will download it.
func (a *Assignment) start(conn *ConnState) {
	panicif.True(conn.assignment != nil)
	panicif.True(a.conn != nil)
	panicif.True(len(conn.requestQueue) != 0)
	panicif.True(len(conn.pendingRequests) != 0)
	conn.assignment = a
	conn.initializedRequestQueue = false
	a.conn = conn
	a.started = a.now()
	a.lastChecked = a.started
}

// The peer made progress on the piece.
func (a *Assignment) check() {
	a.lastChecked = a.now()
}

func (a *Assignment) finish() {
	a.finished = true
}

// Detaches the assignment from its connection, discarding the connection's queued work. Requests
// still outstanding are queued as cancels for the connection to send.
func (a *Assignment) abort() {
	cs := a.conn
	if cs == nil || cs.assignment != a {
		return
	}
	cs.resetRequests()
	cs.assignment = nil
}

// The connection ran out of work for the piece without completing it. The peer is free to be given
// another piece.
func (a *Assignment) abandon() {
	a.abort()
	a.finished = true
}

func (a *Assignment) String() string {
	return fmt.Sprintf("piece %v to %v (%v)", a.piece, a.peer, a.Status())
}
