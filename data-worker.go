package torrent

import (
	"context"
	"sync/atomic"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	list "github.com/bahlo/generic-list-go"
	"github.com/pkg/errors"

	"github.com/peerweave/torrent/bitfield"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types/infohash"
)

// Result of reading a block to send to a peer. Rejected reads were never attempted because the
// worker was overloaded. The peer can ask again.
type BlockRead struct {
	Peer     PeerKey
	Request  Request
	Rejected bool
	Err      error
	Block    []byte
}

// Result of writing a block received from a peer. If the write completed the piece, Verification
// delivers the outcome of the hash check.
type BlockWrite struct {
	Peer         PeerKey
	Request      Request
	Rejected     bool
	Err          error
	Verification g.Option[<-chan bool]
}

// Performs block reads, writes and piece verification in submission order on a single goroutine.
type DataWorker struct {
	chunks     storage.Chunks
	bitfield   *bitfield.Bitfield
	verifier   storage.Verifier
	completion storage.PieceCompletion
	infoHash   infohash.T
	logger     log.Logger
	maxPending int64
	onVerified func(piece pieceIndex, ok bool)

	pending atomic.Int64
	mu      sync.Mutex
	tasks   list.List[func()]
	newTask chansync.BroadcastCond
	closed  chansync.SetOnce
}

type DataWorkerOpts struct {
	Chunks     storage.Chunks
	Bitfield   *bitfield.Bitfield
	Verifier   storage.Verifier
	Completion storage.PieceCompletion
	InfoHash   infohash.T
	// Called on the worker goroutine after each hash check.
	OnVerified func(piece pieceIndex, ok bool)
}

func NewDataWorker(opts DataWorkerOpts, cfg *Config) *DataWorker {
	return &DataWorker{
		chunks:     opts.Chunks,
		bitfield:   opts.Bitfield,
		verifier:   opts.Verifier,
		completion: opts.Completion,
		infoHash:   opts.InfoHash,
		onVerified: opts.OnVerified,
		logger:     cfg.Logger.WithNames("data-worker"),
		maxPending: int64(cfg.MaxIOQueueSize),
	}
}

func (dw *DataWorker) IsOverload() bool {
	return dw.pending.Load() >= dw.maxPending
}

func (dw *DataWorker) PendingTasks() int {
	return int(dw.pending.Load())
}

func (dw *DataWorker) Close() {
	dw.closed.Set()
}

func (dw *DataWorker) enqueue(f func()) {
	dw.pending.Add(1)
	dw.mu.Lock()
	dw.tasks.PushBack(f)
	dw.newTask.Broadcast()
	dw.mu.Unlock()
}

func (dw *DataWorker) pop() (f func(), ok bool) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	e := dw.tasks.Front()
	if e == nil {
		return
	}
	dw.tasks.Remove(e)
	return e.Value, true
}

// Runs tasks until ctx is done or the worker is closed.
func (dw *DataWorker) Run(ctx context.Context) error {
	for {
		if dw.closed.IsSet() {
			return nil
		}
		dw.mu.Lock()
		newTask := dw.newTask.Signaled()
		dw.mu.Unlock()
		f, ok := dw.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-dw.closed.Done():
				return nil
			case <-newTask:
			}
			continue
		}
		f()
		dw.pending.Add(-1)
	}
}

// Queues a read of a block for a peer. Rejected immediately when overloaded.
func (dw *DataWorker) AddBlockRequest(peer PeerKey, r Request) <-chan BlockRead {
	ret := make(chan BlockRead, 1)
	if dw.IsOverload() {
		dw.logger.Levelf(log.Debug, "rejecting read for %v from %v: queue is full", r, peer)
		readsRejectedOverload.Add(1)
		ret <- BlockRead{Peer: peer, Request: r, Rejected: true}
		return ret
	}
	dw.enqueue(func() {
		res := BlockRead{Peer: peer, Request: r}
		chunk := dw.chunks.Chunk(int(r.Index))
		res.Block, res.Err = chunk.ReadBlock(r.Begin.Int64(), r.Length.Int64())
		ret <- res
	})
	return ret
}

// Queues a write of a block received from a peer. Always accepted, since the peer has already sent
// the data.
func (dw *DataWorker) AddBlock(peer PeerKey, r Request, data []byte) <-chan BlockWrite {
	ret := make(chan BlockWrite, 1)
	if dw.IsOverload() {
		dw.logger.Levelf(log.Debug, "accepting write for %v under overload", r)
		writesUnderOverload.Add(1)
	}
	dw.enqueue(func() {
		ret <- dw.writeBlock(peer, r, data)
	})
	return ret
}

func (dw *DataWorker) writeBlock(peer PeerKey, r Request, data []byte) (res BlockWrite) {
	res = BlockWrite{Peer: peer, Request: r}
	piece := int(r.Index)
	// Complete pieces are either verified or waiting to be.
	if dw.bitfield.IsComplete(piece) {
		dw.logger.Levelf(log.Debug, "rejecting write for %v: piece already complete", r)
		res.Rejected = true
		return
	}
	chunk := dw.chunks.Chunk(piece)
	if err := chunk.WriteBlock(r.Begin.Int64(), data); err != nil {
		res.Err = errors.Wrapf(err, "writing %v", r)
		return
	}
	if chunk.IsComplete() {
		dw.bitfield.MarkComplete(piece)
		verified := make(chan bool, 1)
		dw.enqueue(func() {
			verified <- dw.verify(piece)
		})
		res.Verification.Set(verified)
	}
	return
}

// Queues a hash check of a piece whose data is all present, as when resuming.
func (dw *DataWorker) VerifyPiece(piece pieceIndex) <-chan bool {
	dw.bitfield.MarkComplete(piece)
	ret := make(chan bool, 1)
	dw.enqueue(func() {
		ret <- dw.verify(piece)
	})
	return ret
}

func (dw *DataWorker) verify(piece pieceIndex) bool {
	chunk := dw.chunks.Chunk(piece)
	ok, err := dw.verifier.Verify(chunk)
	if err != nil {
		dw.logger.Levelf(log.Error, "error verifying piece %v: %v", piece, err)
		ok = false
	}
	dw.logger.Levelf(log.Debug, "piece %v verification result: %v", piece, ok)
	if ok {
		pieceHashedCorrect.Add(1)
	} else {
		pieceHashedNotCorrect.Add(1)
		chunk.Clear()
	}
	dw.bitfield.MarkVerified(piece, ok)
	if dw.completion != nil {
		err := dw.completion.Set(storage.PieceKey{InfoHash: dw.infoHash, Index: piece}, ok)
		if err != nil {
			dw.logger.Levelf(log.Warning, "error recording completion of piece %v: %v", piece, err)
		}
	}
	if dw.onVerified != nil {
		dw.onVerified(piece, ok)
	}
	return ok
}
