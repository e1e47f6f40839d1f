package torrent

import (
	"context"
	"testing"
	"time"

	"github.com/go-quicktest/qt"

	"github.com/peerweave/torrent/storage"
)

const testPieceLength = 4 * testBlockSize

func (me *testSession) writePiece(piece int, corrupt bool) (writes []<-chan BlockWrite) {
	for b := range testPieceLength / testBlockSize {
		r := NewRequest(piece, b*testBlockSize, testBlockSize)
		data := me.pieceMessage(r).Piece
		if corrupt && b == 0 {
			data = append([]byte(nil), data...)
			data[7]++
		}
		writes = append(writes, me.dataWorker.AddBlock(testPeer(1), r, data))
	}
	return
}

func TestDataWorkerVerifiesCompletedPiece(t *testing.T) {
	ts := newTestSession(t, nil, 2, testPieceLength)
	writes := ts.writePiece(1, false)
	ts.runDataWorker()
	for i, w := range writes {
		res := <-w
		qt.Assert(t, qt.IsNil(res.Err))
		qt.Check(t, qt.IsFalse(res.Rejected))
		// Only the last block completes the piece.
		qt.Check(t, qt.Equals(res.Verification.Ok, i == len(writes)-1))
		if res.Verification.Ok {
			qt.Check(t, qt.IsTrue(<-res.Verification.Value))
		}
	}
	bf := ts.Bitfield()
	qt.Check(t, qt.IsTrue(bf.IsCompleteVerified(1)))
	qt.Check(t, qt.IsFalse(bf.IsComplete(0)))
	c, err := ts.completion.Get(storage.PieceKey{InfoHash: ts.infoHash, Index: 1})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c, storage.Completion{Ok: true, Complete: true}))
}

func TestDataWorkerFailedVerification(t *testing.T) {
	ts := newTestSession(t, nil, 2, testPieceLength)
	ts.writePiece(0, true)
	ts.runDataWorker()
	bf := ts.Bitfield()
	qt.Check(t, qt.IsFalse(bf.IsCompleteVerified(0)))
	qt.Check(t, qt.IsFalse(bf.IsComplete(0)))
	qt.Check(t, qt.IsTrue(bf.IsVerified(0)))
	// The piece is wanted again from scratch.
	qt.Check(t, qt.IsTrue(bf.Remaining().ContainsInt(0)))
	qt.Check(t, qt.IsFalse(ts.chunks.Chunk(0).IsBlockPresent(0)))
	c, err := ts.completion.Get(storage.PieceKey{InfoHash: ts.infoHash, Index: 0})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c, storage.Completion{Ok: true, Complete: false}))

	ts.writePiece(0, false)
	ts.runDataWorker()
	qt.Check(t, qt.IsTrue(bf.IsCompleteVerified(0)))
}

func TestDataWorkerRejectsWritesToCompletePieces(t *testing.T) {
	ts := newTestSession(t, nil, 1, testPieceLength)
	ts.writePiece(0, false)
	ts.runDataWorker()
	writes := ts.writePiece(0, false)
	ts.runDataWorker()
	for _, w := range writes {
		qt.Check(t, qt.IsTrue((<-w).Rejected))
	}
}

func TestDataWorkerOverload(t *testing.T) {
	cfg := TestingConfig()
	cfg.MaxIOQueueSize = 2
	ts := newTestSession(t, cfg, 1, testPieceLength)
	dw := ts.dataWorker
	r := NewRequest(0, 0, testBlockSize)
	ts.writePiece(0, false)
	qt.Assert(t, qt.IsTrue(dw.IsOverload()))
	read := <-dw.AddBlockRequest(testPeer(2), r)
	qt.Check(t, qt.IsTrue(read.Rejected))
	ts.runDataWorker()
	qt.Check(t, qt.IsFalse(dw.IsOverload()))
	qt.Check(t, qt.Equals(dw.PendingTasks(), 0))
	reads := dw.AddBlockRequest(testPeer(2), r)
	ts.runDataWorker()
	read = <-reads
	qt.Assert(t, qt.IsNil(read.Err))
	qt.Check(t, qt.DeepEquals(read.Block, ts.pieceMessage(r).Piece))
}

func TestDataWorkerRun(t *testing.T) {
	ts := newTestSession(t, nil, 1, testPieceLength)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- ts.dataWorker.Run(ctx)
	}()
	writes := ts.writePiece(0, false)
	var res BlockWrite
	for _, w := range writes {
		res = <-w
	}
	qt.Assert(t, qt.IsTrue(res.Verification.Ok))
	qt.Check(t, qt.IsTrue(<-res.Verification.Value))
	ts.dataWorker.Close()
	select {
	case err := <-done:
		qt.Check(t, qt.IsNil(err))
	case <-time.After(10 * time.Second):
		t.Fatal("data worker didn't stop")
	}
}
