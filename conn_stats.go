package torrent

import (
	"reflect"

	pp "github.com/peerweave/torrent/peer_protocol"
)

// ConnStats are connection-level transfer metrics. At the Session level these are aggregates.
// Chunks are messages with data payloads. Data is actual torrent content without any overhead.
// Useful is something we needed locally. Written is things sent to the peer, and Read is stuff
// received from them.
type ConnStats struct {
	BytesWritten     Count
	BytesWrittenData Count

	BytesRead           Count
	BytesReadData       Count
	BytesReadUsefulData Count

	ChunksWritten Count

	ChunksRead       Count
	ChunksReadUseful Count
	ChunksReadWasted Count
}

// Copy returns a copy of the connection stats.
func (t *ConnStats) Copy() ConnStats {
	return copyCountFields(t)
}

func (t *ConnStats) wroteMsg(msg *pp.Message) {
	if n, err := msg.GetDataLength(); err == nil {
		t.BytesWritten.Add(int64(4 + n))
	}
	switch msg.Type {
	case pp.Piece:
		t.ChunksWritten.Add(1)
		t.BytesWrittenData.Add(int64(len(msg.Piece)))
	}
}

func (t *ConnStats) readMsg(msg *pp.Message) {
	if n, err := msg.GetDataLength(); err == nil {
		t.BytesRead.Add(int64(4 + n))
	}
	switch msg.Type {
	case pp.Piece:
		t.ChunksRead.Add(1)
		t.BytesReadData.Add(int64(len(msg.Piece)))
	}
}

func (t *ConnStats) receivedUsefulChunk(n int) {
	t.ChunksReadUseful.Add(1)
	t.BytesReadUsefulData.Add(int64(n))
}

// Bytes of torrent data exchanged with a peer.
type TransferAmount struct {
	Downloaded int64
	Uploaded   int64
}

func (t *ConnStats) TransferAmount() TransferAmount {
	return TransferAmount{
		Downloaded: t.BytesReadUsefulData.Int64(),
		Uploaded:   t.BytesWrittenData.Int64(),
	}
}

// Accumulates other into t, for totals that outlive connections.
func (t *ConnStats) add(other *ConnStats) {
	dst := reflect.ValueOf(t).Elem()
	src := reflect.ValueOf(other).Elem()
	for i := range dst.NumField() {
		n := src.Field(i).Addr().Interface().(*Count).Int64()
		dst.Field(i).Addr().Interface().(*Count).Add(n)
	}
}
