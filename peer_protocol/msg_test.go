package peer_protocol

import (
	"testing"

	"github.com/go-quicktest/qt"
)

func TestConstants(t *testing.T) {
	qt.Assert(t, qt.Equals(NotInterested, 3))
	qt.Assert(t, qt.Equals(Cancel, 8))
	qt.Assert(t, qt.Equals(Request.String(), "Request"))
	qt.Assert(t, qt.Equals(MessageType(20).String(), "MessageType(20)"))
}

func TestRequestSpecFromPiece(t *testing.T) {
	msg := Message{Type: Piece, Index: 3, Begin: 16384, Piece: make([]byte, 100)}
	qt.Assert(t, qt.Equals(msg.RequestSpec(), RequestSpec{3, 16384, 100}))
	msg = MakeCancelMessage(3, 0, 16384)
	qt.Assert(t, qt.Equals(msg.RequestSpec(), RequestSpec{3, 0, 16384}))
}

func TestGetDataLength(t *testing.T) {
	for _, tc := range []struct {
		msg    Message
		expect int
	}{
		{Message{Keepalive: true}, 0},
		{Message{Type: Choke}, 1},
		{MakeHaveMessage(42), 5},
		{MakeCancelMessage(1, 2, 3), 13},
		{MakeBitfieldMessage(make([]bool, 37)), 6},
		{Message{Type: Piece, Piece: make([]byte, 10)}, 19},
	} {
		l, err := tc.msg.GetDataLength()
		qt.Assert(t, qt.IsNil(err))
		qt.Check(t, qt.Equals(l, tc.expect), qt.Commentf("%v", tc.msg))
	}
	_, err := Message{Type: 20}.GetDataLength()
	qt.Assert(t, qt.IsNotNil(err))
}
