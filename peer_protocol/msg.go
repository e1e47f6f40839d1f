package peer_protocol

import (
	"fmt"
)

// This is a lazy union representing all the possible fields for messages. Fields are ordered to
// minimize struct size and padding.
type Message struct {
	Piece                []byte
	Bitfield             []bool
	Index, Begin, Length Integer
	Type                 MessageType
	Keepalive            bool
}

type RequestSpec struct {
	Index, Begin, Length Integer
}

func (me RequestSpec) String() string {
	return fmt.Sprintf("{%d %d %d}", me.Index, me.Begin, me.Length)
}

func MakeCancelMessage(piece, offset, length Integer) Message {
	return Message{
		Type:   Cancel,
		Index:  piece,
		Begin:  offset,
		Length: length,
	}
}

func MakeHaveMessage(piece Integer) Message {
	return Message{
		Type:  Have,
		Index: piece,
	}
}

func MakeBitfieldMessage(bf []bool) Message {
	return Message{
		Type:     Bitfield,
		Bitfield: bf,
	}
}

func MakeInterestedMessage(interested bool) Message {
	if interested {
		return Message{Type: Interested}
	}
	return Message{Type: NotInterested}
}

func (msg Message) RequestSpec() (ret RequestSpec) {
	return RequestSpec{
		msg.Index,
		msg.Begin,
		func() Integer {
			if msg.Type == Piece {
				return Integer(len(msg.Piece))
			} else {
				return msg.Length
			}
		}(),
	}
}

const (
	msgTypeLen  = 1 // byte
	msgIndexLen = 4 // uint32
	msgBeginLen = 4 // uint32
)

// Length of the message payload once framed, excluding the 4 byte length prefix.
func (msg Message) GetDataLength() (length int, err error) {
	if msg.Keepalive {
		return
	}
	length += msgTypeLen
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		length += msgIndexLen
	case Request, Cancel:
		length += msgIndexLen + msgBeginLen + msgBeginLen
	case Bitfield:
		length += (len(msg.Bitfield) + 7) / 8
	case Piece:
		length += msgIndexLen + msgBeginLen + len(msg.Piece)
	default:
		err = fmt.Errorf("unknown message type: %v", msg.Type)
	}
	return
}

func (msg Message) String() string {
	switch msg.Type {
	case Have:
		return fmt.Sprintf("Have(%d)", msg.Index)
	case Request, Cancel:
		return fmt.Sprintf("%v%v", msg.Type, msg.RequestSpec())
	case Piece:
		return fmt.Sprintf("Piece%v", msg.RequestSpec())
	case Bitfield:
		return fmt.Sprintf("Bitfield(%d)", len(msg.Bitfield))
	default:
		if msg.Keepalive {
			return "Keepalive"
		}
		return msg.Type.String()
	}
}
