package peer_protocol

import (
	"fmt"
)

type MessageType byte

// The subset of BEP 3 messages the scheduling core produces and consumes. Framing, handshakes and
// extensions are handled by the connection layer.
const (
	Choke         MessageType = iota
	Unchoke                   // 1
	Interested                // 2
	NotInterested             // 3
	Have                      // 4
	Bitfield                  // 5
	Request                   // 6
	Piece                     // 7
	Cancel                    // 8
)

var messageTypeNames = [...]string{
	Choke:         "Choke",
	Unchoke:       "Unchoke",
	Interested:    "Interested",
	NotInterested: "NotInterested",
	Have:          "Have",
	Bitfield:      "Bitfield",
	Request:       "Request",
	Piece:         "Piece",
	Cancel:        "Cancel",
}

func (mt MessageType) String() string {
	if int(mt) < len(messageTypeNames) {
		return messageTypeNames[mt]
	}
	return fmt.Sprintf("MessageType(%d)", byte(mt))
}

// The conventional block size. Requests for more than this are usually refused by peers.
const DefaultChunkSize = 0x4000 // 16KiB
