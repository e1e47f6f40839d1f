package storage

import (
	"github.com/peerweave/torrent/types/infohash"
)

// The data of one piece, divided into fixed size blocks. Writes and reads are addressed by byte
// offset within the chunk. Implementations must be safe for concurrent use, though the data worker
// serializes writes.
type Chunk interface {
	Size() int64
	BlockSize() int64
	BlockCount() int
	// Whether every block has been written.
	IsComplete() bool
	IsBlockPresent(blockIndex int) bool
	// Whether the block starting at offset has been written.
	IsPresentAt(offset int64) bool
	ReadBlock(offset, length int64) ([]byte, error)
	// Offset must be block aligned. Marks the blocks covered by data present.
	WriteBlock(offset int64, data []byte) error
	// Forgets which blocks are present, as after a failed hash check.
	Clear()
	// The expected SHA-1 of the chunk's data.
	Hash() infohash.T
}

// The chunks of a torrent, one per piece.
type Chunks interface {
	NumChunks() int
	Chunk(i int) Chunk
	PieceLength() int64
	TotalLength() int64
}

type PieceKey struct {
	InfoHash infohash.T
	Index    int
}

// Completion state of a piece.
type Completion struct {
	Err error
	// The state is known or cached.
	Ok bool
	// If Ok, whether the data is correct.
	Complete bool
}
