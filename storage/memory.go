package storage

import (
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"

	typedRoaring "github.com/peerweave/torrent/typed-roaring"
	"github.com/peerweave/torrent/types/infohash"
)

// Chunk storage held entirely in memory.
type Memory struct {
	pieceLength int64
	totalLength int64
	chunks      []*memoryChunk
}

var _ Chunks = (*Memory)(nil)

// Creates empty storage for data of totalLength split into pieces with the given hashes.
func NewMemory(totalLength, pieceLength, blockSize int64, hashes []infohash.T) *Memory {
	panicif.LessThanOrEqual(pieceLength, 0)
	panicif.LessThanOrEqual(blockSize, 0)
	numPieces := int((totalLength + pieceLength - 1) / pieceLength)
	panicif.NotEq(len(hashes), numPieces)
	ret := &Memory{
		pieceLength: pieceLength,
		totalLength: totalLength,
		chunks:      make([]*memoryChunk, numPieces),
	}
	for i := range ret.chunks {
		size := min(pieceLength, totalLength-int64(i)*pieceLength)
		ret.chunks[i] = &memoryChunk{
			data:      make([]byte, size),
			blockSize: blockSize,
			hash:      hashes[i],
		}
	}
	return ret
}

// Creates storage already holding data, with every block present.
func NewMemorySeeded(data []byte, pieceLength, blockSize int64) *Memory {
	ret := NewMemory(int64(len(data)), pieceLength, blockSize, HashPieces(data, pieceLength))
	for i, c := range ret.chunks {
		c.Seed(data[int64(i)*pieceLength:][:c.Size()])
	}
	return ret
}

func (me *Memory) NumChunks() int {
	return len(me.chunks)
}

func (me *Memory) Chunk(i int) Chunk {
	return me.chunks[i]
}

func (me *Memory) PieceLength() int64 {
	return me.pieceLength
}

func (me *Memory) TotalLength() int64 {
	return me.totalLength
}

// Puts data for piece i in place as though every block had been written.
func (me *Memory) Seed(i int, data []byte) {
	me.chunks[i].Seed(data)
}

type memoryChunk struct {
	mu        sync.RWMutex
	data      []byte
	blockSize int64
	present   typedRoaring.Bitmap[int]
	hash      infohash.T
}

func (me *memoryChunk) Size() int64 {
	return int64(len(me.data))
}

func (me *memoryChunk) BlockSize() int64 {
	return me.blockSize
}

func (me *memoryChunk) BlockCount() int {
	return int((me.Size() + me.blockSize - 1) / me.blockSize)
}

func (me *memoryChunk) Hash() infohash.T {
	return me.hash
}

func (me *memoryChunk) IsComplete() bool {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.present.Len() == me.BlockCount()
}

func (me *memoryChunk) IsBlockPresent(blockIndex int) bool {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.present.Contains(blockIndex)
}

func (me *memoryChunk) IsPresentAt(offset int64) bool {
	if offset%me.blockSize != 0 {
		return false
	}
	return me.IsBlockPresent(int(offset / me.blockSize))
}

func (me *memoryChunk) checkExtent(offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > me.Size() {
		return errors.Errorf("extent [%v, %v) outside chunk of size %v", offset, offset+length, me.Size())
	}
	return nil
}

func (me *memoryChunk) ReadBlock(offset, length int64) ([]byte, error) {
	if err := me.checkExtent(offset, length); err != nil {
		return nil, errors.Wrap(err, "reading block")
	}
	me.mu.RLock()
	defer me.mu.RUnlock()
	return append([]byte(nil), me.data[offset:offset+length]...), nil
}

func (me *memoryChunk) WriteBlock(offset int64, data []byte) error {
	if err := me.checkExtent(offset, int64(len(data))); err != nil {
		return errors.Wrap(err, "writing block")
	}
	if offset%me.blockSize != 0 {
		return errors.Errorf("write offset %v not aligned to block size %v", offset, me.blockSize)
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	copy(me.data[offset:], data)
	end := offset + int64(len(data))
	// Blocks count as present only once fully written.
	for b := offset / me.blockSize; b*me.blockSize < end; b++ {
		blockEnd := min((b+1)*me.blockSize, me.Size())
		if blockEnd <= end {
			me.present.Add(int(b))
		}
	}
	return nil
}

func (me *memoryChunk) Clear() {
	me.mu.Lock()
	me.present.Clear()
	me.mu.Unlock()
}

func (me *memoryChunk) Seed(data []byte) {
	panicif.NotEq(int64(len(data)), me.Size())
	me.mu.Lock()
	defer me.mu.Unlock()
	copy(me.data, data)
	me.present.AddRange(0, me.BlockCount())
}
