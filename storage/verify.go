package storage

import (
	"crypto/sha1"

	"github.com/pkg/errors"

	"github.com/peerweave/torrent/types/infohash"
)

// Checks a chunk's data against its expected hash.
type Verifier interface {
	Verify(Chunk) (bool, error)
}

type sha1Verifier struct{}

func NewSha1Verifier() Verifier {
	return sha1Verifier{}
}

func (sha1Verifier) Verify(c Chunk) (bool, error) {
	h := sha1.New()
	for off := int64(0); off < c.Size(); off += c.BlockSize() {
		b, err := c.ReadBlock(off, min(c.BlockSize(), c.Size()-off))
		if err != nil {
			return false, errors.Wrap(err, "hashing chunk")
		}
		h.Write(b)
	}
	var sum infohash.T
	copy(sum[:], h.Sum(nil))
	return sum == c.Hash(), nil
}

// The SHA-1 of each pieceLength sized piece of data.
func HashPieces(data []byte, pieceLength int64) (ret []infohash.T) {
	for off := int64(0); off < int64(len(data)); off += pieceLength {
		ret = append(ret, infohash.HashBytes(data[off:min(off+pieceLength, int64(len(data)))]))
	}
	return
}
