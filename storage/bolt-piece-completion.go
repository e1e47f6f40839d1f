package storage

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	boltDbCompleteValue   = "c"
	boltDbIncompleteValue = "i"
)

var completionBucketKey = []byte("completion")

type boltPieceCompletion struct {
	db *bbolt.DB
}

var _ PieceCompletion = boltPieceCompletion{}

func NewBoltPieceCompletion(dir string) (ret PieceCompletion, err error) {
	p := filepath.Join(dir, ".torrent.bolt.db")
	db, err := bbolt.Open(p, 0o660, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		err = errors.Wrapf(err, "opening %q", p)
		return
	}
	db.NoSync = true
	ret = boltPieceCompletion{db}
	return
}

func pieceIndexKey(index int) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(index))
	return key[:]
}

func (me boltPieceCompletion) Get(pk PieceKey) (cn Completion, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		cb := tx.Bucket(completionBucketKey)
		if cb == nil {
			return nil
		}
		ih := cb.Bucket(pk.InfoHash[:])
		if ih == nil {
			return nil
		}
		cn.Ok = true
		switch string(ih.Get(pieceIndexKey(pk.Index))) {
		case boltDbCompleteValue:
			cn.Complete = true
		case boltDbIncompleteValue:
			cn.Complete = false
		default:
			cn.Ok = false
		}
		return nil
	})
	err = errors.Wrap(err, "reading piece completion")
	return
}

func (me boltPieceCompletion) Set(pk PieceKey, b bool) error {
	err := me.db.Update(func(tx *bbolt.Tx) error {
		c, err := tx.CreateBucketIfNotExists(completionBucketKey)
		if err != nil {
			return err
		}
		ih, err := c.CreateBucketIfNotExists(pk.InfoHash[:])
		if err != nil {
			return err
		}
		return ih.Put(pieceIndexKey(pk.Index), []byte(func() string {
			if b {
				return boltDbCompleteValue
			} else {
				return boltDbIncompleteValue
			}
		}()))
	})
	return errors.Wrapf(err, "setting completion of piece %v", pk.Index)
}

func (me boltPieceCompletion) Close() error {
	return me.db.Close()
}
