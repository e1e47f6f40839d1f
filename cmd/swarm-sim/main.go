// Downloads random data from a simulated swarm, to watch the piece scheduler work.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/peerweave/torrent"
	pp "github.com/peerweave/torrent/peer_protocol"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types/infohash"
)

var logger = log.Default.WithNames("main")

var flags = struct {
	Pieces      int           `help:"number of pieces in the torrent"`
	PieceLength int64         `help:"bytes per piece"`
	Seeders     int           `help:"peers with every piece"`
	Leechers    int           `help:"peers with a random half of the pieces"`
	UploadRate  int           `help:"bytes per second each peer uploads"`
	Churn       float64       `help:"chance per peer per tick of disconnecting"`
	Tick        time.Duration `help:"interval between scheduling rounds"`
	Timeout     time.Duration `help:"give up after this long"`
	Seed        uint64        `help:"random seed, 0 for a random one"`
	Debug       bool

	// Completion is recorded here, though the downloaded data lives only in memory.
	CompletionDir string `help:"directory for a bolt piece completion database"`

	torrent.Config
}{
	Pieces:      128,
	PieceLength: 256 << 10,
	Seeders:     2,
	Leechers:    6,
	UploadRate:  2 << 20,
	Churn:       0.002,
	Tick:        10 * time.Millisecond,
	Timeout:     5 * time.Minute,
	Config:      *torrent.NewDefaultConfig(),
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	arg.MustParse(&flags)
	if flags.Seed == 0 {
		flags.Seed = rand.Uint64()
	}
	fmt.Printf("seed %v\n", flags.Seed)
	rnd := rand.New(rand.NewPCG(flags.Seed, flags.Seed))
	data := make([]byte, int64(flags.Pieces)*flags.PieceLength)
	for i := range data {
		data[i] = byte(rnd.Uint32())
	}
	source := storage.NewMemorySeeded(data, flags.PieceLength, pp.DefaultChunkSize)
	hashes := storage.HashPieces(data, flags.PieceLength)

	cfg := flags.Config
	cfg.Logger = log.Default.WithNames("torrent")
	if !flags.Debug {
		cfg.Logger = cfg.Logger.FilterLevel(log.Info)
	}
	spec := torrent.SessionSpec{
		InfoHash: infohash.HashBytes(data),
		Chunks:   storage.NewMemory(int64(len(data)), flags.PieceLength, pp.DefaultChunkSize, hashes),
		Rand:     rnd,
	}
	if flags.CompletionDir != "" {
		spec.PieceCompletion = storage.PieceCompletionForDir(flags.CompletionDir, logger)
		defer spec.PieceCompletion.Close()
	}
	session, err := torrent.NewSession(&cfg, spec)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	sw := newSwarm(session.TorrentWorker(), source, rnd)
	for i := range flags.Seeders + flags.Leechers {
		pieces := roaring.New()
		if i < flags.Seeders {
			pieces.AddRange(0, uint64(flags.Pieces))
		} else {
			for p := range flags.Pieces {
				if rnd.IntN(2) == 0 {
					pieces.AddInt(p)
				}
			}
		}
		sw.addPeer(pieces)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})
	started := time.Now()
	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(flags.Tick)
		defer ticker.Stop()
		lastReport := started
		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("download incomplete: %w", context.Cause(ctx))
			case <-ticker.C:
			}
			sw.tick()
			state := session.State()
			if state.IsComplete() {
				fmt.Printf("completed in %v: %v\n", time.Since(started), state)
				return nil
			}
			if time.Since(lastReport) >= time.Second {
				lastReport = time.Now()
				fmt.Println(state)
			}
		}
	})
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	state := session.State()
	if !state.IsComplete() {
		return fmt.Errorf("download incomplete: %v", state)
	}
	for _, p := range sw.peers {
		fmt.Printf("%v: uploaded %v, reconnects %v\n", p.key, humanize.Bytes(uint64(p.uploaded)), p.reconnects)
	}
	return nil
}

// An in-process peer that serves from a copy of the data.
type simPeer struct {
	key        netip.AddrPort
	pieces     *roaring.Bitmap
	limiter    *rate.Limiter
	connected  bool
	reconnects int
	uploaded   int64
	// Messages waiting to be delivered to the session.
	outbox []pp.Message
	// Requests not yet served because of the upload limit.
	requests []pp.Message
}

type swarm struct {
	tw     *torrent.TorrentWorker
	source storage.Chunks
	rand   *rand.Rand
	peers  []*simPeer
}

func newSwarm(tw *torrent.TorrentWorker, source storage.Chunks, r *rand.Rand) *swarm {
	return &swarm{tw: tw, source: source, rand: r}
}

func (sw *swarm) addPeer(pieces *roaring.Bitmap) {
	i := len(sw.peers)
	p := &simPeer{
		key:     netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}), 6881),
		pieces:  pieces,
		limiter: rate.NewLimiter(rate.Limit(flags.UploadRate), 256<<10),
	}
	sw.peers = append(sw.peers, p)
	sw.connect(p)
}

func (sw *swarm) connect(p *simPeer) {
	if err := sw.tw.AddPeer(p.key); err != nil {
		panic(err)
	}
	p.connected = true
	p.outbox = p.outbox[:0]
	p.requests = p.requests[:0]
	bf := make([]bool, sw.source.NumChunks())
	p.pieces.Iterate(func(x uint32) bool {
		bf[x] = true
		return true
	})
	p.outbox = append(p.outbox, pp.MakeBitfieldMessage(bf), pp.Message{Type: pp.Unchoke})
}

func (sw *swarm) tick() {
	for _, p := range sw.peers {
		if !p.connected {
			if sw.rand.Float64() < 0.05 {
				p.reconnects++
				sw.connect(p)
			}
			continue
		}
		if sw.rand.Float64() < flags.Churn {
			sw.tw.RemovePeer(p.key)
			p.connected = false
			continue
		}
		sw.tw.Produce(p.key, p.receive)
		sw.serve(p)
		for _, msg := range p.outbox {
			sw.tw.Consume(p.key, msg)
		}
		p.outbox = p.outbox[:0]
	}
}

func (p *simPeer) receive(msg pp.Message) {
	switch msg.Type {
	case pp.Request:
		p.requests = append(p.requests, msg)
	case pp.Cancel:
		for i, r := range p.requests {
			if r.Index == msg.Index && r.Begin == msg.Begin && r.Length == msg.Length {
				p.requests = append(p.requests[:i], p.requests[i+1:]...)
				break
			}
		}
	}
}

// Answers queued requests as fast as the upload limit allows.
func (sw *swarm) serve(p *simPeer) {
	for len(p.requests) != 0 {
		r := p.requests[0]
		if !p.limiter.AllowN(time.Now(), r.Length.Int()) {
			return
		}
		p.requests = p.requests[1:]
		if !p.pieces.ContainsInt(r.Index.Int()) {
			continue
		}
		block, err := sw.source.Chunk(r.Index.Int()).ReadBlock(r.Begin.Int64(), r.Length.Int64())
		if err != nil {
			panic(err)
		}
		p.uploaded += int64(len(block))
		p.outbox = append(p.outbox, pp.Message{
			Type:  pp.Piece,
			Index: r.Index,
			Begin: r.Begin,
			Piece: block,
		})
	}
}
