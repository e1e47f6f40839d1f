package torrent

import (
	"context"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/peerweave/torrent/bitfield"
	requestStrategy "github.com/peerweave/torrent/request-strategy"
	"github.com/peerweave/torrent/storage"
	"github.com/peerweave/torrent/types/infohash"
)

// What a Session downloads, and where.
type SessionSpec struct {
	InfoHash infohash.T
	Chunks   storage.Chunks
	// Defaults to SHA-1 of each chunk.
	Verifier storage.Verifier
	// Where verification results are kept between sessions. Defaults to an in-memory store owned by
	// the Session.
	PieceCompletion storage.PieceCompletion
	// Initial file selection. Defaults to the whole torrent in randomized rarest first order.
	Files []requestStrategy.FileSelection
	// Source of randomness for piece orders. Defaults to the global source.
	Rand requestStrategy.Rand
}

// Piece scheduling for one torrent.
type Session struct {
	config   *Config
	logger   log.Logger
	infoHash infohash.T
	chunks   storage.Chunks
	rand     requestStrategy.Rand

	bitfield      *bitfield.Bitfield
	stats         *PieceStatistics
	order         *requestStrategy.Delegate
	assignments   *Assignments
	dataWorker    *DataWorker
	torrentWorker *TorrentWorker

	completion     storage.PieceCompletion
	ownsCompletion bool
	collector      *SessionCollector
}

func NewSession(cfg *Config, spec SessionSpec) (_ *Session, err error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if spec.Chunks == nil {
		return nil, errors.New("no chunks")
	}
	numPieces := spec.Chunks.NumChunks()
	s := &Session{
		config:     cfg,
		logger:     cfg.Logger.WithNames("session"),
		infoHash:   spec.InfoHash,
		chunks:     spec.Chunks,
		rand:       spec.Rand,
		bitfield:   bitfield.New(numPieces),
		stats:      NewPieceStatistics(numPieces),
		order:      &requestStrategy.Delegate{},
		completion: spec.PieceCompletion,
	}
	if s.completion == nil {
		s.completion = storage.NewMapPieceCompletion()
		s.ownsCompletion = true
	}
	verifier := spec.Verifier
	if verifier == nil {
		verifier = storage.NewSha1Verifier()
	}
	s.assignments = NewAssignments(s.bitfield, s.order, s.stats, cfg, s.rand)
	s.dataWorker = NewDataWorker(DataWorkerOpts{
		Chunks:     s.chunks,
		Bitfield:   s.bitfield,
		Verifier:   verifier,
		Completion: s.completion,
		InfoHash:   s.infoHash,
		OnVerified: func(piece pieceIndex, ok bool) {
			s.torrentWorker.pieceVerified(piece, ok)
		},
	}, cfg)
	s.torrentWorker = NewTorrentWorker(TorrentWorkerOpts{
		Bitfield:    s.bitfield,
		Chunks:      s.chunks,
		Stats:       s.stats,
		Assignments: s.assignments,
		DataWorker:  s.dataWorker,
	}, cfg)
	files := spec.Files
	if files == nil {
		files = []requestStrategy.FileSelection{{
			Length:   s.chunks.TotalLength(),
			Priority: requestStrategy.DefaultPriority,
			Rarest:   true,
			Random:   true,
		}}
	}
	s.SelectFiles(files)
	s.loadCompletion()
	if cfg.Registerer != nil {
		collector := NewSessionCollector(s)
		err = cfg.Registerer.Register(collector)
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "registering metrics")
		}
		s.collector = collector
	}
	return s, nil
}

// Restores verification state from the completion store. Pieces with all their data but no stored
// state are queued for a hash check.
func (s *Session) loadCompletion() {
	for i := range s.chunks.NumChunks() {
		chunk := s.chunks.Chunk(i)
		c, err := s.completion.Get(storage.PieceKey{InfoHash: s.infoHash, Index: i})
		if err != nil {
			s.logger.Levelf(log.Warning, "error getting completion of piece %v: %v", i, err)
		}
		switch {
		case c.Ok && c.Complete && chunk.IsComplete():
			s.bitfield.MarkComplete(i)
			s.bitfield.MarkVerified(i, true)
		case c.Ok && c.Complete:
			s.logger.Levelf(log.Info, "piece %v was complete but its data is missing", i)
		case !c.Ok && chunk.IsComplete():
			s.dataWorker.VerifyPiece(i)
		}
	}
}

// Replaces the file selection. Pieces only in skipped files stop being scheduled.
func (s *Session) SelectFiles(files []requestStrategy.FileSelection) {
	order, skipped := requestStrategy.BuildPieceOrder(
		s.chunks.NumChunks(), s.chunks.PieceLength(), files, s.rand)
	s.order.Set(order)
	s.bitfield.SetSkipped(skipped)
}

// Runs the session's workers until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dataWorker.Run(ctx)
	})
	g.Go(func() error {
		return s.torrentWorker.Run(ctx)
	})
	return g.Wait()
}

func (s *Session) Close() error {
	s.dataWorker.Close()
	s.torrentWorker.Close()
	if s.collector != nil {
		s.config.Registerer.Unregister(s.collector)
	}
	if s.ownsCompletion {
		return s.completion.Close()
	}
	return nil
}

func (s *Session) TorrentWorker() *TorrentWorker {
	return s.torrentWorker
}

func (s *Session) Bitfield() *bitfield.Bitfield {
	return s.bitfield
}

func (s *Session) InfoHash() infohash.T {
	return s.infoHash
}
