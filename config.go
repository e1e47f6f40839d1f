package torrent

import (
	"time"

	"github.com/anacrolix/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Tuning for the piece scheduling of a Session. Probably not safe to modify this after it's given
// to a Session.
type Config struct {
	// Upper bound on the number of peers with a piece assignment at once.
	MaxConcurrentlyActivePeerConnectionsPerTorrent int `arg:"--max-active-peers"`
	// An assignment times out if no block of its piece arrives for this long.
	MaxPieceReceivingTime time.Duration `arg:"--max-piece-receiving-time"`
	// How long a peer that let an assignment time out is ineligible for new ones.
	TimeoutedAssignmentPeerBanDuration time.Duration `arg:"--timeout-ban"`
	// The data worker reports overload once this many tasks are queued.
	MaxIOQueueSize int `arg:"--max-io-queue"`
	// Interest is rebalanced at most this often, and only while more peers could be assigned.
	UpdateAssignmentsOptionalInterval time.Duration `arg:"-"`
	// Interest is rebalanced at least this often.
	UpdateAssignmentsMandatoryInterval time.Duration `arg:"-"`
	// Number of interested peers we unchoke at once.
	MaxUploadSlots int `arg:"--upload-slots"`

	Logger log.Logger `arg:"-"`
	// Session metrics are registered here if not nil.
	Registerer prometheus.Registerer `arg:"-"`
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentlyActivePeerConnectionsPerTorrent: 10,
		MaxPieceReceivingTime:                          5 * time.Second,
		TimeoutedAssignmentPeerBanDuration:             time.Minute,
		MaxIOQueueSize:                                 1000,
		UpdateAssignmentsOptionalInterval:              time.Second,
		UpdateAssignmentsMandatoryInterval:             5 * time.Second,
		MaxUploadSlots:                                 4,
		Logger:                                         log.Default,
	}
}
