package torrent

import (
	"time"

	"github.com/anacrolix/log"
)

// A Config with short intervals, for tests that drive the scheduler directly.
func TestingConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.UpdateAssignmentsOptionalInterval = 0
	cfg.UpdateAssignmentsMandatoryInterval = 0
	cfg.MaxPieceReceivingTime = time.Minute
	cfg.Logger = log.Default.FilterLevel(log.Info)
	return cfg
}
