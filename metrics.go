package torrent

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	piecesDesc = prometheus.NewDesc(
		"torrent_pieces",
		"Pieces of the torrent by state.",
		[]string{"infohash", "state"}, nil)
	peersDesc = prometheus.NewDesc(
		"torrent_peers",
		"Connected peers by scheduling state.",
		[]string{"infohash", "state"}, nil)
	bytesDesc = prometheus.NewDesc(
		"torrent_data_bytes_total",
		"Torrent data exchanged with peers.",
		[]string{"infohash", "direction"}, nil)
	ratioDesc = prometheus.NewDesc(
		"torrent_swarm_ratio",
		"Estimated copies of the torrent in the swarm, including ours.",
		[]string{"infohash"}, nil)
	ioPendingDesc = prometheus.NewDesc(
		"torrent_io_pending_tasks",
		"Tasks queued on the data worker.",
		[]string{"infohash"}, nil)
)

// Exports a Session's state on each scrape.
type SessionCollector struct {
	session *Session
}

var _ prometheus.Collector = (*SessionCollector)(nil)

func NewSessionCollector(s *Session) *SessionCollector {
	return &SessionCollector{session: s}
}

func (me *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- piecesDesc
	ch <- peersDesc
	ch <- bytesDesc
	ch <- ratioDesc
	ch <- ioPendingDesc
}

func (me *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	ih := me.session.InfoHash().HexString()
	st := me.session.State()
	gauge := func(desc *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v), append([]string{ih}, labels...)...)
	}
	gauge(piecesDesc, st.PiecesComplete, "complete")
	gauge(piecesDesc, st.PiecesRemaining, "remaining")
	gauge(piecesDesc, st.PiecesSkipped, "skipped")
	gauge(piecesDesc, int(st.Processing.GetCardinality()), "processing")
	gauge(peersDesc, len(st.ConnectedPeers), "connected")
	gauge(peersDesc, len(st.ActivePeers), "active")
	gauge(peersDesc, len(st.TimeoutedPeers), "timeouted")
	gauge(ioPendingDesc, me.session.dataWorker.PendingTasks())
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(st.Downloaded), ih, "down")
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(st.Uploaded), ih, "up")
	ch <- prometheus.MustNewConstMetric(ratioDesc, prometheus.GaugeValue, st.Ratio, ih)
}
