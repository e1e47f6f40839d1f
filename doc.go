/*
Package torrent schedules piece downloads for a single torrent across a swarm of peers.

A Session ties together the local Bitfield, the swarm's piece statistics, the assignment of pieces
to peers, and a data worker that writes and verifies blocks. The connection layer feeds it peer
messages with TorrentWorker.Consume, and collects messages to send with TorrentWorker.Produce.

	s, _ := torrent.NewSession(torrent.NewDefaultConfig(), torrent.SessionSpec{Chunks: chunks})
	go s.Run(ctx)
	s.TorrentWorker().AddPeer(addr)
	s.TorrentWorker().Consume(addr, msg)
	s.TorrentWorker().Produce(addr, send)
*/
package torrent
