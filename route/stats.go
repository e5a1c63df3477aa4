package route

import (
	"sync"
	"time"
)

// PacketStats accumulates per-APID counters.
type PacketStats struct {
	APID        uint16    `json:"apid"`
	PacketCount uint64    `json:"packet_count"`
	ByteCount   uint64    `json:"byte_count"`
	LastSeq     uint16    `json:"last_seq"`
	LastLen     uint16    `json:"last_len"`
	RecvTime    time.Time `json:"recv_time"`
}

// Stats folds processor events into a queryable summary: per-APID
// history plus rate estimates over a one-second window. Safe for
// concurrent readers; a single event-loop goroutine writes.
type Stats struct {
	mu sync.Mutex

	history map[uint16]*PacketStats
	dropped uint64

	windowStart   time.Time
	windowPackets int
	windowBytes   int

	packetsPerSecond int
	bytesPerSecond   int
}

func NewStats() *Stats {
	return &Stats{
		history:     make(map[uint16]*PacketStats),
		windowStart: time.Now(),
	}
}

// Update folds one delivered packet into the counters.
func (s *Stats) Update(update PacketUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.history[update.APID]
	if !ok {
		entry = &PacketStats{APID: update.APID}
		s.history[update.APID] = entry
	}
	entry.PacketCount++
	entry.ByteCount += uint64(update.PacketLength)
	entry.LastSeq = update.SeqCount
	entry.LastLen = update.PacketLength
	entry.RecvTime = update.RecvTime

	s.windowPackets++
	s.windowBytes += int(update.PacketLength)

	// Rates recompute once the window covers at least a second; between
	// recomputes the last value holds.
	now := time.Now()
	if elapsed := now.Sub(s.windowStart); elapsed >= time.Second {
		secs := elapsed.Seconds()
		s.packetsPerSecond = int(float64(s.windowPackets) / secs)
		s.bytesPerSecond = int(float64(s.windowBytes) / secs)
		s.windowStart = now
		s.windowPackets = 0
		s.windowBytes = 0
	}
}

// CountDropped records a packet discarded by the input APID filter.
func (s *Stats) CountDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

// StatsSnapshot is a point-in-time copy for display or the status
// endpoint.
type StatsSnapshot struct {
	History          map[uint16]PacketStats `json:"packet_history"`
	Dropped          uint64                 `json:"packets_dropped"`
	PacketsPerSecond int                    `json:"packets_per_second"`
	BytesPerSecond   int                    `json:"bytes_per_second"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make(map[uint16]PacketStats, len(s.history))
	for apid, entry := range s.history {
		history[apid] = *entry
	}
	return StatsSnapshot{
		History:          history,
		Dropped:          s.dropped,
		PacketsPerSecond: s.packetsPerSecond,
		BytesPerSecond:   s.bytesPerSecond,
	}
}
