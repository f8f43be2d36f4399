package bridge

import (
	"sync/atomic"
	"time"
)

// TransferStats accumulates transport-level counters for one bridge.
// All fields are updated atomically; concurrent request completions never
// lose updates.
type TransferStats struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesTransferred atomic.Int64
	lastHeartbeat    atomic.Int64 // unix milliseconds, 0 until first heartbeat
	startTime        time.Time
}

// TransferSnapshot is a point-in-time copy of TransferStats.
type TransferSnapshot struct {
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	BytesTransferred int64     `json:"bytes_transferred"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	StartTime        time.Time `json:"start_time"`
}

func newTransferStats() *TransferStats {
	return &TransferStats{startTime: time.Now()}
}

func (s *TransferStats) recordSent(bytes int) {
	s.messagesSent.Add(1)
	s.bytesTransferred.Add(int64(bytes))
}

func (s *TransferStats) recordReceived(bytes int) {
	s.messagesReceived.Add(1)
	s.bytesTransferred.Add(int64(bytes))
}

func (s *TransferStats) recordHeartbeat(at time.Time) {
	s.lastHeartbeat.Store(at.UnixMilli())
}

// Snapshot returns a consistent copy of the counters.
func (s *TransferStats) Snapshot() TransferSnapshot {
	var hb time.Time
	if ms := s.lastHeartbeat.Load(); ms > 0 {
		hb = time.UnixMilli(ms)
	}
	return TransferSnapshot{
		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		BytesTransferred: s.bytesTransferred.Load(),
		LastHeartbeat:    hb,
		StartTime:        s.startTime,
	}
}
