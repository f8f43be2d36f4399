package sandbox

import (
	"sync/atomic"
	"time"

	"github.com/luminadocs/lumina/internal/bridge"
)

// Stats is a point-in-time view of one session's accumulated counters.
// Transport counters come from the bridge; call counters from the runtime.
type Stats struct {
	SessionID        string        `json:"session_id"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	BytesTransferred int64         `json:"bytes_transferred"`
	FunctionCalls    int64         `json:"function_calls"`
	CPUTime          time.Duration `json:"cpu_time"`
	Errors           int64         `json:"errors"`
	StartTime        time.Time     `json:"start_time"`
	LastHeartbeat    time.Time     `json:"last_heartbeat"`
}

// callStats accumulates execution counters. FunctionCalls increments by
// exactly one per ExecuteFunction call regardless of outcome; Errors by one
// per failed call only.
type callStats struct {
	functionCalls atomic.Int64
	errors        atomic.Int64
	cpuTimeNanos  atomic.Int64
}

func (s *callStats) recordCall(success bool, duration time.Duration) {
	s.functionCalls.Add(1)
	if success {
		s.cpuTimeNanos.Add(int64(duration))
	} else {
		s.errors.Add(1)
	}
}

func (s *callStats) merge(sessionID string, transfer bridge.TransferSnapshot) Stats {
	return Stats{
		SessionID:        sessionID,
		MessagesSent:     transfer.MessagesSent,
		MessagesReceived: transfer.MessagesReceived,
		BytesTransferred: transfer.BytesTransferred,
		FunctionCalls:    s.functionCalls.Load(),
		CPUTime:          time.Duration(s.cpuTimeNanos.Load()),
		Errors:           s.errors.Load(),
		StartTime:        transfer.StartTime,
		LastHeartbeat:    transfer.LastHeartbeat,
	}
}
