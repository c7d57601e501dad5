package replica

import (
	"time"

	"replikv/internal/wire"
)

// Role is the state of a replica at any given point: leader, follower, or
// candidate.
type Role uint64

// As Golang does not support Enums this is a common pattern for implementing one
const (
	Follower Role = iota
	Candidate
	Leader
)

// String returns the string representation of the Role.
func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// handler processes one inbound message under the current role. Each role has
// a fixed table mapping message types to a handler; types outside a role's
// table are dropped.
type handler func(msg *wire.Message)

// Logger is the logging surface injected through the config.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger discards everything. It is the config default.
type noopLogger struct{}

func (noopLogger) Debugf(_ string, _ ...interface{}) {}
func (noopLogger) Infof(_ string, _ ...interface{})  {}
func (noopLogger) Warnf(_ string, _ ...interface{})  {}
func (noopLogger) Errorf(_ string, _ ...interface{}) {}

// MetricsCollector is an optional interface for collecting performance
// metrics. The replica calls it from its event loop; implementations must be
// cheap.
type MetricsCollector interface {
	RecordElection()
	RecordHeartbeat()
	RecordAppendEntries()
	RecordRequestVote()
	RecordCommandCommitted()
	RecordCommandLatency(latency time.Duration)
	RecordRedirect()
	RecordMessageIn()
	RecordMessageOut()
}

// noopMetrics is the collector used when none is configured.
type noopMetrics struct{}

func (noopMetrics) RecordElection()                      {}
func (noopMetrics) RecordHeartbeat()                     {}
func (noopMetrics) RecordAppendEntries()                 {}
func (noopMetrics) RecordRequestVote()                   {}
func (noopMetrics) RecordCommandCommitted()              {}
func (noopMetrics) RecordCommandLatency(_ time.Duration) {}
func (noopMetrics) RecordRedirect()                      {}
func (noopMetrics) RecordMessageIn()                     {}
func (noopMetrics) RecordMessageOut()                    {}

// pendingPut tracks a client put that has been appended to the log but not
// yet committed. It is acknowledged when the entry commits and silently
// dropped if leadership is lost first.
type pendingPut struct {
	client string
	mid    string
	since  time.Time
}
