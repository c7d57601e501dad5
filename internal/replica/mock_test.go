package replica

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"replikv/internal/wire"
)

// transportMock records every message the replica sends so tests can assert
// on the protocol traffic without a network.
type transportMock struct {
	mock.Mock
	mu      sync.RWMutex
	inbound chan []byte
	sent    []*wire.Message
}

func newTransportMock() *transportMock {
	return &transportMock{
		inbound: make(chan []byte, 64),
	}
}

func (t *transportMock) Start() error {
	args := t.Called()
	return args.Error(0)
}

func (t *transportMock) Stop() error {
	args := t.Called()
	return args.Error(0)
}

func (t *transportMock) Send(dst string, data []byte) error {
	if msg, err := wire.Decode(data); err == nil {
		t.mu.Lock()
		t.sent = append(t.sent, msg)
		t.mu.Unlock()
	}
	args := t.Called(dst, data)
	return args.Error(0)
}

func (t *transportMock) Inbound() <-chan []byte {
	return t.inbound
}

func (t *transportMock) sentMessages() []*wire.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]*wire.Message, len(t.sent))
	copy(result, t.sent)
	return result
}

func (t *transportMock) sentOfType(tp wire.Type) []*wire.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result []*wire.Message
	for _, msg := range t.sent {
		if msg.Type == tp {
			result = append(result, msg)
		}
	}
	return result
}

func (t *transportMock) clearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// newTestReplica builds a replica wired to a transport mock, with live timers
// so handlers can reset them. The event loop is not started: tests drive the
// replica by calling its handlers directly, which is exactly how the loop
// itself drives them.
func newTestReplica(t *testing.T, id string, peers ...string) (*Replica, *transportMock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ID = id
	cfg.Peers = peers

	tr := newTransportMock()
	tr.On("Send", mock.Anything, mock.Anything).Return(nil)

	r, err := New(cfg, tr)
	require.NoError(t, err)

	r.electionTimer = time.NewTimer(time.Hour)
	r.heartbeatTimer = time.NewTimer(time.Hour)
	stopTimer(r.heartbeatTimer)
	t.Cleanup(func() {
		stopTimer(r.electionTimer)
		stopTimer(r.heartbeatTimer)
	})

	return r, tr
}

// appendMsg builds an append_entries message with the replication fields
// populated, the way a leader emits them.
func appendMsg(src string, term, committed, next, lastIndex, lastTerm int, entries ...wire.Entry) *wire.Message {
	return &wire.Message{
		Src:       src,
		Dst:       "0000",
		Leader:    src,
		Term:      term,
		Type:      wire.TypeAppendEntries,
		Committed: wire.Int(committed),
		NextIndex: wire.Int(next),
		LastIndex: wire.Int(lastIndex),
		LastTerm:  wire.Int(lastTerm),
		Entries:   entries,
	}
}
