package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replikv/internal/wire"
)

func TestFollowerRedirectsClients(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	r.leaderID = "0002"

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: wire.Broadcast, Term: 0, Type: wire.TypeGet, Key: "a", MID: "m1"})
	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: wire.Broadcast, Term: 0, Type: wire.TypePut, Key: "a", Value: "1", MID: "m2"})

	redirects := tr.sentOfType(wire.TypeRedirect)
	require.Len(t, redirects, 2)
	for _, msg := range redirects {
		assert.Equal(t, "C01", msg.Dst)
		assert.Equal(t, "0002", msg.Leader)
	}
	assert.Equal(t, "m1", redirects[0].MID)
	assert.Equal(t, "m2", redirects[1].MID)
}

func TestFollowerRedirectsWithBroadcastWhenNoLeaderKnown(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: wire.Broadcast, Term: 0, Type: wire.TypeGet, Key: "a", MID: "m1"})

	redirects := tr.sentOfType(wire.TypeRedirect)
	require.Len(t, redirects, 1)
	assert.Equal(t, wire.Broadcast, redirects[0].Leader)
}

func TestLeaderServesGet(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	makeLeader(t, r, tr)
	r.store.Apply([]wire.Entry{entry(0, 1, "name", "ada")})

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypeGet, Key: "name", MID: "m1"})

	oks := tr.sentOfType(wire.TypeOK)
	require.Len(t, oks, 1)
	assert.Equal(t, "ada", oks[0].Value)
	assert.Equal(t, "m1", oks[0].MID)
	assert.Equal(t, "0000", oks[0].Leader)
	// Reads never create log entries.
	assert.Equal(t, 0, r.log.Len())
}

func TestLeaderFailsGetForMissingKey(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	makeLeader(t, r, tr)

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypeGet, Key: "missing", MID: "m7"})

	fails := tr.sentOfType(wire.TypeFail)
	require.Len(t, fails, 1)
	assert.Equal(t, "m7", fails[0].MID)
}

func TestPutAcknowledgedOnlyAfterCommit(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	makeLeader(t, r, tr)

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypePut, Key: "a", Value: "1", MID: "m1"})

	// Appended and parked, not yet acknowledged.
	assert.Equal(t, 1, r.log.Len())
	assert.Empty(t, tr.sentOfType(wire.TypeOK))
	require.Contains(t, r.pendingPuts, 0)

	// One follower ack forms a quorum of two out of three.
	r.dispatch(&wire.Message{Src: "0001", Dst: "0000", Leader: "0000", Term: r.currentTerm, Type: wire.TypeOK, NextIndex: wire.Int(1)})
	r.leaderTick()

	oks := tr.sentOfType(wire.TypeOK)
	require.NotEmpty(t, oks)
	last := oks[len(oks)-1]
	assert.Equal(t, "C01", last.Dst)
	assert.Equal(t, "m1", last.MID)
	assert.NotContains(t, r.pendingPuts, 0)

	v, ok := r.store.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestConcurrentPutsCommitInIndexOrder(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	makeLeader(t, r, tr)

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypePut, Key: "a", Value: "1", MID: "m1"})
	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypePut, Key: "a", Value: "2", MID: "m2"})

	r.dispatch(&wire.Message{Src: "0001", Dst: "0000", Leader: "0000", Term: r.currentTerm, Type: wire.TypeOK, NextIndex: wire.Int(2)})
	r.leaderTick()

	assert.Equal(t, 1, r.committedIndex)
	v, ok := r.store.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	mids := map[string]bool{}
	for _, msg := range tr.sentOfType(wire.TypeOK) {
		if msg.MID != "" {
			mids[msg.MID] = true
		}
	}
	assert.True(t, mids["m1"])
	assert.True(t, mids["m2"])
}

func TestPendingPutsDroppedOnLeadershipLoss(t *testing.T) {
	r, tr := newTestReplica(t, "0000", "0001", "0002")
	makeLeader(t, r, tr)

	r.dispatch(&wire.Message{Src: "C01", Dst: "0000", Leader: "0000", Term: 0, Type: wire.TypePut, Key: "a", Value: "1", MID: "m1"})
	require.Len(t, r.pendingPuts, 1)

	tr.clearSent()
	r.dispatch(appendMsg("0002", r.currentTerm+1, -1, 0, -1, -1))

	assert.Equal(t, Follower, r.role)
	assert.Empty(t, r.pendingPuts)
	// The client got no answer; it retries against the new leader.
	for _, msg := range tr.sentMessages() {
		assert.NotEqual(t, "m1", msg.MID)
	}
}
