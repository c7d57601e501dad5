package replica

import (
	"sort"
	"time"

	"replikv/internal/wire"
)

// leaderTick runs on every heartbeat expiry: emit an append round to every
// peer, advance the commit index over the acknowledgements gathered since the
// last round, and re-arm the timer.
func (r *Replica) leaderTick() {
	r.metrics.RecordHeartbeat()
	r.emitAppendRound()
	r.advanceCommit()
	r.resetHeartbeatTimer()
}

// emitAppendRound sends each peer the suffix of the log it is missing. A
// caught-up peer gets an empty entries list; the same message still carries
// the commit index and refreshes the peer's election timer.
func (r *Replica) emitAppendRound() {
	for _, peer := range r.peers {
		next := r.nextIndex[peer]

		msg := r.newMessage(peer, wire.TypeAppendEntries)
		msg.Committed = wire.Int(r.committedIndex)
		msg.NextIndex = wire.Int(next)
		msg.LastIndex = wire.Int(next - 1)
		msg.LastTerm = wire.Int(r.log.TermAt(next - 1))
		msg.Entries = r.log.Suffix(next)
		r.send(msg)
	}
}

// handleAppendEntries is the follower's side of replication. The carried
// commit index is applied before the log-match check so commit information
// flows even when the match fails; the applied index is clamped to the local
// log so nothing uncommitted-here is replayed.
func (r *Replica) handleAppendEntries(msg *wire.Message) {
	r.metrics.RecordAppendEntries()

	if msg.Term < r.currentTerm {
		// A deposed leader that has not heard the news yet. Ignoring it is
		// what keeps committed entries from being overwritten (a wholesale
		// adoption of its log could discard them).
		r.drop(msg)
		return
	}

	r.currentTerm = msg.Term
	r.leaderID = msg.Leader
	r.resetElectionTimer()

	r.commitTo(wire.IntOr(msg.Committed, -1))

	next := wire.IntOr(msg.NextIndex, 0)
	if next == 0 {
		// The leader has nothing earlier to match against: take its log
		// wholesale.
		r.log.Replace(msg.Entries)
		r.replyAppendOK(msg.Src)
		return
	}

	lastIndex := wire.IntOr(msg.LastIndex, next-1)
	lastTerm := wire.IntOr(msg.LastTerm, -1)
	if lastIndex >= r.log.Len() || r.log.TermAt(lastIndex) != lastTerm {
		reply := r.newMessage(msg.Src, wire.TypeFail)
		r.send(reply)
		return
	}

	r.log.TruncateTo(lastIndex + 1)
	r.log.Append(msg.Entries...)
	r.replyAppendOK(msg.Src)
}

func (r *Replica) replyAppendOK(dst string) {
	reply := r.newMessage(dst, wire.TypeOK)
	reply.NextIndex = wire.Int(r.log.Len())
	r.send(reply)
}

// handleAppendOK records how far a follower's log now reaches.
func (r *Replica) handleAppendOK(msg *wire.Message) {
	if msg.NextIndex == nil {
		r.drop(msg)
		return
	}
	if _, known := r.nextIndex[msg.Src]; !known {
		r.drop(msg)
		return
	}
	r.nextIndex[msg.Src] = *msg.NextIndex
}

// handleAppendFail backs the peer's next index off by one; the next heartbeat
// retries from there.
func (r *Replica) handleAppendFail(msg *wire.Message) {
	if _, known := r.nextIndex[msg.Src]; !known {
		r.drop(msg)
		return
	}
	if r.nextIndex[msg.Src] > 0 {
		r.nextIndex[msg.Src]--
	}
}

// advanceCommit finds the highest index replicated on a majority. The
// leader's own log counts as one implicit next index at the very front, so
// the value at position majority-1 of the descending-sorted list bounds what
// a quorum holds; committed is one below it because a next index points one
// past the last replicated entry.
func (r *Replica) advanceCommit() {
	reach := make([]int, 0, len(r.peers)+1)
	reach = append(reach, r.log.Len())
	for _, peer := range r.peers {
		reach = append(reach, r.nextIndex[peer])
	}
	sort.Sort(sort.Reverse(sort.IntSlice(reach)))

	newCommitted := reach[r.majority()-1] - 1
	if newCommitted <= r.committedIndex {
		return
	}

	r.commitTo(newCommitted)
	r.respondCommittedPuts()
}

// commitTo applies every entry up to index n to the state machine, in index
// order. n is clamped to the log's tail; the commit index never moves
// backward.
func (r *Replica) commitTo(n int) {
	if n > r.log.LastIndex() {
		n = r.log.LastIndex()
	}
	if n <= r.committedIndex {
		return
	}

	entries := r.log.Slice(r.committedIndex+1, n)
	r.store.Apply(entries)
	r.committedIndex = n

	for _, entry := range entries {
		r.metrics.RecordCommandCommitted()
		if r.onCommit != nil {
			r.onCommit(entry)
		}
	}
	r.logger.Debugf("[TERM-%d] Committed through index %d", r.currentTerm, n)
}

// respondCommittedPuts acknowledges every pending put whose entry has
// committed.
func (r *Replica) respondCommittedPuts() {
	for index, put := range r.pendingPuts {
		if index > r.committedIndex {
			continue
		}

		reply := r.newMessage(put.client, wire.TypeOK)
		reply.MID = put.mid
		r.send(reply)

		r.metrics.RecordCommandLatency(time.Since(put.since))
		delete(r.pendingPuts, index)
	}
}
