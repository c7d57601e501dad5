package replica

import (
	"replikv/internal/wire"
)

// startElection moves to Candidate in a fresh term, votes for itself, and
// asks every peer for a vote.
func (r *Replica) startElection() {
	if r.role == Leader {
		// A leader's heartbeats stand in for the election deadline; a stray
		// fire must not start an election against itself.
		return
	}

	r.currentTerm++
	r.leaderID = wire.Broadcast
	r.votedFor[r.currentTerm] = r.id
	r.votesReceived = map[string]bool{r.id: true}
	r.setRole(Candidate)
	r.metrics.RecordElection()

	r.logger.Infof("[TERM-%d] Starting election", r.currentTerm)

	req := r.newMessage(wire.Broadcast, wire.TypeRequestVote)
	req.LastLogIndex = wire.Int(r.log.LastIndex())
	req.LastLogTerm = wire.Int(r.log.LastTerm())
	r.send(req)

	r.resetElectionTimer()

	// A cluster of one is its own majority.
	if len(r.votesReceived) >= r.majority() {
		r.becomeLeader()
	}
}

// handleRequestVote grants at most one vote per term, and only to candidates
// whose log is at least as up-to-date as our own. Refusals are silent; the
// candidate's election simply times out. Granting a vote in a newer term
// adopts that term, so a later election of our own cannot reuse it.
func (r *Replica) handleRequestVote(msg *wire.Message) {
	r.metrics.RecordRequestVote()

	if msg.Term < r.currentTerm {
		r.drop(msg)
		return
	}

	if _, voted := r.votedFor[msg.Term]; voted {
		r.logger.Debugf("[TERM-%d] Already voted in term %d, dropping request from %s", r.currentTerm, msg.Term, msg.Src)
		return
	}

	candidateIndex := wire.IntOr(msg.LastLogIndex, -1)
	candidateTerm := wire.IntOr(msg.LastLogTerm, -1)
	lastIndex, lastTerm := r.log.LastIndex(), r.log.LastTerm()
	if candidateTerm < lastTerm || (candidateTerm == lastTerm && candidateIndex < lastIndex) {
		r.logger.Debugf("[TERM-%d] Candidate %s log (%d,%d) behind ours (%d,%d), refusing vote",
			r.currentTerm, msg.Src, candidateIndex, candidateTerm, lastIndex, lastTerm)
		return
	}

	r.currentTerm = msg.Term
	r.votedFor[msg.Term] = msg.Src
	r.logger.Infof("[TERM-%d] Voting for %s", r.currentTerm, msg.Src)

	vote := r.newMessage(msg.Src, wire.TypeVote)
	vote.Vote = msg.Src
	r.send(vote)

	r.resetElectionTimer()
}

// handleVote tallies one favorable vote per peer for the current term.
// Reaching a majority wins the election.
func (r *Replica) handleVote(msg *wire.Message) {
	if msg.Vote != r.id || msg.Term != r.currentTerm {
		return
	}
	if r.votesReceived[msg.Src] {
		return
	}

	r.votesReceived[msg.Src] = true
	r.logger.Debugf("[TERM-%d] Vote from %s (%d/%d)", r.currentTerm, msg.Src, len(r.votesReceived), r.majority())

	if len(r.votesReceived) >= r.majority() {
		r.becomeLeader()
	}
}

// handleCandidateAppend steps down when a leader of the current or a newer
// term announces itself, then processes the append as a follower so first
// contact already reconciles the log.
func (r *Replica) handleCandidateAppend(msg *wire.Message) {
	if msg.Term < r.currentTerm {
		r.drop(msg)
		return
	}

	r.logger.Infof("[TERM-%d] Leader %s announced itself, stepping down", r.currentTerm, msg.Src)
	r.stepDownTo(msg.Term, msg.Src)
	r.handleAppendEntries(msg)
}

// becomeLeader inaugurates this replica: every peer's next index starts at
// the end of the log, and the first append round goes out immediately,
// doubling as the first heartbeat.
func (r *Replica) becomeLeader() {
	r.leaderID = r.id
	r.setRole(Leader)
	r.logger.Infof("[TERM-%d] Won election with %d votes", r.currentTerm, len(r.votesReceived))

	r.pendingPuts = make(map[int]pendingPut)
	for _, peer := range r.peers {
		r.nextIndex[peer] = r.log.Len()
	}

	stopTimer(r.electionTimer)
	r.leaderTick()
}
