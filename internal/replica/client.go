package replica

import (
	"time"

	"replikv/internal/wire"
)

// handleGet serves a read at the leader. Reads never touch the log: the
// committed store is the answer, and a missing key is a fail.
func (r *Replica) handleGet(msg *wire.Message) {
	value, ok := r.store.Get(msg.Key)
	if !ok {
		reply := r.newMessage(msg.Src, wire.TypeFail)
		reply.MID = msg.MID
		r.send(reply)
		return
	}

	reply := r.newMessage(msg.Src, wire.TypeOK)
	reply.MID = msg.MID
	reply.Value = value
	r.send(reply)
}

// handlePut appends the write to the leader's log and parks the request
// until the entry commits. The acknowledgement goes out from the commit
// path; losing leadership first drops the request silently and the client
// retries against the new leader.
func (r *Replica) handlePut(msg *wire.Message) {
	index := r.log.Len()
	r.log.Append(wire.Entry{
		Index: index,
		Term:  r.currentTerm,
		Key:   msg.Key,
		Value: msg.Value,
	})
	r.pendingPuts[index] = pendingPut{
		client: msg.Src,
		mid:    msg.MID,
		since:  time.Now(),
	}
	r.logger.Debugf("[TERM-%d] Appended put %s at index %d", r.currentTerm, msg.MID, index)
}

// redirectClient points a client at the best-known leader, which may still be
// the broadcast id if no leader has been heard from.
func (r *Replica) redirectClient(msg *wire.Message) {
	r.metrics.RecordRedirect()

	reply := r.newMessage(msg.Src, wire.TypeRedirect)
	reply.MID = msg.MID
	r.send(reply)
}
