package replica

import (
	"fmt"
	"time"

	"replikv/internal/kv"
	"replikv/internal/transport"
	"replikv/internal/wire"
)

// Replica is a single member of the key-value cluster. All of its state is
// owned by one event loop goroutine: the loop multiplexes the transport's
// inbound channel with the election and heartbeat timers, and every handler
// runs to completion before the next message is taken. There is no locking
// discipline because there is nothing to lock against.
type Replica struct {
	cfg     *Config
	id      string
	peers   []string
	logger  Logger
	metrics MetricsCollector

	transport transport.Transport

	// Persistent-style state, kept in memory for the process lifetime.
	currentTerm int
	votedFor    map[int]string
	log         *Log

	// Volatile state.
	role           Role
	leaderID       string
	committedIndex int
	store          kv.StateMachine
	votesReceived  map[string]bool
	nextIndex      map[string]int
	pendingPuts    map[int]pendingPut

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	handlers map[Role]map[wire.Type]handler

	stopCh  chan struct{}
	stopped chan struct{}

	// Observer hooks, invoked on the event loop goroutine. Set before Start.
	onRoleChange func(role Role, term int)
	onCommit     func(entry wire.Entry)
}

// New creates a replica over the given transport. The transport is started
// and stopped by the replica.
func New(cfg *Config, t transport.Transport) (*Replica, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	r := &Replica{
		cfg:            cfg,
		id:             cfg.ID,
		peers:          append([]string(nil), cfg.Peers...),
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		transport:      t,
		votedFor:       make(map[int]string),
		log:            NewLog(),
		role:           Follower,
		leaderID:       wire.Broadcast,
		committedIndex: -1,
		store:          kv.NewStore(),
		nextIndex:      make(map[string]int),
		pendingPuts:    make(map[int]pendingPut),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	r.buildHandlers()
	return r, nil
}

// buildHandlers wires the fixed per-role dispatch tables. A message type
// absent from a role's table is silently dropped.
func (r *Replica) buildHandlers() {
	r.handlers = map[Role]map[wire.Type]handler{
		Follower: {
			wire.TypeGet:           r.redirectClient,
			wire.TypePut:           r.redirectClient,
			wire.TypeRequestVote:   r.handleRequestVote,
			wire.TypeAppendEntries: r.handleAppendEntries,
			wire.TypeVote:          r.drop,
			wire.TypeOK:            r.drop,
			wire.TypeFail:          r.drop,
		},
		Candidate: {
			wire.TypeGet:           r.drop,
			wire.TypePut:           r.drop,
			wire.TypeRequestVote:   r.drop,
			wire.TypeVote:          r.handleVote,
			wire.TypeAppendEntries: r.handleCandidateAppend,
			wire.TypeOK:            r.drop,
			wire.TypeFail:          r.drop,
		},
		Leader: {
			wire.TypeGet:           r.handleGet,
			wire.TypePut:           r.handlePut,
			wire.TypeRequestVote:   r.drop,
			wire.TypeVote:          r.drop,
			wire.TypeAppendEntries: r.drop,
			wire.TypeOK:            r.handleAppendOK,
			wire.TypeFail:          r.handleAppendFail,
		},
	}
}

// OnRoleChange registers a hook fired on every role transition. Must be set
// before Start; the hook runs on the event loop goroutine.
func (r *Replica) OnRoleChange(fn func(role Role, term int)) {
	r.onRoleChange = fn
}

// OnCommit registers a hook fired as each entry commits. Must be set before
// Start; the hook runs on the event loop goroutine.
func (r *Replica) OnCommit(fn func(entry wire.Entry)) {
	r.onCommit = fn
}

// ID returns the replica's identifier.
func (r *Replica) ID() string {
	return r.id
}

// Store returns the committed state machine. Reads through it are safe from
// any goroutine.
func (r *Replica) Store() kv.StateMachine {
	return r.store
}

// Start starts the transport and the event loop.
func (r *Replica) Start() error {
	if err := r.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	r.electionTimer = time.NewTimer(r.cfg.electionTimeout())
	r.heartbeatTimer = time.NewTimer(r.cfg.HeartbeatInterval)
	stopTimer(r.heartbeatTimer)

	go r.run()

	r.logger.Infof("Started as %s with %d peers", r.role, len(r.peers))
	return nil
}

// Stop terminates the event loop and shuts down the transport.
func (r *Replica) Stop() {
	select {
	case <-r.stopped:
		return
	default:
	}

	close(r.stopCh)
	<-r.stopped

	if err := r.transport.Stop(); err != nil {
		r.logger.Errorf("Error stopping transport: %v", err)
	}
}

// run is the event loop. It waits for an inbound message or a timer,
// whichever comes first, and processes one event at a time. The heartbeat
// case is armed only while leading: a nil channel disables the select case.
func (r *Replica) run() {
	defer close(r.stopped)

	for {
		var hbCh <-chan time.Time
		if r.role == Leader {
			hbCh = r.heartbeatTimer.C
		}

		select {
		case <-r.stopCh:
			return

		case data := <-r.transport.Inbound():
			msg, err := wire.Decode(data)
			if err != nil {
				r.logger.Debugf("Dropping undecodable datagram: %v", err)
				continue
			}
			r.dispatch(msg)

		case <-r.electionTimer.C:
			// Only followers and candidates keep this timer armed; its
			// expiry means no leader has been heard from.
			r.startElection()

		case <-hbCh:
			r.leaderTick()
		}
	}
}

// dispatch routes one inbound message through the current role's handler
// table. A message carrying a strictly greater term and a real leader field
// demotes the replica to Follower before any role-specific handling.
func (r *Replica) dispatch(msg *wire.Message) {
	r.metrics.RecordMessageIn()

	if msg.Term > r.currentTerm && msg.Leader != wire.Broadcast {
		r.logger.Debugf("[TERM-%d] Observed term %d from %s, stepping down", r.currentTerm, msg.Term, msg.Src)
		r.stepDownTo(msg.Term, msg.Leader)
	}

	table, ok := r.handlers[r.role]
	if !ok {
		panic(fmt.Sprintf("replica %s is in unrecognized role %d", r.id, r.role))
	}

	h, ok := table[msg.Type]
	if !ok {
		r.drop(msg)
		return
	}
	h(msg)
}

// drop discards a message the current role has no use for.
func (r *Replica) drop(msg *wire.Message) {
	r.logger.Debugf("[TERM-%d] %s dropping %s from %s", r.currentTerm, r.role, msg.Type, msg.Src)
}

// setRole transitions the role and notifies the observer hook. Every role
// transition resets the election timer.
func (r *Replica) setRole(role Role) {
	if r.role == role {
		return
	}
	r.logger.Infof("[TERM-%d] %s -> %s", r.currentTerm, r.role, role)
	r.role = role
	r.resetElectionTimer()
	if r.onRoleChange != nil {
		r.onRoleChange(role, r.currentTerm)
	}
}

// stepDownTo adopts a newer term and follows the given leader. Pending puts
// die silently with the lost leadership; their clients retry.
func (r *Replica) stepDownTo(term int, leader string) {
	r.currentTerm = term
	r.leaderID = leader
	r.votesReceived = nil
	if len(r.pendingPuts) > 0 {
		r.logger.Debugf("[TERM-%d] Dropping %d pending puts on leadership loss", term, len(r.pendingPuts))
		r.pendingPuts = make(map[int]pendingPut)
	}
	stopTimer(r.heartbeatTimer)
	r.setRole(Follower)
	r.resetElectionTimer()
}

// newMessage builds a message with the base fields filled in.
func (r *Replica) newMessage(dst string, t wire.Type) *wire.Message {
	return &wire.Message{
		Src:    r.id,
		Dst:    dst,
		Leader: r.leaderID,
		Term:   r.currentTerm,
		Type:   t,
	}
}

// send encodes and transmits one message. Send failures are logged and
// otherwise ignored; the protocol retransmits through its periodic rhythm.
func (r *Replica) send(msg *wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		r.logger.Errorf("Failed to encode %s message: %v", msg.Type, err)
		return
	}
	r.metrics.RecordMessageOut()
	if err := r.transport.Send(msg.Dst, data); err != nil {
		r.logger.Errorf("Failed to send %s to %s: %v", msg.Type, msg.Dst, err)
	}
}

// majority is the quorum size: more than half the cluster, counting self.
func (r *Replica) majority() int {
	return (len(r.peers)+1)/2 + 1
}

// resetElectionTimer re-arms the election timer with a fresh random draw.
func (r *Replica) resetElectionTimer() {
	stopTimer(r.electionTimer)
	r.electionTimer.Reset(r.cfg.electionTimeout())
}

// resetHeartbeatTimer re-arms the heartbeat timer.
func (r *Replica) resetHeartbeatTimer() {
	stopTimer(r.heartbeatTimer)
	r.heartbeatTimer.Reset(r.cfg.HeartbeatInterval)
}

// stopTimer stops a timer and drains a pending fire so a later Reset starts
// clean.
func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
