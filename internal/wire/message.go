package wire

import (
	"encoding/json"
	"fmt"
)

// Broadcast is the distinguished replica identifier meaning "no leader known /
// any replica". It is used as the destination of vote requests and as the
// leader field while no leader has been observed.
const Broadcast = "FFFF"

// MaxBytes is the largest encoded message the transport will carry. Encode
// returns an error for any record bigger than this.
const MaxBytes = 32 * 1024

// Type identifies a protocol message.
type Type string

const (
	// TypeGet is a client read request.
	TypeGet Type = "get"
	// TypePut is a client write request.
	TypePut Type = "put"
	// TypeRequestVote is broadcast by a candidate at the start of an election.
	TypeRequestVote Type = "request_vote"
	// TypeVote carries a favorable vote back to a candidate.
	TypeVote Type = "vote"
	// TypeAppendEntries replicates log entries and doubles as the heartbeat.
	TypeAppendEntries Type = "append_entries"
	// TypeOK acknowledges a client request or a successful append.
	TypeOK Type = "ok"
	// TypeFail rejects a client read or a mismatched append.
	TypeFail Type = "fail"
	// TypeRedirect points a client at the best-known leader.
	TypeRedirect Type = "redirect"
)

// Entry is a single log entry: the position it occupies in the log, the term
// of the leader that appended it, and the key-value pair it writes.
type Entry struct {
	Index int    `json:"index"`
	Term  int    `json:"term"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Message is the single wire record exchanged between replicas, clients and
// the simulator. Every message carries the five base fields; the remainder
// are type-specific and omitted when unused.
type Message struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Leader string `json:"leader"`
	Term   int    `json:"term"`
	Type   Type   `json:"type"`

	// Client request/response fields.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	MID   string `json:"MID,omitempty"`

	// Vote carries the id of the candidate being voted for.
	Vote string `json:"vote,omitempty"`

	// Candidate log position, carried on request_vote so voters can refuse
	// candidates whose logs are behind their own.
	LastLogIndex *int `json:"last_log_index,omitempty"`
	LastLogTerm  *int `json:"last_log_term,omitempty"`

	// Replication fields. Pointers distinguish a meaningful zero (or -1)
	// from an absent field.
	Committed *int    `json:"committed,omitempty"`
	NextIndex *int    `json:"next_index,omitempty"`
	LastIndex *int    `json:"last_index,omitempty"`
	LastTerm  *int    `json:"last_term,omitempty"`
	Entries   []Entry `json:"entries,omitempty"`
}

// Int returns a pointer to v, for populating the optional integer fields.
func Int(v int) *int {
	return &v
}

// IntOr dereferences p, or returns def when the field was absent.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Encode serializes a message into a single datagram payload.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("encoded %s message is %d bytes, exceeds limit of %d", msg.Type, len(data), MaxBytes)
	}
	return data, nil
}

// Decode parses a datagram payload into a message. Empty or unparseable
// payloads return an error; callers drop those datagrams.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty datagram")
	}
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to decode datagram: %w", err)
	}
	return msg, nil
}
