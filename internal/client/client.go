// Package client implements a cluster client for the key-value store. It
// addresses any replica, follows leader redirects, and retries lost requests
// until an overall deadline runs out.
package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"replikv/internal/transport"
	"replikv/internal/wire"
)

// Client issues get and put requests against a replica cluster. It is not
// safe for concurrent use; run one client per goroutine.
type Client struct {
	id       string
	replicas []string
	tr       transport.Transport

	// AttemptTimeout bounds the wait for a reply to a single request before
	// it is retried against another replica.
	AttemptTimeout time.Duration

	// Deadline bounds a whole operation across all its retries.
	Deadline time.Duration

	leader string
	next   int
}

// New creates a client with the given id over an already-started transport.
func New(id string, replicas []string, tr transport.Transport) *Client {
	return &Client{
		id:             id,
		replicas:       replicas,
		tr:             tr,
		AttemptTimeout: 500 * time.Millisecond,
		Deadline:       10 * time.Second,
		leader:         wire.Broadcast,
	}
}

// Put stores value under key. It returns once a leader has acknowledged the
// committed write.
func (c *Client) Put(key, value string) error {
	req := &wire.Message{
		Src:   c.id,
		Type:  wire.TypePut,
		Key:   key,
		Value: value,
		MID:   uuid.NewString(),
	}
	_, err := c.roundTrip(req)
	return err
}

// Get reads the committed value for key. The second return is false when the
// cluster does not hold the key.
func (c *Client) Get(key string) (string, bool, error) {
	req := &wire.Message{
		Src:  c.id,
		Type: wire.TypeGet,
		Key:  key,
		MID:  uuid.NewString(),
	}
	reply, err := c.roundTrip(req)
	if err != nil {
		return "", false, err
	}
	if reply.Type == wire.TypeFail {
		return "", false, nil
	}
	return reply.Value, true, nil
}

// roundTrip sends the request toward the best-known leader, follows
// redirects, and retries on silence until the deadline expires. Replies are
// matched by MID; anything else on the wire is discarded.
func (c *Client) roundTrip(req *wire.Message) (*wire.Message, error) {
	deadline := time.Now().Add(c.Deadline)

	for time.Now().Before(deadline) {
		target := c.target()
		req.Dst = target
		req.Leader = c.leader

		data, err := wire.Encode(req)
		if err != nil {
			return nil, err
		}
		if err := c.tr.Send(target, data); err != nil {
			return nil, fmt.Errorf("failed to send %s to %s: %w", req.Type, target, err)
		}

		reply := c.await(req.MID)
		if reply == nil {
			// No reply inside the attempt window. The replica may be a
			// candidate, or the request was lost; try elsewhere.
			c.leader = wire.Broadcast
			c.next++
			continue
		}

		switch reply.Type {
		case wire.TypeRedirect:
			c.leader = reply.Leader
			if c.leader == wire.Broadcast {
				// The replica does not know a leader yet either.
				c.next++
			}
		case wire.TypeOK, wire.TypeFail:
			c.leader = reply.Leader
			return reply, nil
		}
	}

	return nil, fmt.Errorf("%s %q did not complete within %v", req.Type, req.Key, c.Deadline)
}

// target picks the best-known leader, falling back to cycling the replica
// list while no leader is known.
func (c *Client) target() string {
	if c.leader != wire.Broadcast && c.leader != "" {
		return c.leader
	}
	return c.replicas[c.next%len(c.replicas)]
}

// await reads replies until one matches mid or the attempt window closes.
func (c *Client) await(mid string) *wire.Message {
	timeout := time.After(c.AttemptTimeout)
	for {
		select {
		case data := <-c.tr.Inbound():
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.MID == mid && msg.Dst == c.id {
				return msg
			}
		case <-timeout:
			return nil
		}
	}
}
