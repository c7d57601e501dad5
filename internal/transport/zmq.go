package transport

import (
	"fmt"
	"sort"
	"time"

	zmq "github.com/pebbe/zmq4"

	"replikv/internal/wire"
)

// ZMQTransport is a ZeroMQ mesh for clusters that run over TCP instead of the
// simulator. Each replica binds a ROUTER at its own endpoint and keeps one
// DEALER per peer, carrying its id as the socket identity so the peer's
// ROUTER can address replies. Clients connect a DEALER of their own and are
// reached back through the ROUTER by identity.
//
// ZeroMQ sockets are not safe for concurrent use, so a single goroutine owns
// every socket: Send enqueues, the goroutine polls and transmits.
type ZMQTransport struct {
	id        string
	endpoints map[string]string

	inbound    chan []byte
	outbound   chan zmqDatagram
	shutdownCh chan struct{}
	done       chan struct{}
	logger     Logger
}

type zmqDatagram struct {
	dst  string
	data []byte
}

// pollInterval bounds each poll so the outbound queue and the shutdown
// channel are serviced between waits.
const pollInterval = 5 * time.Millisecond

// NewZMQTransport creates a transport for id. The endpoints map names every
// replica's TCP endpoint; an id without an entry (a client) gets no ROUTER
// and talks through its DEALERs only.
func NewZMQTransport(id string, endpoints map[string]string, logger Logger) *ZMQTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ZMQTransport{
		id:         id,
		endpoints:  endpoints,
		inbound:    make(chan []byte, inboundBuffer),
		outbound:   make(chan zmqDatagram, inboundBuffer),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start creates the sockets and begins the poll loop.
func (t *ZMQTransport) Start() error {
	router, dealers, err := t.openSockets()
	if err != nil {
		return err
	}

	go t.loop(router, dealers)

	t.logger.Infof("[Transport] ZeroMQ mesh up for %s (%d peers)", t.id, len(dealers))
	return nil
}

func (t *ZMQTransport) openSockets() (*zmq.Socket, map[string]*zmq.Socket, error) {
	var router *zmq.Socket
	if endpoint, ok := t.endpoints[t.id]; ok {
		sock, err := zmq.NewSocket(zmq.ROUTER)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create router socket: %w", err)
		}
		if err := sock.Bind(endpoint); err != nil {
			sock.Close()
			return nil, nil, fmt.Errorf("failed to bind router at %s: %w", endpoint, err)
		}
		router = sock
	}

	dealers := make(map[string]*zmq.Socket)
	closeAll := func() {
		if router != nil {
			router.Close()
		}
		for _, d := range dealers {
			d.Close()
		}
	}

	for peer, endpoint := range t.endpoints {
		if peer == t.id {
			continue
		}
		sock, err := zmq.NewSocket(zmq.DEALER)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create dealer socket for %s: %w", peer, err)
		}
		if err := sock.SetIdentity(t.id); err != nil {
			sock.Close()
			closeAll()
			return nil, nil, fmt.Errorf("failed to set dealer identity: %w", err)
		}
		if err := sock.Connect(endpoint); err != nil {
			sock.Close()
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect dealer to %s at %s: %w", peer, endpoint, err)
		}
		dealers[peer] = sock
	}

	return router, dealers, nil
}

// Stop shuts the poll loop down and closes every socket.
func (t *ZMQTransport) Stop() error {
	close(t.shutdownCh)
	<-t.done
	t.logger.Infof("[Transport] ZeroMQ mesh for %s stopped", t.id)
	return nil
}

// Send enqueues one datagram for dst; "FFFF" fans out to every peer.
func (t *ZMQTransport) Send(dst string, data []byte) error {
	select {
	case t.outbound <- zmqDatagram{dst: dst, data: data}:
		return nil
	case <-t.shutdownCh:
		return fmt.Errorf("transport stopped")
	}
}

// Inbound returns the channel of received datagrams.
func (t *ZMQTransport) Inbound() <-chan []byte {
	return t.inbound
}

// loop owns the sockets: it polls every readable socket, drains the outbound
// queue, and exits on shutdown.
func (t *ZMQTransport) loop(router *zmq.Socket, dealers map[string]*zmq.Socket) {
	defer close(t.done)
	defer func() {
		if router != nil {
			router.Close()
		}
		for _, d := range dealers {
			d.Close()
		}
	}()

	poller := zmq.NewPoller()
	if router != nil {
		poller.Add(router, zmq.POLLIN)
	}
	// Deterministic poll order, handy when reading debug logs.
	peerIDs := make([]string, 0, len(dealers))
	for peer := range dealers {
		peerIDs = append(peerIDs, peer)
	}
	sort.Strings(peerIDs)
	for _, peer := range peerIDs {
		poller.Add(dealers[peer], zmq.POLLIN)
	}

	for {
		select {
		case <-t.shutdownCh:
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			t.logger.Errorf("[Transport] Poll error: %v", err)
			return
		}

		for _, item := range polled {
			frames, err := item.Socket.RecvMessageBytes(0)
			if err != nil {
				t.logger.Errorf("[Transport] Recv error: %v", err)
				continue
			}
			// ROUTER frames arrive as [identity, payload]; DEALER frames as
			// [payload]. The payload is always the last frame.
			payload := frames[len(frames)-1]
			if len(payload) == 0 || len(payload) > wire.MaxBytes {
				continue
			}
			select {
			case t.inbound <- payload:
			default:
				t.logger.Debugf("[Transport] Inbound buffer full, dropping datagram")
			}
		}

		t.drainOutbound(router, dealers)
	}
}

func (t *ZMQTransport) drainOutbound(router *zmq.Socket, dealers map[string]*zmq.Socket) {
	for {
		select {
		case out := <-t.outbound:
			t.transmit(router, dealers, out)
		default:
			return
		}
	}
}

func (t *ZMQTransport) transmit(router *zmq.Socket, dealers map[string]*zmq.Socket, out zmqDatagram) {
	if out.dst == wire.Broadcast {
		for peer, dealer := range dealers {
			if _, err := dealer.SendBytes(out.data, zmq.DONTWAIT); err != nil {
				t.logger.Debugf("[Transport] Broadcast to %s failed: %v", peer, err)
			}
		}
		return
	}

	if dealer, ok := dealers[out.dst]; ok {
		if _, err := dealer.SendBytes(out.data, zmq.DONTWAIT); err != nil {
			t.logger.Debugf("[Transport] Send to %s failed: %v", out.dst, err)
		}
		return
	}

	// Not a peer replica: a client reached through our ROUTER, addressed by
	// the identity its DEALER connected with.
	if router == nil {
		t.logger.Debugf("[Transport] No route to %s, dropping datagram", out.dst)
		return
	}
	if _, err := router.SendMessage(out.dst, out.data); err != nil {
		t.logger.Debugf("[Transport] Reply to %s failed: %v", out.dst, err)
	}
}
