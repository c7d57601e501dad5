package transport

import (
	"fmt"
	"net"
	"time"

	"replikv/internal/wire"
)

// UnixgramTransport attaches to a pre-bound Unix datagram socket named by the
// replica's own id. The process on the other end of the socket is the network
// simulator: it routes by the dst field of each record, so Send ignores the
// dst argument and writes every datagram to the one connected endpoint.
type UnixgramTransport struct {
	socketPath string
	quantum    time.Duration
	conn       *net.UnixConn
	inbound    chan []byte
	shutdownCh chan struct{}
	done       chan struct{}
	logger     Logger
}

// NewUnixgramTransport creates a transport that will connect to the datagram
// socket at socketPath. The quantum bounds each blocking read so shutdown is
// observed promptly.
func NewUnixgramTransport(socketPath string, quantum time.Duration, logger Logger) *UnixgramTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &UnixgramTransport{
		socketPath: socketPath,
		quantum:    quantum,
		inbound:    make(chan []byte, inboundBuffer),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start connects to the simulator's socket and begins reading datagrams.
func (t *UnixgramTransport) Start() error {
	raddr := &net.UnixAddr{Name: t.socketPath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return fmt.Errorf("failed to connect to datagram socket %q: %w", t.socketPath, err)
	}
	t.conn = conn

	go t.listen()

	t.logger.Infof("[Transport] Connected to datagram socket %s", t.socketPath)
	return nil
}

// Stop shuts down the transport.
func (t *UnixgramTransport) Stop() error {
	close(t.shutdownCh)
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Errorf("[Transport] Error closing socket: %v", err)
		}
	}
	<-t.done
	t.logger.Infof("[Transport] Stopped datagram transport")
	return nil
}

// listen reads datagrams off the socket and hands them to the inbound
// channel. Reads are bounded by the quantum so the shutdown channel is
// checked between waits.
func (t *UnixgramTransport) listen() {
	defer close(t.done)

	buffer := make([]byte, wire.MaxBytes)

	for {
		select {
		case <-t.shutdownCh:
			return
		default:
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.quantum)); err != nil {
			t.logger.Errorf("[Transport] Error setting read deadline: %v", err)
			continue
		}

		n, err := t.conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.shutdownCh:
				return
			default:
				t.logger.Errorf("[Transport] Error reading from socket: %v", err)
				continue
			}
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case t.inbound <- data:
		default:
			// The protocol recovers dropped datagrams via retransmission.
			t.logger.Debugf("[Transport] Inbound buffer full, dropping datagram")
		}
	}
}

// Send writes one datagram to the simulator. The simulator routes on the
// record's dst field, so dst is unused here.
func (t *UnixgramTransport) Send(_ string, data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport not started")
	}
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

// Inbound returns the channel of received datagrams.
func (t *UnixgramTransport) Inbound() <-chan []byte {
	return t.inbound
}
