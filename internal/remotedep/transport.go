package remotedep

import (
	"fmt"
	"net"
	"sync"
)

// Transport is the reliable, in-order, per-peer-pair channel the
// remote-dep protocol assumes. spec.md §4.7 assumes the transport never
// reorders or drops a message and never retransmits — ptgrt's
// implementation is a length-prefixed stream over net.Conn, one
// outbound connection per peer rank, matching that contract as long as the
// underlying TCP connection stays up; a transport error is permanent
// (pkg/rterrors.CodeTransport) and is never retried.
type Transport interface {
	// Send delivers one message to rank. Implementations must preserve
	// per-peer ordering.
	Send(rank int32, h Header, body []byte) error
	// Serve runs the receive loop, calling handle for every inbound
	// message, until the transport is closed or a fatal transport error
	// occurs.
	Serve(handle func(peer int32, h Header, body []byte)) error
	// Close tears down all peer connections.
	Close() error
}

// tcpTransport is the shipped Transport: one outbound net.Conn per peer
// rank, a per-connection mutex (so concurrent Send calls from multiple
// workers serialize onto one ordered stream), and one listener accepting
// inbound peer connections, each read by its own goroutine.
type tcpTransport struct {
	selfRank int32
	ln       net.Listener

	mu    sync.Mutex
	conns map[int32]*peerConn
	dial  func(rank int32) (net.Conn, error)
}

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport listens on listenAddr and uses dial to establish
// outbound connections to peer ranks the first time they are sent to.
func NewTCPTransport(selfRank int32, listenAddr string, dial func(rank int32) (net.Conn, error)) (*tcpTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("remotedep: listen %s: %w", listenAddr, err)
	}
	return &tcpTransport{
		selfRank: selfRank,
		ln:       ln,
		conns:    make(map[int32]*peerConn),
		dial:     dial,
	}, nil
}

// Addr returns the address the transport is actually listening on
// (useful when listenAddr was ":0").
func (t *tcpTransport) Addr() net.Addr { return t.ln.Addr() }

func (t *tcpTransport) connFor(rank int32) (*peerConn, error) {
	t.mu.Lock()
	if pc, ok := t.conns[rank]; ok {
		t.mu.Unlock()
		return pc, nil
	}
	t.mu.Unlock()

	conn, err := t.dial(rank)
	if err != nil {
		return nil, fmt.Errorf("remotedep: dial rank %d: %w", rank, err)
	}

	pc := &peerConn{conn: conn}
	t.mu.Lock()
	if existing, ok := t.conns[rank]; ok {
		t.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	t.conns[rank] = pc
	t.mu.Unlock()
	return pc, nil
}

func (t *tcpTransport) Send(rank int32, h Header, body []byte) error {
	pc, err := t.connFor(rank)
	if err != nil {
		return err
	}
	h.SrcRank = t.selfRank
	h.DestRank = rank

	pc.mu.Lock()
	defer pc.mu.Unlock()
	return writeMessage(pc.conn, h, body)
}

// Serve accepts inbound peer connections and, for each, runs a read loop
// delivering every message to handle. It blocks until the listener is
// closed.
func (t *tcpTransport) Serve(handle func(peer int32, h Header, body []byte)) error {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return err
		}
		go t.serveConn(conn, handle)
	}
}

func (t *tcpTransport) serveConn(conn net.Conn, handle func(peer int32, h Header, body []byte)) {
	defer conn.Close()
	for {
		h, body, err := readMessage(conn)
		if err != nil {
			return
		}
		handle(h.SrcRank, h, body)
	}
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.conns {
		_ = pc.conn.Close()
	}
	return t.ln.Close()
}
