package protocol

import (
	"context"
	"net"
)

// Transport is the narrow interface the reliability layer depends on
// instead of a concrete *net.UDPConn, per §9's "Cyclic dependencies" note:
// dependency inversion at the SM/transport boundary. One message per
// datagram (§6).
type Transport interface {
	// Send writes payload to dst as a single datagram.
	Send(dst string, payload []byte) error
	// Receive blocks for the next inbound datagram, returning its payload
	// and the source address it arrived from, or an error if the
	// transport is closed or ctx is done.
	Receive(ctx context.Context) (payload []byte, src string, err error)
	// Close releases the underlying socket.
	Close() error
	// LocalAddr reports the address this transport is bound to.
	LocalAddr() string
}

// UDPTransport is the production Transport, wrapping a *net.UDPConn the
// way the teacher's Server owned its socket directly — here behind the
// interface above.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket at addr (host:port) and returns a Transport.
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) Send(dst string, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(payload, addr)
	return err
}

func (t *UDPTransport) Receive(ctx context.Context) ([]byte, string, error) {
	buf := make([]byte, 2048)
	type result struct {
		n    int
		addr *net.UDPAddr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		n, addr, err := t.conn.ReadFromUDP(buf)
		done <- result{n, addr, err}
	}()

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, "", r.err
		}
		data := make([]byte, r.n)
		copy(data, buf[:r.n])
		return data, r.addr.String(), nil
	}
}

func (t *UDPTransport) Close() error { return t.conn.Close() }

func (t *UDPTransport) LocalAddr() string { return t.conn.LocalAddr().String() }

// InMemoryTransport is a Transport backed by an in-process channel pair,
// used to drive the Connection/Turn state machines in tests without a
// real socket (§8 scenarios S1-S6).
type InMemoryTransport struct {
	self   string
	inbox  chan inMemoryDatagram
	peers  map[string]chan inMemoryDatagram
	closed chan struct{}
}

type inMemoryDatagram struct {
	payload []byte
	from    string
}

// NewInMemoryNetwork builds a set of InMemoryTransports, one per named
// peer, each able to Send to any other by name.
func NewInMemoryNetwork(names ...string) map[string]*InMemoryTransport {
	inboxes := make(map[string]chan inMemoryDatagram, len(names))
	for _, n := range names {
		inboxes[n] = make(chan inMemoryDatagram, 64)
	}
	out := make(map[string]*InMemoryTransport, len(names))
	for _, n := range names {
		out[n] = &InMemoryTransport{
			self:   n,
			inbox:  inboxes[n],
			peers:  inboxes,
			closed: make(chan struct{}),
		}
	}
	return out
}

func (t *InMemoryTransport) Send(dst string, payload []byte) error {
	ch, ok := t.peers[dst]
	if !ok {
		return net.UnknownNetworkError("no such peer: " + dst)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case ch <- inMemoryDatagram{payload: cp, from: t.self}:
		return nil
	case <-t.closed:
		return net.ErrClosed
	}
}

func (t *InMemoryTransport) Receive(ctx context.Context) ([]byte, string, error) {
	select {
	case d := <-t.inbox:
		return d.payload, d.from, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-t.closed:
		return nil, "", net.ErrClosed
	}
}

func (t *InMemoryTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *InMemoryTransport) LocalAddr() string { return t.self }

// LossyTransport wraps a Transport so Send silently drops every outbound
// datagram for which ShouldDrop returns true, for exercising the reliability layer's retry/fatal paths
// (property P1's "loss rate" parameter) against a real Transport
// implementation instead of asserting on internal state directly.
type LossyTransport struct {
	Transport
	ShouldDrop func(payload []byte) bool
}

func (t *LossyTransport) Send(dst string, payload []byte) error {
	if t.ShouldDrop != nil && t.ShouldDrop(payload) {
		return nil
	}
	return t.Transport.Send(dst, payload)
}
