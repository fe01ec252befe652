package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Config parameterizes a Transport.
type Config struct {
	ListenAddr  string
	ChainID     uint32
	GenesisHash Hash256
	Identity    Identity

	MaxConns      int
	MaxConnsPerIP int

	HandshakeTimeout time.Duration

	// OnConnect/OnDisconnect observe connection lifecycle; both are
	// optional and run on the connection's own goroutine.
	OnConnect    func(*Conn)
	OnDisconnect func(*Conn)
}

// Handler receives every message arriving on an established connection.
type Handler func(conn *Conn, m *Message)

// Transport owns the listener and the connection table. Connection
// limits apply symmetrically: the per-IP counter and the total count
// are checked and updated for inbound and outbound connections alike.
type Transport struct {
	cfg     Config
	handler Handler
	log     *logrus.Logger

	mu      sync.Mutex
	conns   map[PeerID]*Conn
	perIP   map[string]int
	total   int
	closed  bool
	ln      net.Listener

	wg sync.WaitGroup
}

// New creates a Transport. The handler runs on the connection's read
// goroutine; it must not block indefinitely.
func New(cfg Config, handler Handler, log *logrus.Logger) *Transport {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 128
	}
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = 4
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{
		cfg:     cfg,
		handler: handler,
		log:     log,
		conns:   make(map[PeerID]*Conn),
		perIP:   make(map[string]int),
	}
}

// LocalID returns this node's peer identity.
func (t *Transport) LocalID() PeerID { return t.cfg.Identity.PeerID() }

// Listen starts accepting inbound connections until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return errs.Wrap(errs.ErrTransient, "transport.Listen", err)
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.Wrap(errs.ErrTransient, "transport.Listen", err)
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.acceptInbound(raw)
		}()
	}
}

func (t *Transport) acceptInbound(raw net.Conn) {
	ip := hostOnly(raw.RemoteAddr())
	if err := t.acquireSlot(ip); err != nil {
		t.log.WithField("ip", ip).Debug("inbound connection over limit, dropped")
		_ = raw.Close()
		return
	}

	_ = raw.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	conn, err := handshake(raw, t.cfg.Identity, t.cfg.ChainID, t.cfg.GenesisHash, false)
	if err != nil {
		t.log.WithError(err).Debug("inbound handshake failed")
		t.releaseSlot(ip)
		_ = raw.Close()
		return
	}
	_ = raw.SetDeadline(time.Time{})

	if !t.register(conn) {
		t.releaseSlot(ip)
		_ = raw.Close()
		return
	}
	t.readLoop(conn, ip)
}

// Dial connects out to addr and runs the initiator side of the
// handshake. The same per-IP and total limits apply as for inbound.
func (t *Transport) Dial(addr string) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, t.cfg.HandshakeTimeout)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "transport.Dial", err)
	}
	ip := hostOnly(raw.RemoteAddr())
	if err := t.acquireSlot(ip); err != nil {
		_ = raw.Close()
		return nil, err
	}

	_ = raw.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	conn, err := handshake(raw, t.cfg.Identity, t.cfg.ChainID, t.cfg.GenesisHash, true)
	if err != nil {
		t.releaseSlot(ip)
		_ = raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})

	if !t.register(conn) {
		t.releaseSlot(ip)
		_ = raw.Close()
		return nil, errs.New(errs.ErrConflict, "transport.Dial", "peer already connected")
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(conn, ip)
	}()
	return conn, nil
}

func (t *Transport) acquireSlot(ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errs.New(errs.ErrTransient, "transport.acquireSlot", "transport closed")
	}
	if t.total >= t.cfg.MaxConns {
		return errs.New(errs.ErrResourceExhausted, "transport.acquireSlot", "total connection limit reached")
	}
	if t.perIP[ip] >= t.cfg.MaxConnsPerIP {
		return errs.New(errs.ErrResourceExhausted, "transport.acquireSlot", "per-ip connection limit reached")
	}
	t.total++
	t.perIP[ip]++
	return nil
}

func (t *Transport) releaseSlot(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total--
	if t.perIP[ip] <= 1 {
		delete(t.perIP, ip)
	} else {
		t.perIP[ip]--
	}
}

func (t *Transport) register(conn *Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if _, exists := t.conns[conn.PeerID()]; exists {
		return false
	}
	t.conns[conn.PeerID()] = conn
	return true
}

func (t *Transport) unregister(conn *Conn, ip string) {
	t.mu.Lock()
	if t.conns[conn.PeerID()] == conn {
		delete(t.conns, conn.PeerID())
	}
	t.mu.Unlock()
	t.releaseSlot(ip)
}

// readLoop pumps messages to the handler until the connection dies.
// Malformed frames and authentication failures close the connection;
// they never propagate past this edge.
func (t *Transport) readLoop(conn *Conn, ip string) {
	if t.cfg.OnConnect != nil {
		t.cfg.OnConnect(conn)
	}
	defer func() {
		t.unregister(conn, ip)
		_ = conn.Close()
		if t.cfg.OnDisconnect != nil {
			t.cfg.OnDisconnect(conn)
		}
	}()
	for {
		m, err := conn.Receive()
		if err != nil {
			t.log.WithError(err).WithField("peer", conn.PeerID()).Debug("connection read ended")
			return
		}
		t.handler(conn, m)
	}
}

// Peer returns the live connection to a peer, if any.
func (t *Transport) Peer(id PeerID) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	return c, ok
}

// Peers snapshots all live connections.
func (t *Transport) Peers() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends m to every connected peer; per-peer failures only log.
func (t *Transport) Broadcast(m *Message) {
	for _, c := range t.Peers() {
		if err := c.Send(m); err != nil {
			t.log.WithError(err).WithField("peer", c.PeerID()).Debug("broadcast send failed")
		}
	}
}

// Close shuts the listener and every connection down and waits for the
// read loops to drain.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	ln := t.ln
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	t.wg.Wait()
	return nil
}

func hostOnly(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
