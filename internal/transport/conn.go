package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// MaxFrameLen caps one wire frame, enforced before any allocation on
// the read path.
const MaxFrameLen = 16 << 20

// FrameReadTimeout bounds how long a single frame read may block.
const FrameReadTimeout = 120 * time.Second

// Conn is one established, authenticated connection. Each direction has
// its own AEAD key and its own counter starting at zero; the send
// counter only ever advances under sendMu, so frame N+1 cannot hit the
// wire before frame N, and the receiver insists on exact counter order.
type Conn struct {
	raw       net.Conn
	localID   PeerID
	peerID    PeerID
	peerEdKey cryptoprims.Ed25519PublicKey
	outbound  bool

	sendKey [32]byte
	recvKey [32]byte

	sendMu  sync.Mutex
	sendCtr uint64
	recvCtr uint64
}

// PeerID returns the authenticated remote identity.
func (c *Conn) PeerID() PeerID { return c.peerID }

// PeerKey returns the remote long-term Ed25519 key.
func (c *Conn) PeerKey() cryptoprims.Ed25519PublicKey { return c.peerEdKey }

// Outbound reports whether this node dialed the connection.
func (c *Conn) Outbound() bool { return c.outbound }

// RemoteAddr exposes the underlying network address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close tears the connection down.
func (c *Conn) Close() error { return c.raw.Close() }

// Send seals and writes one message. The whole seal-and-write sequence
// holds sendMu: the counter used for the nonce and the order frames
// reach the socket cannot diverge even under concurrent senders.
func (c *Conn) Send(m *Message) error {
	plaintext := m.Encode()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ciphertext, err := cryptoprims.AEADSeal(c.sendKey, c.sendCtr, plaintext, nil)
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "transport.Send", err)
	}
	if err := writeRawFrame(c.raw, ciphertext); err != nil {
		return err
	}
	c.sendCtr++
	return nil
}

// Receive reads, opens, and validates one message. The receive counter
// is the expected nonce: a replayed or out-of-order frame fails AEAD
// authentication and kills the connection. The envelope's sender field
// must match the connection's authenticated peer, and the timestamp
// must sit inside the drift window.
func (c *Conn) Receive() (*Message, error) {
	ciphertext, err := readRawFrame(c.raw)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptoprims.AEADOpen(c.recvKey, c.recvCtr, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAuthInvalid, "transport.Receive", err)
	}
	c.recvCtr++

	m, err := DecodeMessage(plaintext)
	if err != nil {
		return nil, err
	}
	if m.Sender != c.peerID {
		return nil, errs.New(errs.ErrAuthInvalid, "transport.Receive", "sender field does not match authenticated peer")
	}
	if err := checkTimestamp(m.TimestampMS, uint64(time.Now().UnixMilli())); err != nil {
		return nil, err
	}
	return m, nil
}

// writeRawFrame writes a 4-byte little-endian length prefix and the
// frame body.
func writeRawFrame(w net.Conn, frame []byte) error {
	if len(frame) > MaxFrameLen {
		return errs.New(errs.ErrInputMalformed, "transport.writeRawFrame", "frame exceeds cap")
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(frame)))
	if _, err := w.Write(prefix[:]); err != nil {
		return errs.Wrap(errs.ErrTransient, "transport.writeRawFrame", err)
	}
	if _, err := w.Write(frame); err != nil {
		return errs.Wrap(errs.ErrTransient, "transport.writeRawFrame", err)
	}
	return nil
}

// readRawFrame reads one length-prefixed frame under the per-frame
// timeout, validating the length against the cap before allocating.
func readRawFrame(r net.Conn) ([]byte, error) {
	if err := r.SetReadDeadline(time.Now().Add(FrameReadTimeout)); err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "transport.readRawFrame", err)
	}
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "transport.readRawFrame", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n == 0 || n > MaxFrameLen {
		return nil, errs.New(errs.ErrInputMalformed, "transport.readRawFrame", "frame length out of range")
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "transport.readRawFrame", err)
	}
	return frame, nil
}
