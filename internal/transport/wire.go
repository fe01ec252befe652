// Package transport implements Basalt's authenticated peer transport:
// length-prefixed frames over TCP, a mutual Ed25519/X25519 handshake
// deriving direction-asymmetric AEAD keys, strictly monotonic nonce
// counters in both directions, and symmetric per-IP and total
// connection limits.
package transport

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// PeerID aliases the shared peer identity type.
type PeerID = cryptoprims.PeerID

// MsgType discriminates the wire message families. Every encoded
// message starts with this type byte; parsers validate it against the
// known range before touching the payload.
type MsgType uint8

const (
	MsgProposal MsgType = iota + 1
	MsgVote
	MsgQC
	MsgViewChange
	MsgTxAnnounce
	MsgTxPull
	MsgBlockRequest
	MsgBlockResponse
	MsgSyncRequest
	MsgSyncResponse
	MsgFindNode
	MsgFindNodeResponse
	MsgIHave
	MsgIWant
	MsgGraft
	MsgPrune

	msgTypeMax = MsgPrune
)

// MaxPayloadLen caps a message payload, checked before allocation.
const MaxPayloadLen = 16 << 20

// MaxClockDriftMS is the accepted timestamp skew in either direction.
const MaxClockDriftMS = 30_000

// Message is the envelope every peer-to-peer exchange travels in. The
// Sender field is redundant with the connection's authenticated
// identity on purpose: the receiver compares the two and drops any
// message where they disagree.
type Message struct {
	Type        MsgType
	Sender      PeerID
	TimestampMS uint64
	Payload     []byte
}

// Encode serializes the envelope.
func (m *Message) Encode() []byte {
	w := codec.NewWriter(64 + len(m.Payload))
	w.WriteU8(uint8(m.Type))
	w.WriteFixedBytes(m.Sender[:])
	w.WriteU64(m.TimestampMS)
	w.WriteBytes(m.Payload)
	return w.Bytes()
}

// DecodeMessage parses and validates an envelope. The payload length is
// range-checked before the payload is materialized.
func DecodeMessage(b []byte) (*Message, error) {
	r := codec.NewReader(b)
	m := &Message{}
	typ, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if typ == 0 || MsgType(typ) > msgTypeMax {
		return nil, errs.New(errs.ErrInputMalformed, "transport.DecodeMessage", "unknown message type")
	}
	m.Type = MsgType(typ)
	sender, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.Sender[:], sender)
	if m.TimestampMS, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if m.Payload, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	if len(m.Payload) > MaxPayloadLen {
		return nil, errs.New(errs.ErrInputMalformed, "transport.DecodeMessage", "payload exceeds cap")
	}
	return m, nil
}

// checkTimestamp rejects messages older or newer than the drift window.
func checkTimestamp(msgMS, nowMS uint64) error {
	if msgMS+MaxClockDriftMS < nowMS {
		return errs.New(errs.ErrInputInvalid, "transport.checkTimestamp", "message too old")
	}
	if msgMS > nowMS+MaxClockDriftMS {
		return errs.New(errs.ErrInputInvalid, "transport.checkTimestamp", "message too far in the future")
	}
	return nil
}

// MaxSyncBatch caps how many blocks one sync response may carry.
const MaxSyncBatch = 128

// SyncRequest asks a peer for a contiguous block range. Seq is the
// requester's batch sequence number; the matching response must echo
// it, so a stale response from an earlier batch cannot complete the
// wrong wait.
type SyncRequest struct {
	Seq   uint64
	From  uint64
	Count uint32
}

// Encode serializes the request.
func (s *SyncRequest) Encode() []byte {
	w := codec.NewWriter(20)
	w.WriteU64(s.Seq)
	w.WriteU64(s.From)
	w.WriteU32(s.Count)
	return w.Bytes()
}

// DecodeSyncRequest reverses SyncRequest.Encode.
func DecodeSyncRequest(b []byte) (*SyncRequest, error) {
	r := codec.NewReader(b)
	s := &SyncRequest{}
	var err error
	if s.Seq, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if s.From, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if s.Count, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if s.Count == 0 || s.Count > MaxSyncBatch {
		return nil, errs.New(errs.ErrInputMalformed, "transport.DecodeSyncRequest", "count out of range")
	}
	return s, nil
}

// SyncResponse returns encoded blocks for a sync request.
type SyncResponse struct {
	Seq    uint64
	Blocks [][]byte
}

// Encode serializes the response.
func (s *SyncResponse) Encode() []byte {
	w := codec.NewWriter(64)
	w.WriteU64(s.Seq)
	w.WriteCount(len(s.Blocks))
	for _, b := range s.Blocks {
		w.WriteBytes(b)
	}
	return w.Bytes()
}

// DecodeSyncResponse reverses SyncResponse.Encode.
func DecodeSyncResponse(b []byte) (*SyncResponse, error) {
	r := codec.NewReader(b)
	s := &SyncResponse{}
	var err error
	if s.Seq, err = r.ReadU64(); err != nil {
		return nil, err
	}
	n, err := r.ReadCount(MaxSyncBatch)
	if err != nil {
		return nil, err
	}
	s.Blocks = make([][]byte, n)
	for i := 0; i < n; i++ {
		if s.Blocks[i], err = r.ReadBytes(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MaxFindNodePeers caps a find-node response.
const MaxFindNodePeers = 16

// PeerRecord is one routable peer in discovery traffic.
type PeerRecord struct {
	ID   PeerID
	Host string
	Port uint16
}

// FindNode asks a peer for the entries it knows closest to Target.
type FindNode struct {
	Target PeerID
}

// Encode serializes the query.
func (f *FindNode) Encode() []byte {
	w := codec.NewWriter(32)
	w.WriteFixedBytes(f.Target[:])
	return w.Bytes()
}

// DecodeFindNode reverses FindNode.Encode.
func DecodeFindNode(b []byte) (*FindNode, error) {
	r := codec.NewReader(b)
	f := &FindNode{}
	raw, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(f.Target[:], raw)
	return f, nil
}

// FindNodeResponse carries the responding peer's closest entries.
type FindNodeResponse struct {
	Peers []PeerRecord
}

// Encode serializes the response.
func (f *FindNodeResponse) Encode() []byte {
	w := codec.NewWriter(64 * len(f.Peers))
	w.WriteCount(len(f.Peers))
	for _, p := range f.Peers {
		w.WriteFixedBytes(p.ID[:])
		w.WriteString(p.Host)
		w.WriteU16(p.Port)
	}
	return w.Bytes()
}

// DecodeFindNodeResponse reverses FindNodeResponse.Encode.
func DecodeFindNodeResponse(b []byte) (*FindNodeResponse, error) {
	r := codec.NewReader(b)
	n, err := r.ReadCount(MaxFindNodePeers)
	if err != nil {
		return nil, err
	}
	out := &FindNodeResponse{Peers: make([]PeerRecord, n)}
	for i := 0; i < n; i++ {
		raw, err := r.ReadFixedBytes(32)
		if err != nil {
			return nil, err
		}
		copy(out.Peers[i].ID[:], raw)
		if out.Peers[i].Host, err = r.ReadString(); err != nil {
			return nil, err
		}
		if out.Peers[i].Port, err = r.ReadU16(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// BlockRequest asks for one block, by hash or (when ByNumber) number.
type BlockRequest struct {
	ByNumber bool
	Number   uint64
	Hash     Hash256
}

// Encode serializes the request.
func (br *BlockRequest) Encode() []byte {
	w := codec.NewWriter(48)
	byNum := uint8(0)
	if br.ByNumber {
		byNum = 1
	}
	w.WriteU8(byNum)
	w.WriteU64(br.Number)
	w.WriteFixedBytes(br.Hash[:])
	return w.Bytes()
}

// DecodeBlockRequest reverses BlockRequest.Encode.
func DecodeBlockRequest(b []byte) (*BlockRequest, error) {
	r := codec.NewReader(b)
	br := &BlockRequest{}
	byNum, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if byNum > 1 {
		return nil, errs.New(errs.ErrInputMalformed, "transport.DecodeBlockRequest", "selector out of range")
	}
	br.ByNumber = byNum == 1
	if br.Number, err = r.ReadU64(); err != nil {
		return nil, err
	}
	hash, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(br.Hash[:], hash)
	return br, nil
}
