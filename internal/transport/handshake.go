package transport

import (
	crand "crypto/rand"
	"net"

	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// handshakeTag domain-separates the Ed25519 binding signature over the
// ephemeral key exchange so it can never be confused with any other
// signature this identity produces.
var handshakeTag = []byte("basalt/handshake/v1")

// Identity is a node's long-term Ed25519 key pair.
type Identity struct {
	Public  cryptoprims.Ed25519PublicKey
	Private cryptoprims.Ed25519PrivateKey
}

// PeerID derives the node's network identity.
func (id Identity) PeerID() PeerID { return cryptoprims.DerivePeerID(id.Public) }

// hello is the first handshake message: long-term identity, a fresh
// nonce, and the chain binding every connection must agree on.
type hello struct {
	Ed25519Key  cryptoprims.Ed25519PublicKey
	Nonce       [32]byte
	ChainID     uint32
	GenesisHash Hash256
}

func (h *hello) encode() []byte {
	w := codec.NewWriter(104)
	w.WriteFixedBytes(h.Ed25519Key[:])
	w.WriteFixedBytes(h.Nonce[:])
	w.WriteU32(h.ChainID)
	w.WriteFixedBytes(h.GenesisHash[:])
	return w.Bytes()
}

func decodeHello(b []byte) (*hello, error) {
	r := codec.NewReader(b)
	h := &hello{}
	key, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(h.Ed25519Key[:], key)
	nonce, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(h.Nonce[:], nonce)
	if h.ChainID, err = r.ReadU32(); err != nil {
		return nil, err
	}
	genesis, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(h.GenesisHash[:], genesis)
	return h, nil
}

// exchange is the second handshake message: a signed X25519 ephemeral
// public key. The signature covers the protocol tag, both nonces, and
// the ephemeral key, binding this exchange to this connection and this
// long-term identity.
type exchange struct {
	EphemeralPub [32]byte
	Signature    cryptoprims.Ed25519Signature
}

func (e *exchange) encode() []byte {
	w := codec.NewWriter(96)
	w.WriteFixedBytes(e.EphemeralPub[:])
	w.WriteFixedBytes(e.Signature[:])
	return w.Bytes()
}

func decodeExchange(b []byte) (*exchange, error) {
	r := codec.NewReader(b)
	e := &exchange{}
	pub, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(e.EphemeralPub[:], pub)
	sig, err := r.ReadFixedBytes(64)
	if err != nil {
		return nil, err
	}
	copy(e.Signature[:], sig)
	return e, nil
}

func bindingPayload(localNonce, remoteNonce [32]byte, ephPub [32]byte) []byte {
	out := make([]byte, 0, len(handshakeTag)+96)
	out = append(out, handshakeTag...)
	out = append(out, localNonce[:]...)
	out = append(out, remoteNonce[:]...)
	out = append(out, ephPub[:]...)
	return out
}

// handshake runs the mutual authentication protocol over raw and
// returns an established secure connection. Both sides:
//
//  1. exchange long-term Ed25519 keys, nonces, chain id, genesis hash;
//  2. exchange Ed25519-signed X25519 ephemeral keys;
//  3. derive the shared secret and direction-asymmetric AEAD keys via
//     HKDF with both identity keys (sorted) in the info parameter;
//  4. hard-close on any chain-id or genesis-hash mismatch;
//  5. zero the shared secret after key derivation (the ephemeral
//     private key is dropped with the function frame).
//
// The two directions use disjoint keys and independent counters both
// starting at zero, so AES-GCM nonce reuse across directions is
// structurally impossible.
func handshake(raw net.Conn, id Identity, chainID uint32, genesisHash Hash256, initiator bool) (conn *Conn, err error) {
	// Any failure is a hard close: the peer must never be left half
	// handshaken on an open socket.
	defer func() {
		if err != nil {
			_ = raw.Close()
		}
	}()

	var localNonce [32]byte
	if _, err := crand.Read(localNonce[:]); err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "transport.handshake", err)
	}

	local := &hello{Ed25519Key: id.Public, Nonce: localNonce, ChainID: chainID, GenesisHash: genesisHash}
	remoteBytes, err := exchangeFrames(raw, local.encode())
	if err != nil {
		return nil, err
	}
	remote, err := decodeHello(remoteBytes)
	if err != nil {
		return nil, err
	}
	if remote.ChainID != chainID {
		return nil, errs.New(errs.ErrAuthInvalid, "transport.handshake", "chain id mismatch")
	}
	if remote.GenesisHash != genesisHash {
		return nil, errs.New(errs.ErrAuthInvalid, "transport.handshake", "genesis hash mismatch")
	}

	ephPriv, err := cryptoprims.GenerateX25519()
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "transport.handshake", err)
	}
	var ephPub [32]byte
	copy(ephPub[:], ephPriv.PublicKey().Bytes())

	localExchange := &exchange{
		EphemeralPub: ephPub,
		Signature:    cryptoprims.SignEd25519(id.Private, bindingPayload(localNonce, remote.Nonce, ephPub)),
	}
	remoteExchangeBytes, err := exchangeFrames(raw, localExchange.encode())
	if err != nil {
		return nil, err
	}
	remoteExchange, err := decodeExchange(remoteExchangeBytes)
	if err != nil {
		return nil, err
	}
	// The remote signed with its nonce first: from our side that is
	// (remote nonce, local nonce).
	remoteBinding := bindingPayload(remote.Nonce, localNonce, remoteExchange.EphemeralPub)
	if !cryptoprims.VerifyEd25519(remote.Ed25519Key, remoteBinding, remoteExchange.Signature) {
		return nil, errs.New(errs.ErrAuthInvalid, "transport.handshake", "ephemeral key binding signature invalid")
	}

	remoteEphPub, err := cryptoprims.ParseX25519PublicKey(remoteExchange.EphemeralPub[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrAuthInvalid, "transport.handshake", err)
	}
	shared, err := cryptoprims.X25519Exchange(ephPriv, remoteEphPub)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAuthInvalid, "transport.handshake", err)
	}
	defer cryptoprims.Zeroize(shared)

	var initiatorKey, responderKey []byte
	if initiator {
		initiatorKey, responderKey = id.Public[:], remote.Ed25519Key[:]
	} else {
		initiatorKey, responderKey = remote.Ed25519Key[:], id.Public[:]
	}
	toResponder, toInitiator, err := cryptoprims.DeriveDirectionalKeys(shared, initiatorKey, responderKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "transport.handshake", err)
	}

	c := &Conn{
		raw:       raw,
		localID:   id.PeerID(),
		peerID:    cryptoprims.DerivePeerID(remote.Ed25519Key),
		peerEdKey: remote.Ed25519Key,
		outbound:  initiator,
	}
	if initiator {
		c.sendKey, c.recvKey = toResponder, toInitiator
	} else {
		c.sendKey, c.recvKey = toInitiator, toResponder
	}
	return c, nil
}

// exchangeFrames sends one frame while concurrently reading the peer's,
// the full-duplex step a mutual handshake needs — both sides write
// first, so a sequential write-then-read would deadlock on an
// unbuffered link.
func exchangeFrames(raw net.Conn, out []byte) ([]byte, error) {
	writeErr := make(chan error, 1)
	go func() { writeErr <- writeRawFrame(raw, out) }()
	in, err := readRawFrame(raw)
	if werr := <-writeErr; err == nil && werr != nil {
		err = werr
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}
