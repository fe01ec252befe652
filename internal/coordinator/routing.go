package coordinator

import (
	"net"
	"strconv"
	"time"

	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/gossip"
	"github.com/Basalt-Foundation/basalt/internal/transport"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}

// SendMessage implements gossip.Outbound: wrap a payload in the
// envelope and send it over the live connection to peer.
func (n *Node) SendMessage(peer PeerID, typ transport.MsgType, payload []byte) error {
	conn, ok := n.trans.Peer(peer)
	if !ok {
		return errs.New(errs.ErrTransient, "coordinator.SendMessage", "peer not connected")
	}
	return conn.Send(&transport.Message{
		Type:        typ,
		Sender:      n.trans.LocalID(),
		TimestampMS: uint64(time.Now().UnixMilli()),
		Payload:     payload,
	})
}

// --- consensus.Broadcaster ---
//
// The engine invokes these inside its critical section; each hands the
// actual network write to a goroutine so nothing blocks under the
// engine lock.

// BroadcastProposal gossips a proposal to the network.
func (n *Node) BroadcastProposal(p *consensus.Proposal) {
	payload := p.Encode()
	n.goSend(func() { n.router.Publish(transport.MsgProposal, payload, PeerID{}) })
}

// SendVoteToLeader sends an individual vote directly to the round
// leader — votes are never gossiped.
func (n *Node) SendVoteToLeader(v *consensus.Vote, leader consensus.ValidatorInfo) {
	payload := v.Encode()
	peer := leader.PeerID
	n.goSend(func() {
		if err := n.SendMessage(peer, transport.MsgVote, payload); err != nil {
			n.log.WithError(err).Debug("vote send failed")
		}
	})
}

// BroadcastQC gossips an aggregate certificate.
func (n *Node) BroadcastQC(qc *consensus.QuorumCertificate) {
	payload := qc.Encode()
	n.goSend(func() { n.router.Publish(transport.MsgQC, payload, PeerID{}) })
}

// BroadcastViewChange gossips a view-change message.
func (n *Node) BroadcastViewChange(vc *consensus.ViewChange) {
	payload := vc.Encode()
	n.goSend(func() { n.router.Publish(transport.MsgViewChange, payload, PeerID{}) })
}

func (n *Node) goSend(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// handleMessage is the transport's inbound dispatch. Consensus-typed
// messages pass a validator-set membership check at this edge — an
// unknown peer's consensus traffic is dropped before it can reach the
// engine — and every gossip-typed message passes the dedup gate first.
func (n *Node) handleMessage(conn *transport.Conn, m *transport.Message) {
	from := conn.PeerID()
	rep := n.router.Reputation(from)
	if rep.Banned(time.Now()) {
		return
	}

	switch m.Type {
	case transport.MsgProposal, transport.MsgQC, transport.MsgViewChange:
		if !n.isValidatorPeer(from) {
			rep.Penalize(5, time.Minute)
			return
		}
		if !n.router.Accept(from, m.Type, m.Payload) {
			return // duplicate
		}
		n.handleConsensusPayload(m.Type, m.Payload, rep)

	case transport.MsgVote:
		if !n.isValidatorPeer(from) {
			rep.Penalize(5, time.Minute)
			return
		}
		v, err := consensus.DecodeVote(m.Payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		if err := n.engine.HandleVote(v); err != nil {
			n.log.WithError(err).Debug("vote rejected")
		}

	case transport.MsgTxAnnounce:
		if !n.router.Accept(from, m.Type, m.Payload) {
			return
		}
		tx, err := txn.Decode(m.Payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		tip := n.chainMgr.Tip()
		if err := n.pool.Add(tx, n.ref.Get(), tip.BaseFee); err != nil {
			n.log.WithError(err).Debug("announced transaction rejected")
			return
		}
		n.met.MempoolSize.Set(float64(n.pool.Len()))

	case transport.MsgBlockRequest:
		n.handleBlockRequest(from, m.Payload)

	case transport.MsgBlockResponse:
		// Single-block responses only matter to an in-flight fetch;
		// outside one they are harmless and dropped.

	case transport.MsgFindNode:
		n.handleFindNode(from, m.Payload)

	case transport.MsgFindNodeResponse:
		n.handleFindNodeResponse(m.Payload)

	case transport.MsgSyncRequest:
		n.handleSyncRequest(from, m.Payload)

	case transport.MsgSyncResponse:
		n.handleSyncResponse(from, m.Payload)

	case transport.MsgIHave:
		ids, err := gossip.DecodeIDList(m.Payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		n.router.HandleIHave(from, ids)

	case transport.MsgIWant:
		ids, err := gossip.DecodeIDList(m.Payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		n.router.HandleIWant(from, ids)

	case transport.MsgGraft:
		n.router.Graft(from)

	case transport.MsgPrune:
		n.router.Prune(from)

	default:
		rep.Penalize(10, time.Minute)
	}
}

// handleConsensusPayload decodes and dispatches a gossip-carried
// consensus message. Accepted proposals also feed the double-sign
// detector; evidence triggers a full slash.
func (n *Node) handleConsensusPayload(typ transport.MsgType, payload []byte, rep *gossip.Reputation) {
	switch typ {
	case transport.MsgProposal:
		p, err := consensus.DecodeProposal(payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		set := n.epochMgr.CurrentSet()
		if proposer, ok := set.ByIndex(int(p.ProposerIndex)); ok {
			if ev, caught := n.detector.Observe(p.View, p.BlockNumber, proposer.Address, p.BlockHash); caught {
				n.onDoubleSign(ev)
			}
		}
		if err := n.engine.HandleProposal(p); err != nil {
			n.log.WithError(err).Debug("proposal rejected")
		}

	case transport.MsgQC:
		qc, err := consensus.DecodeQuorumCertificate(payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		if err := n.engine.HandleQC(qc); err != nil {
			n.log.WithError(err).Debug("certificate rejected")
		}

	case transport.MsgViewChange:
		vc, err := consensus.DecodeViewChange(payload)
		if err != nil {
			rep.Penalize(10, time.Minute)
			return
		}
		if err := n.engine.HandleViewChange(vc); err != nil {
			n.log.WithError(err).Debug("view change rejected")
		}
	}
}

// onDoubleSign applies the 100% slash for proposer equivocation; the
// slash history entry and the stake deduction land in one critical
// section inside staking.
func (n *Node) onDoubleSign(ev consensus.Evidence) {
	tip := n.chainMgr.Tip()
	amount, err := n.stak.ApplySlash(ev.Proposer, 1, 1, tip.Number, "double sign")
	if err != nil {
		n.log.WithError(err).WithField("proposer", ev.Proposer).Warn("double-sign slash failed")
		return
	}
	n.log.WithField("proposer", ev.Proposer).WithField("slashed", amount.String()).
		Warn("double-sign evidence: validator slashed")
}

// isValidatorPeer reports whether a peer ID belongs to the current
// validator set.
func (n *Node) isValidatorPeer(peer PeerID) bool {
	for _, v := range n.epochMgr.CurrentSet().Members() {
		if v.PeerID == peer {
			return true
		}
	}
	return false
}

// onPeerConnect seeds the routing table and the gossip tiers with a
// freshly authenticated peer.
func (n *Node) onPeerConnect(conn *transport.Conn) {
	host := ""
	var port uint16
	if addr := conn.RemoteAddr(); addr != nil {
		if h, p, err := splitHostPort(addr.String()); err == nil {
			host, port = h, p
		}
	}
	if err := n.table.Add(gossip.PeerInfo{
		ID:       conn.PeerID(),
		Host:     host,
		Port:     port,
		Outbound: conn.Outbound(),
		LastSeen: time.Now(),
	}); err != nil {
		n.log.WithError(err).WithField("peer", conn.PeerID()).Debug("routing table rejected peer")
	}
	n.router.AddPeer(conn.PeerID())
	n.met.PeerCount.Set(float64(len(n.trans.Peers())))
}

// onPeerDisconnect clears a departed peer out of the gossip tiers.
func (n *Node) onPeerDisconnect(conn *transport.Conn) {
	n.router.RemovePeer(conn.PeerID())
	n.met.PeerCount.Set(float64(len(n.trans.Peers())))
}

// handleFindNode answers a discovery query with the closest known
// peers.
func (n *Node) handleFindNode(from PeerID, payload []byte) {
	req, err := transport.DecodeFindNode(payload)
	if err != nil {
		return
	}
	closest := n.table.Closest(req.Target, transport.MaxFindNodePeers)
	resp := &transport.FindNodeResponse{}
	for _, p := range closest {
		resp.Peers = append(resp.Peers, transport.PeerRecord{ID: p.ID, Host: p.Host, Port: p.Port})
	}
	if err := n.SendMessage(from, transport.MsgFindNodeResponse, resp.Encode()); err != nil {
		n.log.WithError(err).Debug("find-node response send failed")
	}
}

// handleFindNodeResponse merges discovered peers into the routing
// table; the table's own caps decide what sticks.
func (n *Node) handleFindNodeResponse(payload []byte) {
	resp, err := transport.DecodeFindNodeResponse(payload)
	if err != nil {
		return
	}
	for _, p := range resp.Peers {
		_ = n.table.Add(gossip.PeerInfo{ID: p.ID, Host: p.Host, Port: p.Port, LastSeen: time.Now()})
	}
}

// handleBlockRequest serves a single block lookup.
func (n *Node) handleBlockRequest(from PeerID, payload []byte) {
	req, err := transport.DecodeBlockRequest(payload)
	if err != nil {
		return
	}
	var (
		b  interface{ Encode() []byte }
		ok bool
	)
	if req.ByNumber {
		b, ok, err = n.store.GetBlockByNumber(req.Number)
	} else {
		b, ok, err = n.store.GetBlockByHash(req.Hash)
	}
	if err != nil || !ok {
		return
	}
	if err := n.SendMessage(from, transport.MsgBlockResponse, b.Encode()); err != nil {
		n.log.WithError(err).Debug("block response send failed")
	}
}
