package gossip

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/transport"
)

// Tier sizes and control-flow limits.
const (
	MeshSize        = 8
	MaxIHaveIDs     = 64
	MaxIWantPerPeer = 32 // served IWANT IDs per peer per window
	IWantWindow     = 10 * time.Second
	MessageCacheCap = 1024
	AdvertiseTTL    = time.Minute
)

// Outbound is the transport-facing half of the router: deliver a typed
// payload to one peer.
type Outbound interface {
	SendMessage(peer PeerID, typ transport.MsgType, payload []byte) error
}

type cachedMessage struct {
	typ     transport.MsgType
	payload []byte
	addedAt time.Time
}

// Router spreads messages through two tiers: mesh (eager) peers get the
// full message immediately, everyone else gets an IHAVE advertisement
// and may pull with IWANT. Inbound messages pass the seen-cache dedup
// gate before any handler runs.
type Router struct {
	mu    sync.Mutex
	out   Outbound
	seen  *SeenCache
	log   *logrus.Logger

	mesh map[PeerID]struct{}
	lazy map[PeerID]struct{}

	// cache holds recently-published message bodies for IWANT serving;
	// advertised tracks which IDs were actually offered via IHAVE so an
	// IWANT for an unadvertised ID can be refused outright.
	cache      map[Hash256]cachedMessage
	cacheOrder []Hash256
	advertised map[Hash256]time.Time

	iwantServed map[PeerID]*servedWindow

	reps map[PeerID]*Reputation
}

type servedWindow struct {
	start time.Time
	count int
}

// NewRouter creates a router publishing through out.
func NewRouter(out Outbound, seen *SeenCache, log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		out:         out,
		seen:        seen,
		log:         log,
		mesh:        make(map[PeerID]struct{}),
		lazy:        make(map[PeerID]struct{}),
		cache:       make(map[Hash256]cachedMessage),
		advertised:  make(map[Hash256]time.Time),
		iwantServed: make(map[PeerID]*servedWindow),
		reps:        make(map[PeerID]*Reputation),
	}
}

// Reputation returns (creating if needed) a peer's reputation record.
func (r *Router) Reputation(peer PeerID) *Reputation {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reps[peer]
	if !ok {
		rep = NewReputation()
		r.reps[peer] = rep
	}
	return rep
}

// AddPeer places a peer in a tier: the mesh while it has room, the lazy
// tier otherwise.
func (r *Router) AddPeer(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mesh) < MeshSize {
		r.mesh[peer] = struct{}{}
	} else {
		r.lazy[peer] = struct{}{}
	}
}

// RemovePeer drops a peer from both tiers, promoting a lazy peer into
// the vacated mesh slot when one exists.
func (r *Router) RemovePeer(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, wasMesh := r.mesh[peer]
	delete(r.mesh, peer)
	delete(r.lazy, peer)
	if wasMesh {
		for p := range r.lazy {
			delete(r.lazy, p)
			r.mesh[p] = struct{}{}
			break
		}
	}
}

// Graft moves a peer into the mesh (the peer asked for eager delivery).
func (r *Router) Graft(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lazy, peer)
	r.mesh[peer] = struct{}{}
}

// Prune demotes a peer to the lazy tier.
func (r *Router) Prune(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mesh, peer)
	r.lazy[peer] = struct{}{}
}

// ContentID is the gossip dedup key: BLAKE3 of the payload.
func ContentID(payload []byte) Hash256 { return cryptoprims.HashBLAKE3(payload) }

// Publish sends payload eagerly to the mesh and advertises it to the
// lazy tier. The message is cached for IWANT pulls and its ID recorded
// as advertised.
func (r *Router) Publish(typ transport.MsgType, payload []byte, exclude PeerID) {
	id := ContentID(payload)
	r.seen.MarkSeen(id)

	r.mu.Lock()
	r.cacheLocked(id, typ, payload)
	r.advertised[id] = time.Now()
	meshPeers := make([]PeerID, 0, len(r.mesh))
	for p := range r.mesh {
		if p != exclude {
			meshPeers = append(meshPeers, p)
		}
	}
	lazyPeers := make([]PeerID, 0, len(r.lazy))
	for p := range r.lazy {
		if p != exclude {
			lazyPeers = append(lazyPeers, p)
		}
	}
	r.mu.Unlock()

	for _, p := range meshPeers {
		if err := r.out.SendMessage(p, typ, payload); err != nil {
			r.log.WithError(err).WithField("peer", p).Debug("eager send failed")
		}
	}
	if len(lazyPeers) > 0 {
		ihave := EncodeIDList([]Hash256{id})
		for _, p := range lazyPeers {
			if err := r.out.SendMessage(p, transport.MsgIHave, ihave); err != nil {
				r.log.WithError(err).WithField("peer", p).Debug("ihave send failed")
			}
		}
	}
}

// Accept runs the dedup gate for an inbound message and, when the
// message is fresh, re-publishes it to the rest of the network. It
// reports whether the caller should process the message.
func (r *Router) Accept(from PeerID, typ transport.MsgType, payload []byte) bool {
	id := ContentID(payload)
	if r.seen.MarkSeen(id) {
		return false
	}
	r.mu.Lock()
	r.cacheLocked(id, typ, payload)
	r.advertised[id] = time.Now()
	r.mu.Unlock()
	r.Publish(typ, payload, from)
	return true
}

// HandleIWant serves requested IDs back to the asker, refusing IDs that
// were never advertised and rate-limiting how many a peer may pull per
// window — correlation plus the cap stop an adversary from turning
// IWANT into an unbounded cache-read primitive.
func (r *Router) HandleIWant(from PeerID, ids []Hash256) {
	now := time.Now()

	r.mu.Lock()
	w := r.iwantServed[from]
	if w == nil || now.Sub(w.start) >= IWantWindow {
		w = &servedWindow{start: now}
		r.iwantServed[from] = w
	}
	type outMsg struct {
		typ     transport.MsgType
		payload []byte
	}
	var serve []outMsg
	for _, id := range ids {
		if w.count >= MaxIWantPerPeer {
			break
		}
		advertisedAt, ok := r.advertised[id]
		if !ok || now.Sub(advertisedAt) > AdvertiseTTL {
			continue
		}
		msg, ok := r.cache[id]
		if !ok {
			continue
		}
		w.count++
		serve = append(serve, outMsg{typ: msg.typ, payload: msg.payload})
	}
	r.mu.Unlock()

	for _, m := range serve {
		if err := r.out.SendMessage(from, m.typ, m.payload); err != nil {
			r.log.WithError(err).WithField("peer", from).Debug("iwant serve failed")
		}
	}
}

// HandleIHave answers an advertisement with an IWANT for the IDs this
// node has not seen.
func (r *Router) HandleIHave(from PeerID, ids []Hash256) {
	var want []Hash256
	for _, id := range ids {
		if !r.seen.MarkSeen(id) {
			want = append(want, id)
		}
	}
	if len(want) == 0 {
		return
	}
	if err := r.out.SendMessage(from, transport.MsgIWant, EncodeIDList(want)); err != nil {
		r.log.WithError(err).WithField("peer", from).Debug("iwant send failed")
	}
}

func (r *Router) cacheLocked(id Hash256, typ transport.MsgType, payload []byte) {
	if _, ok := r.cache[id]; ok {
		return
	}
	for len(r.cache) >= MessageCacheCap && len(r.cacheOrder) > 0 {
		oldest := r.cacheOrder[0]
		r.cacheOrder = r.cacheOrder[1:]
		delete(r.cache, oldest)
		delete(r.advertised, oldest)
	}
	r.cache[id] = cachedMessage{typ: typ, payload: payload, addedAt: time.Now()}
	r.cacheOrder = append(r.cacheOrder, id)
}

// EncodeIDList serializes a content-ID list for IHAVE/IWANT control
// messages.
func EncodeIDList(ids []Hash256) []byte {
	w := codec.NewWriter(8 + 32*len(ids))
	w.WriteCount(len(ids))
	for _, id := range ids {
		w.WriteFixedBytes(id[:])
	}
	return w.Bytes()
}

// DecodeIDList reverses EncodeIDList, capped at MaxIHaveIDs.
func DecodeIDList(b []byte) ([]Hash256, error) {
	r := codec.NewReader(b)
	n, err := r.ReadCount(MaxIHaveIDs)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInputMalformed, "gossip.DecodeIDList", err)
	}
	out := make([]Hash256, n)
	for i := 0; i < n; i++ {
		raw, err := r.ReadFixedBytes(32)
		if err != nil {
			return nil, err
		}
		copy(out[i][:], raw)
	}
	return out, nil
}
