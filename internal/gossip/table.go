// Package gossip implements the peer routing table and the mesh/lazy
// gossip layer: Kademlia-style buckets with per-subnet diversity caps
// and outbound-protected slots, a TTL-bounded seen-message cache, CAS
// reputation scoring with instant bans for large infractions, and
// IHAVE/IWANT control flow with rate-limited, correlated IWANT serving.
package gossip

import (
	"math/bits"
	"net"
	"sync"
	"time"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// PeerID aliases the shared peer identity type.
type PeerID = cryptoprims.PeerID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// Bucket geometry and diversity caps.
const (
	BucketCount        = 256
	BucketSize         = 16
	MaxPerIPv4Subnet   = 2 // per /24
	MaxPerIPv6Subnet   = 2 // per /48
	OutboundReserved   = 3 // slots per bucket only outbound peers may fill
)

// PeerInfo is the routing table's record for one known peer.
type PeerInfo struct {
	ID        PeerID
	Host      string
	Port      uint16
	Outbound  bool
	LastSeen  time.Time
	BestBlock uint64
	AddedAt   time.Time
}

type bucket struct {
	entries []*PeerInfo
}

// Table is the Kademlia-style routing table, indexed by XOR distance
// from the local peer ID. Insertion prefers long-lived peers: a full
// bucket rejects the newcomer instead of evicting a resident, and a
// reserve of slots per bucket is only usable by outbound connections so
// inbound churn cannot monopolize a bucket.
type Table struct {
	mu      sync.Mutex
	selfID  PeerID
	buckets [BucketCount]bucket
}

// NewTable creates an empty routing table centred on selfID.
func NewTable(selfID PeerID) *Table {
	return &Table{selfID: selfID}
}

// bucketIndex maps a peer to its distance bucket: the bit length of the
// XOR distance, minus one. The local ID itself has no bucket.
func (t *Table) bucketIndex(id PeerID) int {
	d := t.selfID.XORDistance(id)
	for i, b := range d {
		if b != 0 {
			return (len(d)-i)*8 - bits.LeadingZeros8(b) - 1
		}
	}
	return -1
}

// subnetKey reduces an address to its diversity-cap bucket: /24 for
// IPv4, /48 for IPv6. Unparseable hosts group under their literal
// string so they still share one cap.
func subnetKey(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IP(v4).Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}

// Add inserts a peer. A full bucket, an exhausted subnet cap, or an
// inbound peer finding only reserved slots all reject the newcomer —
// residents are never evicted to make room.
func (t *Table) Add(p PeerInfo) error {
	idx := t.bucketIndex(p.ID)
	if idx < 0 {
		return errs.New(errs.ErrInputInvalid, "gossip.Table.Add", "cannot add self")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[idx]
	subnet := subnetKey(p.Host)
	sameSubnet := 0
	for _, e := range b.entries {
		if e.ID == p.ID {
			e.LastSeen = p.LastSeen
			e.BestBlock = p.BestBlock
			return nil
		}
		if subnetKey(e.Host) == subnet {
			sameSubnet++
		}
	}

	subnetCap := MaxPerIPv4Subnet
	if ip := net.ParseIP(p.Host); ip != nil && ip.To4() == nil {
		subnetCap = MaxPerIPv6Subnet
	}
	if sameSubnet >= subnetCap {
		return errs.New(errs.ErrResourceExhausted, "gossip.Table.Add", "subnet diversity cap reached")
	}

	if len(b.entries) >= BucketSize {
		return errs.New(errs.ErrResourceExhausted, "gossip.Table.Add", "bucket full")
	}
	if !p.Outbound && len(b.entries) >= BucketSize-OutboundReserved {
		// Only the reserve remains, and the reserve is outbound-only.
		return errs.New(errs.ErrResourceExhausted, "gossip.Table.Add", "only outbound-protected slots remain")
	}

	entry := p
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	b.entries = append(b.entries, &entry)
	return nil
}

// Remove drops a peer from its bucket.
func (t *Table) Remove(id PeerID) {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.buckets[idx]
	for i, e := range b.entries {
		if e.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Get looks a peer up.
func (t *Table) Get(id PeerID) (PeerInfo, bool) {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return PeerInfo{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.buckets[idx].entries {
		if e.ID == id {
			return *e, true
		}
	}
	return PeerInfo{}, false
}

// Closest returns up to n known peers ordered by XOR distance to
// target, the find-node query primitive.
func (t *Table) Closest(target PeerID, n int) []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all []PeerInfo
	for i := range t.buckets {
		for _, e := range t.buckets[i].entries {
			all = append(all, *e)
		}
	}
	sortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Len counts all table entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i].entries)
	}
	return n
}

func sortByDistance(peers []PeerInfo, target PeerID) {
	less := func(a, b PeerInfo) bool {
		da := a.ID.XORDistance(target)
		db := b.ID.XORDistance(target)
		for i := range da {
			if da[i] != db[i] {
				return da[i] < db[i]
			}
		}
		return false
	}
	// Insertion sort: peer lists here are small and mostly ordered.
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && less(peers[j], peers[j-1]); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
}
