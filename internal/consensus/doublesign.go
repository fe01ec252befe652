package consensus

import "sync"

// DoubleSignWindow is how many views of proposer observations the
// detector retains.
const DoubleSignWindow = 10

// Evidence is a slashable double-sign record: the same proposer
// produced two distinct block hashes for one (view, block number).
type Evidence struct {
	View        uint64
	BlockNumber uint64
	Proposer    AddressID
	FirstHash   Hash256
	SecondHash  Hash256
}

type dsKey struct {
	view        uint64
	blockNumber uint64
	proposer    AddressID
}

// DoubleSignDetector tracks (view, block number, proposer) → block hash
// over a short sliding window of views. The coordinator feeds it every
// accepted proposal; a second distinct hash for the same key is
// evidence.
type DoubleSignDetector struct {
	mu      sync.Mutex
	seen    map[dsKey]Hash256
	maxView uint64
}

// NewDoubleSignDetector creates an empty detector.
func NewDoubleSignDetector() *DoubleSignDetector {
	return &DoubleSignDetector{seen: make(map[dsKey]Hash256)}
}

// Observe records one proposal and reports evidence if the proposer has
// already produced a different hash for the same (view, block number).
// Entries older than DoubleSignWindow views are evicted as the window
// slides forward.
func (d *DoubleSignDetector) Observe(view, blockNumber uint64, proposer AddressID, blockHash Hash256) (Evidence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if view > d.maxView {
		d.maxView = view
		if d.maxView > DoubleSignWindow {
			floor := d.maxView - DoubleSignWindow
			for k := range d.seen {
				if k.view < floor {
					delete(d.seen, k)
				}
			}
		}
	}

	k := dsKey{view: view, blockNumber: blockNumber, proposer: proposer}
	prev, ok := d.seen[k]
	if !ok {
		d.seen[k] = blockHash
		return Evidence{}, false
	}
	if prev == blockHash {
		return Evidence{}, false
	}
	return Evidence{
		View:        view,
		BlockNumber: blockNumber,
		Proposer:    proposer,
		FirstHash:   prev,
		SecondHash:  blockHash,
	}, true
}
