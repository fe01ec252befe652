package triedb

import "errors"

// errUnimplemented is returned by MarkAndSweep; see its doc comment.
var errUnimplemented = errors.New("triedb: MarkAndSweep is not implemented")

// MarkAndSweep is reserved for trie garbage collection: reclaiming nodes
// orphaned by historical state roots no longer reachable from any
// retained block.
//
// The intended shape: mark phase does a BFS from each hash in liveRoots,
// recording visited node hashes in a map[Hash256]struct{}; sweep phase
// iterates the trie_nodes column family and deletes every key not in
// that set, in batches.
//
// Trie GC is deliberately deferred (see DESIGN.md) — this is the one
// intentional stub in the repo, named rather than silently missing.
//
// TODO: implement once the block-retention window (how many historical
// roots callers must keep live) is decided; sweeping needs that as input.
func (t *Trie) MarkAndSweep(liveRoots []Hash256) (removed int, err error) {
	return 0, errUnimplemented
}
