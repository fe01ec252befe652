package coordinator

import (
	"sync"

	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// nullifierSet is the per-block compliance-proof replay guard. It is
// cleared at every block boundary; a nullifier only ever enters the set
// after its proof has verified, so a failed verification never burns
// the nullifier for a later, valid submission.
type nullifierSet struct {
	mu  sync.Mutex
	set map[Hash256]struct{}
}

func newNullifierSet() *nullifierSet {
	return &nullifierSet{set: make(map[Hash256]struct{})}
}

// CheckAndRecord verifies every proof first and only then records the
// nullifiers, rejecting any nullifier already used in this block.
func (n *nullifierSet) CheckAndRecord(proofs []txn.ComplianceProof, verify ProofVerifier) error {
	if len(proofs) == 0 {
		return nil
	}
	for _, p := range proofs {
		if !verify(p) {
			return errs.New(errs.ErrInputInvalid, "coordinator.nullifiers", "compliance proof verification failed")
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range proofs {
		if _, used := n.set[p.Nullifier]; used {
			return errs.New(errs.ErrConflict, "coordinator.nullifiers", "nullifier already used in this block")
		}
	}
	for _, p := range proofs {
		n.set[p.Nullifier] = struct{}{}
	}
	return nil
}

// Clear empties the set at a block boundary.
func (n *nullifierSet) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.set = make(map[Hash256]struct{})
}
