package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
)

// S2: parity split. V0 and V2 sit at view 20, V1 and V3 at view 21. All
// four time out; the lower pair proposes view 21, the upper pair view
// 22. Auto-join pulls the lower pair onto 22 and every validator
// reaches quorum for it within one delivery round.
func TestParitySplitViewChange(t *testing.T) {
	engines, _, tn, _, set := buildCluster(t, 4, 1, 1)
	require.Equal(t, 3, set.Quorum())

	views := []uint64{20, 21, 20, 21}
	for i, e := range engines {
		e.mu.Lock()
		e.currentView = views[i]
		e.mu.Unlock()
	}

	for _, e := range engines {
		e.OnViewTimeout()
	}
	tn.pump()

	for i, e := range engines {
		require.Equal(t, uint64(22), e.CurrentView(), "engine %d stuck", i)
	}
}

// Auto-join fires at most once per proposed view, and only on
// validators that have themselves timed out.
func TestAutoJoinOnlyWhenTimedOut(t *testing.T) {
	engines, _, tn, _, _ := buildCluster(t, 4, 1, 1)

	// Engine 1 times out alone at view 0 and proposes view 1; nobody
	// else has timed out, so nobody follows and no quorum forms.
	engines[1].OnViewTimeout()
	tn.pump()

	for i, e := range engines {
		require.Equal(t, uint64(0), e.CurrentView(), "engine %d cascaded", i)
	}
}

// View never moves backward: a stale view-change proposal for a lower
// view is ignored even with quorum-many copies.
func TestViewNeverDecreases(t *testing.T) {
	engines, _, tn, vals, _ := buildCluster(t, 4, 1, 1)

	// Drive everyone to view 22 via the parity-split path.
	views := []uint64{20, 21, 20, 21}
	for i, e := range engines {
		e.mu.Lock()
		e.currentView = views[i]
		e.mu.Unlock()
	}
	for _, e := range engines {
		e.OnViewTimeout()
	}
	tn.pump()
	require.Equal(t, uint64(22), engines[0].CurrentView())

	// Replay a now-stale, correctly-signed view-21 message; it drops
	// silently and nothing moves.
	before := engines[0].CurrentView()
	sig := cryptoprims.SignBLS(vals[1].blsPriv, ViewChangePayload(testChainID, 21))
	err := engines[0].HandleViewChange(&ViewChange{ProposedView: 21, VoterIndex: 1, Signature: sig})
	require.NoError(t, err)
	require.Equal(t, before, engines[0].CurrentView())
}

// A view change from a non-validator or with a bad signature is dropped.
func TestViewChangeValidation(t *testing.T) {
	engines, _, _, vals, _ := buildCluster(t, 4, 1, 1)

	// Unknown voter index.
	err := engines[0].HandleViewChange(&ViewChange{ProposedView: 5, VoterIndex: 99})
	require.Error(t, err)

	// Known voter, garbage signature.
	vc := &ViewChange{ProposedView: 5, VoterIndex: 1}
	_ = vals
	err = engines[0].HandleViewChange(vc)
	require.Error(t, err)
}

// After a view-change quorum, StartRound proposes at the new view, and
// minNextView persists within the epoch.
func TestMinNextViewAppliesToStartRound(t *testing.T) {
	engines, _, tn, _, _ := buildCluster(t, 4, 1, 1)

	views := []uint64{20, 21, 20, 21}
	for i, e := range engines {
		e.mu.Lock()
		e.currentView = views[i]
		e.mu.Unlock()
	}
	for _, e := range engines {
		e.OnViewTimeout()
	}
	tn.pump()

	e := engines[0]
	require.NoError(t, e.StartRound(1, []byte("post view change")))
	e.mu.Lock()
	r := e.rounds[1]
	e.mu.Unlock()
	require.Equal(t, uint64(22), r.view)
}

// An epoch transition resets minNextView and clears in-flight rounds,
// but never rewinds the view counter.
func TestEpochTransitionResetsMinNextView(t *testing.T) {
	engines, _, tn, vals, set := buildCluster(t, 4, 1, 1)

	views := []uint64{20, 21, 20, 21}
	for i, e := range engines {
		e.mu.Lock()
		e.currentView = views[i]
		e.mu.Unlock()
	}
	for _, e := range engines {
		e.OnViewTimeout()
	}
	tn.pump()

	e := engines[0]
	e.SetValidatorSet(set, vals[0].info)
	e.mu.Lock()
	minNext := e.minNextView
	cur := e.currentView
	e.mu.Unlock()
	require.Equal(t, uint64(0), minNext)
	require.Equal(t, uint64(22), cur)
}
