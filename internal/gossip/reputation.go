package gossip

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reputation scoring bounds.
const (
	ScoreMax     int32 = 200
	ScoreInitial int32 = 100

	// BanInfraction is the single-step penalty at or beyond which a peer
	// is banned immediately rather than merely docked.
	BanInfraction int32 = -100

	// RewardWindowCap limits how much score a peer can earn per reward
	// window, so a peer cannot grind good behaviour to bank credit
	// against later abuse.
	RewardWindowCap int32 = 20
	RewardWindow          = time.Minute
)

// Reputation is one peer's score and ban state. Score updates are
// lock-free compare-and-swap with clamping into [0, ScoreMax]; the
// reward accounting uses a small mutex since it touches two fields.
type Reputation struct {
	score       atomic.Int32
	bannedUntil atomic.Int64

	rewardMu     sync.Mutex
	rewardStart  time.Time
	rewardEarned int32
}

// NewReputation starts a peer at the neutral initial score.
func NewReputation() *Reputation {
	r := &Reputation{}
	r.score.Store(ScoreInitial)
	return r
}

// Score returns the current score.
func (r *Reputation) Score() int32 { return r.score.Load() }

// Banned reports whether a ban is in effect.
func (r *Reputation) Banned(now time.Time) bool {
	return now.UnixMilli() < r.bannedUntil.Load()
}

// Penalize applies a negative delta via CAS with clamping at zero. An
// infraction at or beyond BanInfraction bans the peer immediately for
// banFor, regardless of the score it had banked.
func (r *Reputation) Penalize(delta int32, banFor time.Duration) {
	if delta > 0 {
		delta = -delta
	}
	if delta <= BanInfraction {
		r.bannedUntil.Store(time.Now().Add(banFor).UnixMilli())
	}
	for {
		cur := r.score.Load()
		next := cur + delta
		if next < 0 {
			next = 0
		}
		if r.score.CompareAndSwap(cur, next) {
			if next == 0 {
				r.bannedUntil.Store(time.Now().Add(banFor).UnixMilli())
			}
			return
		}
	}
}

// Reward applies a positive delta, clamped at ScoreMax and capped per
// reward window.
func (r *Reputation) Reward(delta int32) {
	if delta < 0 {
		delta = -delta
	}

	r.rewardMu.Lock()
	now := time.Now()
	if now.Sub(r.rewardStart) >= RewardWindow {
		r.rewardStart = now
		r.rewardEarned = 0
	}
	allowed := RewardWindowCap - r.rewardEarned
	if allowed <= 0 {
		r.rewardMu.Unlock()
		return
	}
	if delta > allowed {
		delta = allowed
	}
	r.rewardEarned += delta
	r.rewardMu.Unlock()

	for {
		cur := r.score.Load()
		next := cur + delta
		if next > ScoreMax {
			next = ScoreMax
		}
		if r.score.CompareAndSwap(cur, next) {
			return
		}
	}
}
