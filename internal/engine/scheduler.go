package engine

import "time"

// FollowupScheduler selects which bullet, if any, the next follow-up question
// should target. Selection policy:
//
//   - Candidates are ordered partial-first, then incomplete/uncovered, each
//     group in bullet declaration order. A nudge on a partially covered point
//     is more likely to close it than starting cold on an untouched one.
//   - A candidate must pass every predicate: its state must be eligible, it
//     must not repeat the immediately preceding follow-up's target, and its
//     own cooldown must have elapsed.
//   - At most one follow-up is selected per evaluation cycle. No eligible
//     candidate is a normal outcome, not an error.
//
// The scheduler decides which bullet to target, never how to phrase the
// question. It is not safe for concurrent use; the owning session serializes
// evaluation cycles.
type FollowupScheduler struct {
	cooldown time.Duration
}

// NewFollowupScheduler creates a scheduler with the given per-bullet cooldown.
func NewFollowupScheduler(cooldown time.Duration) *FollowupScheduler {
	return &FollowupScheduler{cooldown: cooldown}
}

// predicate is one independently testable selection condition.
type predicate func(b *Bullet, now time.Time) bool

// eligibleState accepts bullets whose state permits a follow-up.
func eligibleState(b *Bullet, _ time.Time) bool {
	return b.State.Eligible()
}

// notImmediateRepeat rejects the target of the immediately preceding
// follow-up, so one stubborn bullet cannot be asked about every cycle.
func notImmediateRepeat(lastTargetID string) predicate {
	return func(b *Bullet, _ time.Time) bool {
		return lastTargetID == "" || b.ID != lastTargetID
	}
}

// cooldownElapsed rejects bullets asked about within the cooldown window, so
// the speaker gets a realistic chance to respond before being re-asked.
func cooldownElapsed(cooldown time.Duration) predicate {
	return func(b *Bullet, now time.Time) bool {
		return b.LastFollowup.IsZero() || now.Sub(b.LastFollowup) > cooldown
	}
}

// SelectFollowup returns the bullet the next follow-up should target, or nil
// when no candidate passes all predicates. On selection the bullet is marked
// pending and its cooldown timestamp is set to now.
//
// lastTargetID is the bullet targeted by the immediately preceding follow-up,
// or "" when none has been issued yet.
func (s *FollowupScheduler) SelectFollowup(bullets []*Bullet, lastTargetID string, now time.Time) *Bullet {
	var candidates []*Bullet
	for _, b := range bullets {
		if b.State == StatePartial {
			candidates = append(candidates, b)
		}
	}
	for _, b := range bullets {
		if b.State == StateIncomplete || b.State == StateUncovered {
			candidates = append(candidates, b)
		}
	}

	preds := []predicate{
		eligibleState,
		notImmediateRepeat(lastTargetID),
		cooldownElapsed(s.cooldown),
	}

next:
	for _, b := range candidates {
		for _, p := range preds {
			if !p(b, now) {
				continue next
			}
		}
		b.State = StatePending
		b.LastFollowup = now
		return b
	}
	return nil
}
