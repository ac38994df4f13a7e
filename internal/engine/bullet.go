// Package engine implements the coverage tracking and follow-up scheduling
// core: transcript batching, per-bullet coverage state, verdict reconciliation
// and follow-up selection for one spoken answer.
//
// One [Session] tracks one answer. Sessions share no state; running several
// answers concurrently means running several independent Session instances.
package engine

import (
	"time"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

// State is the coverage state of a single bullet point.
type State string

const (
	// StateUncovered is the initial state: the bullet has not been addressed.
	StateUncovered State = "uncovered"

	// StatePending means a follow-up targeting the bullet is outstanding, or
	// the speaker sounded uncertain right after one was asked.
	StatePending State = "pending"

	// StateCovered is terminal: the coverage oracle confirmed full coverage.
	// Covered bullets are frozen and never re-evaluated.
	StateCovered State = "covered"

	// StateSkipped is terminal: the speaker explicitly indicated not knowing.
	StateSkipped State = "skipped"

	// StatePartial means the bullet was touched upon but not completed.
	StatePartial State = "partial"

	// StateIncomplete means the bullet is missing or wrong per the oracle.
	StateIncomplete State = "incomplete"
)

// Terminal reports whether s is a final state that excludes the bullet from
// further evaluation and scheduling.
func (s State) Terminal() bool {
	return s == StateCovered || s == StateSkipped
}

// Eligible reports whether a bullet in state s may be targeted by a follow-up.
func (s State) Eligible() bool {
	switch s {
	case StateUncovered, StatePending, StatePartial, StateIncomplete:
		return true
	}
	return false
}

// Bullet is one atomic, independently verifiable point of the model answer.
// Bullets are created at session construction and mutated only by the
// session's evaluation cycle; they are never destroyed mid-session.
type Bullet struct {
	// ID is unique within the session.
	ID string

	// Text is the bullet's canonical wording, used as oracle input.
	Text string

	// State is the current coverage state.
	State State

	// LastFollowup is when a follow-up last targeted this bullet.
	// The zero value means never.
	LastFollowup time.Time

	// BestMatchScore is the best similarity score seen for this bullet under
	// the claim-matching strategy; zero otherwise.
	BestMatchScore float64
}

// transition applies one evaluation cycle's verdicts to the bullet.
//
// outstanding reports whether a follow-up targeting this exact bullet is
// currently unresolved. Coverage is the ground-truth signal and wins over
// confidence; confidence only disambiguates why a bullet stayed uncovered in
// the window right after a follow-up, and can never mark a bullet covered.
//
// When the speaker sounds confident ("knows") after a follow-up, the state is
// taken from the raw coverage verdict rather than collapsed to uncovered, so
// a partial/incomplete classification is preserved.
func (b *Bullet) transition(coverage oracle.CoverageVerdict, confidence oracle.ConfidenceVerdict, outstanding bool) {
	if b.State == StateCovered {
		return
	}
	if coverage == oracle.CoverageCovered {
		b.State = StateCovered
		return
	}
	if outstanding {
		switch confidence {
		case oracle.ConfidenceDoesNotKnow:
			b.State = StateSkipped
			return
		case oracle.ConfidenceUncertain:
			b.State = StatePending
			return
		}
	}
	b.State = stateFromVerdict(coverage)
}

// stateFromVerdict maps a non-covered coverage verdict onto the stored state.
func stateFromVerdict(v oracle.CoverageVerdict) State {
	switch v {
	case oracle.CoveragePartial:
		return StatePartial
	case oracle.CoverageIncomplete:
		return StateIncomplete
	default:
		return StateUncovered
	}
}
