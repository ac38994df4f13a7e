package engine

import (
	"testing"
	"time"
)

func schedulerBullets(states ...State) []*Bullet {
	out := make([]*Bullet, len(states))
	for i, st := range states {
		out[i] = &Bullet{
			ID:    string(rune('a' + i)),
			Text:  "bullet " + string(rune('a'+i)),
			State: st,
		}
	}
	return out
}

func TestSelectFollowupPartialFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)
	bullets := schedulerBullets(StateUncovered, StatePartial, StateIncomplete)

	got := s.SelectFollowup(bullets, "", now)
	if got == nil || got.ID != "b" {
		t.Fatalf("SelectFollowup() = %+v, want the partial bullet b", got)
	}
	if got.State != StatePending {
		t.Errorf("selected bullet state = %q, want pending", got.State)
	}
	if !got.LastFollowup.Equal(now) {
		t.Errorf("selected bullet LastFollowup = %v, want %v", got.LastFollowup, now)
	}
}

func TestSelectFollowupDeclarationOrderWithinGroup(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)
	bullets := schedulerBullets(StateIncomplete, StateUncovered)

	got := s.SelectFollowup(bullets, "", now)
	if got == nil || got.ID != "a" {
		t.Fatalf("SelectFollowup() = %+v, want first-declared bullet a", got)
	}
}

func TestSelectFollowupSkipsTerminal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)
	bullets := schedulerBullets(StateCovered, StateSkipped, StateUncovered)

	got := s.SelectFollowup(bullets, "", now)
	if got == nil || got.ID != "c" {
		t.Fatalf("SelectFollowup() = %+v, want the uncovered bullet c", got)
	}
}

func TestSelectFollowupNoImmediateRepeat(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)
	bullets := schedulerBullets(StateIncomplete, StateIncomplete)

	got := s.SelectFollowup(bullets, "a", now)
	if got == nil || got.ID != "b" {
		t.Fatalf("SelectFollowup(lastTarget=a) = %+v, want b", got)
	}
}

func TestSelectFollowupCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)
	bullets := schedulerBullets(StateIncomplete)
	bullets[0].LastFollowup = now.Add(-10 * time.Second)

	// Another bullet was asked about in between, so the repeat predicate
	// passes, but the cooldown has not elapsed yet.
	if got := s.SelectFollowup(bullets, "other", now); got != nil {
		t.Fatalf("SelectFollowup() inside cooldown = %+v, want nil", got)
	}

	if got := s.SelectFollowup(bullets, "other", now.Add(25*time.Second)); got == nil {
		t.Fatal("SelectFollowup() after cooldown elapsed = nil, want bullet a")
	}
}

func TestSelectFollowupNoCandidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFollowupScheduler(30 * time.Second)

	if got := s.SelectFollowup(nil, "", now); got != nil {
		t.Errorf("SelectFollowup(no bullets) = %+v, want nil", got)
	}

	bullets := schedulerBullets(StateCovered, StateSkipped)
	if got := s.SelectFollowup(bullets, "", now); got != nil {
		t.Errorf("SelectFollowup(all terminal) = %+v, want nil", got)
	}

	// The only candidate is the immediately preceding target.
	sole := schedulerBullets(StateIncomplete)
	if got := s.SelectFollowup(sole, "a", now); got != nil {
		t.Errorf("SelectFollowup(only last target eligible) = %+v, want nil", got)
	}
}
