package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	oraclemock "github.com/vivavoce-ai/vivavoce/pkg/oracle/mock"
)

// fakeClock is a manually advanced clock for deterministic trigger and
// cooldown behavior.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testConfig returns a config that evaluates on every ingested fragment, with
// a short cooldown and quiet logging.
func testConfig(clock *fakeClock, cov oracle.CoverageOracle, bullets ...string) Config {
	return Config{
		SessionID:         "sess-1",
		QuestionID:        "q-42",
		QuestionText:      "Explain how an LRU cache works.",
		Bullets:           bullets,
		Coverage:          cov,
		EvalFragmentCount: 1,
		FollowupCooldown:  time.Nanosecond,
		Logger:            slog.New(slog.DiscardHandler),
		Clock:             clock.Now,
	}
}

func mustSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func speak(t *testing.T, s *Session, seq int, text string) {
	t.Helper()
	if err := s.Update(context.Background(), Fragment{Seq: seq, Text: text}); err != nil {
		t.Fatalf("Update(seq=%d) error = %v", seq, err)
	}
}

func stateOf(t *testing.T, s *Session, bulletID string) State {
	t.Helper()
	for _, b := range s.Snapshot() {
		if b.ID == bulletID {
			return b.State
		}
	}
	t.Fatalf("bullet %q not in snapshot", bulletID)
	return ""
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty session id", func(c *Config) { c.SessionID = "" }},
		{"nil coverage oracle", func(c *Config) { c.Coverage = nil }},
		{"negative interval", func(c *Config) { c.EvalInterval = -time.Second }},
		{"negative fragment count", func(c *Config) { c.EvalFragmentCount = -1 }},
		{"negative cooldown", func(c *Config) { c.FollowupCooldown = -time.Second }},
		{"negative oracle timeout", func(c *Config) { c.OracleTimeout = -time.Second }},
		{"blank bullet", func(c *Config) { c.Bullets = []string{"fine", "  "} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(newFakeClock(), cov, "a point")
			tt.mutate(&cfg)

			_, err := NewSession(cfg)
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("NewSession() error = %v, want *ConfigurationError", err)
			}
		})
	}

	t.Run("zero bullets is valid", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(newFakeClock(), cov)
		if _, err := NewSession(cfg); err != nil {
			t.Fatalf("NewSession() with zero bullets error = %v", err)
		}
	})
}

func TestSessionImmediateCoverage(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageCovered}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov, "eviction policy", "O(1) lookups"))

	speak(t, s, 1, "An LRU cache evicts the least recently used entry and keeps lookups O(1).")

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if report.Score != 100 {
		t.Errorf("Score = %v, want 100", report.Score)
	}
	if len(report.Covered) != 2 || len(report.Missed) != 0 {
		t.Errorf("covered/missed = %d/%d, want 2/0", len(report.Covered), len(report.Missed))
	}
	if len(report.Followups) != 0 {
		t.Errorf("Followups = %d, want 0 when everything is covered up front", len(report.Followups))
	}
}

func TestSessionEmitsFollowup(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{
		Verdicts: map[string]oracle.CoverageVerdict{
			"eviction policy": oracle.CoverageCovered,
		},
		Default: oracle.CoverageIncomplete,
	}
	clock := newFakeClock()

	var emitted []FollowupRecord
	cfg := testConfig(clock, cov, "eviction policy", "O(1) lookups")
	cfg.Phrasing = &oraclemock.PhrasingOracle{Question: "How fast are lookups?"}
	cfg.OnFollowup = func(r FollowupRecord) { emitted = append(emitted, r) }
	s := mustSession(t, cfg)

	speak(t, s, 1, "It evicts the least recently used entry.")

	if len(emitted) != 1 {
		t.Fatalf("OnFollowup invocations = %d, want 1", len(emitted))
	}
	rec := emitted[0]
	if rec.BulletID != "b2" || rec.BulletText != "O(1) lookups" {
		t.Errorf("follow-up target = %s (%q), want b2 (O(1) lookups)", rec.BulletID, rec.BulletText)
	}
	if rec.Question != "How fast are lookups?" {
		t.Errorf("Question = %q, want the phrased question", rec.Question)
	}
	if rec.Degraded {
		t.Error("Degraded = true for a successful phrasing call")
	}
	if got := stateOf(t, s, "b2"); got != StatePending {
		t.Errorf("target state after follow-up = %q, want pending", got)
	}

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	var followupEntries int
	for _, e := range report.Transcript {
		if e.Kind == EntryFollowup {
			followupEntries++
			if e.Text != "How fast are lookups?" {
				t.Errorf("follow-up transcript entry = %q", e.Text)
			}
		}
	}
	if followupEntries != 1 {
		t.Errorf("follow-up transcript entries = %d, want 1", followupEntries)
	}
}

func TestSessionCoveredStaysFrozen(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{
		Verdicts: map[string]oracle.CoverageVerdict{
			"eviction policy": oracle.CoverageCovered,
		},
	}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov, "eviction policy"))

	speak(t, s, 1, "least recently used entries get evicted")
	if got := stateOf(t, s, "b1"); got != StateCovered {
		t.Fatalf("state after covered verdict = %q, want covered", got)
	}

	// A later contradicting verdict must not demote the bullet; the engine
	// does not even consult the oracle for terminal bullets.
	cov.Verdicts["eviction policy"] = oracle.CoverageUncovered
	before := cov.CallCount()
	clock.Advance(time.Minute)
	speak(t, s, 2, "actually I am not sure about eviction")

	if got := stateOf(t, s, "b1"); got != StateCovered {
		t.Errorf("state after contradicting verdict = %q, want covered", got)
	}
	if cov.CallCount() != before {
		t.Errorf("coverage oracle consulted for a terminal bullet: %d extra calls", cov.CallCount()-before)
	}
}

func TestSessionSkipsOnAdmission(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageUncovered}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "thread safety")
	conf := &oraclemock.ConfidenceOracle{Verdict: oracle.ConfidenceDoesNotKnow}
	cfg.Confidence = conf
	s := mustSession(t, cfg)

	speak(t, s, 1, "the cache keeps a doubly linked list")
	if got := stateOf(t, s, "b1"); got != StatePending {
		t.Fatalf("state after first cycle = %q, want pending (follow-up outstanding)", got)
	}

	clock.Advance(time.Minute)
	speak(t, s, 2, "honestly I don't know about locking")
	if got := stateOf(t, s, "b1"); got != StateSkipped {
		t.Errorf("state after admission = %q, want skipped", got)
	}

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if report.Score != 0 {
		t.Errorf("Score = %v, want 0", report.Score)
	}
	if len(report.Followups) != 1 {
		t.Errorf("Followups = %d, want 1 (skipped bullets are never re-asked)", len(report.Followups))
	}
}

func TestSessionUncertainKeepsPending(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageUncovered}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "thread safety")
	cfg.Confidence = &oraclemock.ConfidenceOracle{Verdict: oracle.ConfidenceUncertain}
	s := mustSession(t, cfg)

	speak(t, s, 1, "there is a map and a list")
	clock.Advance(time.Minute)
	speak(t, s, 2, "hmm, maybe, I think, possibly a mutex?")

	if got := stateOf(t, s, "b1"); got != StatePending {
		t.Errorf("state after uncertain answer = %q, want pending", got)
	}
}

func TestSessionConfidentAnswerKeepsGranularity(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageUncovered}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "thread safety")
	cfg.Confidence = &oraclemock.ConfidenceOracle{Verdict: oracle.ConfidenceKnows}
	s := mustSession(t, cfg)

	speak(t, s, 1, "there is a map and a list")

	// The speaker answers the follow-up confidently but only partially; the
	// partial classification must survive instead of collapsing to uncovered.
	cov.Default = oracle.CoveragePartial
	clock.Advance(time.Minute)
	speak(t, s, 2, "a mutex guards the map")

	if got := stateOf(t, s, "b1"); got != StatePartial {
		t.Errorf("state after confident partial answer = %q, want partial", got)
	}
}

func TestSessionCoverageFailureDegradesToIncomplete(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Err: errors.New("backend unavailable")}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov, "first point", "second point"))

	speak(t, s, 1, "some answer text")

	// The degraded verdict is incomplete; the first bullet then becomes the
	// follow-up target and moves to pending.
	if got := stateOf(t, s, "b1"); got != StatePending {
		t.Errorf("b1 state = %q, want pending (selected for follow-up)", got)
	}
	if got := stateOf(t, s, "b2"); got != StateIncomplete {
		t.Errorf("b2 state = %q, want incomplete (degraded verdict)", got)
	}
}

func TestSessionPhrasingFallback(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageUncovered}
	clock := newFakeClock()

	var emitted []FollowupRecord
	cfg := testConfig(clock, cov, "eviction policy")
	cfg.Phrasing = &oraclemock.PhrasingOracle{Err: errors.New("backend unavailable")}
	cfg.OnFollowup = func(r FollowupRecord) { emitted = append(emitted, r) }
	s := mustSession(t, cfg)

	speak(t, s, 1, "caches store things")

	if len(emitted) != 1 {
		t.Fatalf("OnFollowup invocations = %d, want 1", len(emitted))
	}
	want := fmt.Sprintf(followupFallback, "eviction policy")
	if emitted[0].Question != want {
		t.Errorf("fallback question = %q, want %q", emitted[0].Question, want)
	}
	if !emitted[0].Degraded {
		t.Error("Degraded = false for a template fallback question")
	}
}

func TestSessionConfidenceFailureDegradesToKnows(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageUncovered}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "thread safety")
	cfg.Confidence = &oraclemock.ConfidenceOracle{Err: errors.New("backend unavailable")}
	s := mustSession(t, cfg)

	speak(t, s, 1, "there is a map")
	cov.Default = oracle.CoveragePartial
	clock.Advance(time.Minute)
	speak(t, s, 2, "a lock around it")

	// Degraded confidence means "knows", so the raw partial verdict decides.
	if got := stateOf(t, s, "b1"); got != StatePartial {
		t.Errorf("state after degraded confidence = %q, want partial", got)
	}
}

func TestSessionAlternatesFollowupTargets(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageIncomplete}
	clock := newFakeClock()

	var targets []string
	cfg := testConfig(clock, cov, "first point", "second point")
	cfg.OnFollowup = func(r FollowupRecord) { targets = append(targets, r.BulletID) }
	s := mustSession(t, cfg)

	for seq := 1; seq <= 3; seq++ {
		speak(t, s, seq, "still talking around the subject")
		clock.Advance(time.Minute)
	}

	want := []string{"b1", "b2", "b1"}
	if len(targets) != len(want) {
		t.Fatalf("follow-up targets = %v, want %v", targets, want)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("follow-up targets = %v, want %v", targets, want)
		}
	}
}

func TestSessionCooldownBlocksReask(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageIncomplete}
	clock := newFakeClock()

	var targets []string
	cfg := testConfig(clock, cov, "first point", "second point")
	cfg.FollowupCooldown = 30 * time.Second
	cfg.OnFollowup = func(r FollowupRecord) { targets = append(targets, r.BulletID) }
	s := mustSession(t, cfg)

	// Each bullet gets asked once; the third cycle arrives 20s after b1's
	// follow-up, inside its cooldown, so nothing is selected.
	speak(t, s, 1, "talking")
	clock.Advance(10 * time.Second)
	speak(t, s, 2, "more talking")
	clock.Advance(10 * time.Second)
	speak(t, s, 3, "even more talking")

	want := []string{"b1", "b2"}
	if len(targets) != len(want) || targets[0] != want[0] || targets[1] != want[1] {
		t.Fatalf("follow-up targets = %v, want %v", targets, want)
	}
}

func TestSessionFinalizeFlushesBuffer(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{
		Verdicts: map[string]oracle.CoverageVerdict{
			"eviction policy": oracle.CoverageCovered,
		},
		Default: oracle.CoverageIncomplete,
	}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "eviction policy", "O(1) lookups")
	cfg.EvalFragmentCount = 10 // never triggers on its own

	s := mustSession(t, cfg)
	if err := s.Ingest(Fragment{Seq: 1, Text: "evict the least recently used entry"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if cov.CallCount() != 0 {
		t.Fatalf("oracle called before any trigger: %d calls", cov.CallCount())
	}

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cov.CallCount() == 0 {
		t.Error("Finalize() did not evaluate the buffered fragments")
	}
	if report.Score != 50 {
		t.Errorf("Score = %v, want 50 for 1 of 2 bullets covered", report.Score)
	}

	if _, err := s.Finalize(context.Background()); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFinalized", err)
	}
	if err := s.Ingest(Fragment{Seq: 2, Text: "late"}); !errors.Is(err, ErrFinalized) {
		t.Errorf("Ingest() after finalize error = %v, want ErrFinalized", err)
	}
}

func TestSessionZeroBullets(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov))

	speak(t, s, 1, "free-form answer with nothing to check against")

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cov.CallCount() != 0 {
		t.Errorf("oracle calls = %d, want 0 with no bullets", cov.CallCount())
	}
	if report.Score != 0 {
		t.Errorf("Score = %v, want 0", report.Score)
	}
	if len(report.Followups) != 0 {
		t.Errorf("Followups = %d, want 0", len(report.Followups))
	}
	if len(report.Transcript) != 1 {
		t.Errorf("Transcript entries = %d, want 1", len(report.Transcript))
	}
}

func TestSessionIgnoresBlankFragments(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov, "a point"))

	speak(t, s, 1, "   \t  ")

	if cov.CallCount() != 0 {
		t.Errorf("oracle calls = %d, want 0 after a blank fragment", cov.CallCount())
	}
	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(report.Transcript) != 0 {
		t.Errorf("Transcript entries = %d, want 0", len(report.Transcript))
	}
}

func TestSessionToleratesSequenceGaps(t *testing.T) {
	t.Parallel()

	cov := &oraclemock.CoverageOracle{Default: oracle.CoverageCovered}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "a point")
	cfg.EvalFragmentCount = 10
	s := mustSession(t, cfg)

	if err := s.Ingest(Fragment{Seq: 1, Text: "first"}); err != nil {
		t.Fatalf("Ingest(1) error = %v", err)
	}
	if err := s.Ingest(Fragment{Seq: 5, Text: "fifth, fragments 2-4 were dropped"}); err != nil {
		t.Fatalf("Ingest(5) error = %v", err)
	}

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(report.Transcript) != 2 {
		t.Errorf("Transcript entries = %d, want 2", len(report.Transcript))
	}
}

// scoredCoverage is a coverage oracle that also reports per-bullet similarity
// scores, like the claim-matching strategy does.
type scoredCoverage struct {
	oraclemock.CoverageOracle
	scores map[string]float64
}

func (s *scoredCoverage) BestScores() map[string]float64 { return s.scores }

func TestSessionReportCarriesBestScores(t *testing.T) {
	t.Parallel()

	cov := &scoredCoverage{
		CoverageOracle: oraclemock.CoverageOracle{Default: oracle.CoverageCovered},
		scores:         map[string]float64{"eviction policy": 0.83},
	}
	clock := newFakeClock()
	s := mustSession(t, testConfig(clock, cov, "eviction policy"))

	speak(t, s, 1, "evict least recently used")

	report, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(report.Covered) != 1 {
		t.Fatalf("covered = %d, want 1", len(report.Covered))
	}
	if got := report.Covered[0].BestMatchScore; got != 0.83 {
		t.Errorf("BestMatchScore = %v, want 0.83", got)
	}
}

func TestSessionFullAnswerIncludesFollowups(t *testing.T) {
	t.Parallel()

	var answers []string
	cov := &oraclemock.CoverageOracle{
		ClassifyFunc: func(_ context.Context, _, fullAnswer string) (oracle.CoverageVerdict, error) {
			answers = append(answers, fullAnswer)
			return oracle.CoverageUncovered, nil
		},
	}
	clock := newFakeClock()
	cfg := testConfig(clock, cov, "a point")
	cfg.Phrasing = &oraclemock.PhrasingOracle{Question: "Could you expand on that?"}
	s := mustSession(t, cfg)

	speak(t, s, 1, "first part of the answer")
	clock.Advance(time.Minute)
	speak(t, s, 2, "second part of the answer")

	if len(answers) < 2 {
		t.Fatalf("coverage calls = %d, want at least 2", len(answers))
	}
	last := answers[len(answers)-1]
	if !strings.Contains(last, "[follow-up] Could you expand on that?") {
		t.Errorf("full answer lacks the tagged follow-up: %q", last)
	}
	if !strings.Contains(last, "first part of the answer") || !strings.Contains(last, "second part of the answer") {
		t.Errorf("full answer lacks speech fragments: %q", last)
	}
}
