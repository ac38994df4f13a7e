package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

const (
	// DefaultEvalInterval is how long the buffer may age before a batch is
	// evaluated regardless of size.
	DefaultEvalInterval = 20 * time.Second

	// DefaultEvalFragmentCount triggers evaluation early when this many
	// fragments accumulate before the interval elapses.
	DefaultEvalFragmentCount = 3

	// DefaultFollowupCooldown is the per-bullet minimum gap between two
	// follow-ups targeting the same bullet.
	DefaultFollowupCooldown = 30 * time.Second

	// DefaultOracleTimeout bounds every individual oracle call.
	DefaultOracleTimeout = 10 * time.Second

	// maxConcurrentClassifications caps parallel per-bullet coverage calls so
	// a long model answer cannot fan out into an unbounded request burst.
	maxConcurrentClassifications = 4
)

// followupFallback phrases a follow-up deterministically when the phrasing
// oracle is unavailable.
const followupFallback = "You haven't clearly covered this point yet: '%s'. Could you elaborate?"

// ErrFinalized is returned by session operations after Finalize has run.
var ErrFinalized = errors.New("engine: session already finalized")

// ConfigurationError reports an invalid session configuration. Construction
// fails fast on these; nothing is retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("engine: invalid configuration: %s: %s", e.Field, e.Reason)
}

// EntryKind distinguishes transcript entry origins.
type EntryKind string

const (
	// EntrySpeech is a transcribed speaker fragment.
	EntrySpeech EntryKind = "speech"

	// EntryFollowup is a follow-up question the engine injected.
	EntryFollowup EntryKind = "followup"
)

// Entry is one line of the persistent session transcript.
type Entry struct {
	Seq  int       `json:"seq"`
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Fragment is one incoming transcript fragment from the transcription layer.
type Fragment struct {
	// Seq is the producer's monotonically increasing sequence number. Gaps
	// are logged but tolerated; transcription layers drop fragments under
	// load and the engine must keep working on what arrives.
	Seq int `json:"seq"`

	// Text is the transcribed speech.
	Text string `json:"text"`

	// At is when the fragment was produced. Zero means "on arrival".
	At time.Time `json:"at"`
}

// FollowupRecord is one follow-up question the session emitted.
type FollowupRecord struct {
	BulletID   string    `json:"bullet_id"`
	BulletText string    `json:"bullet_text"`
	Question   string    `json:"question"`
	At         time.Time `json:"at"`

	// Degraded marks questions produced by the deterministic fallback
	// template rather than the phrasing oracle.
	Degraded bool `json:"degraded,omitempty"`
}

// BulletResult is a bullet's final standing in the session report.
type BulletResult struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	State State  `json:"state"`

	// BestMatchScore is the best similarity seen under the claim-matching
	// strategy; zero under the direct-classification strategy.
	BestMatchScore float64 `json:"best_match_score,omitempty"`
}

// Report is the immutable outcome of a finalized session.
type Report struct {
	SessionID    string `json:"session_id"`
	QuestionID   string `json:"question_id,omitempty"`
	QuestionText string `json:"question_text,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// Score is 100 * covered / total bullets, 0 for a bulletless session.
	Score float64 `json:"score"`

	Covered   []BulletResult   `json:"covered"`
	Missed    []BulletResult   `json:"missed"`
	Followups []FollowupRecord `json:"followups"`
	Transcript []Entry         `json:"transcript"`

	StartedAt   time.Time     `json:"started_at"`
	FinalizedAt time.Time     `json:"finalized_at"`
	Duration    time.Duration `json:"duration"`
}

// Config configures a [Session].
type Config struct {
	// SessionID identifies the session in logs, traces and the report.
	// Must not be empty.
	SessionID string

	// QuestionID and QuestionText identify the interview question being
	// answered. Optional; carried into the report verbatim.
	QuestionID   string
	QuestionText string

	// Tags are free-form question labels carried into the report.
	Tags []string

	// Bullets are the model answer's bullet texts in declaration order. An
	// empty set is valid: the session runs, emits no follow-ups, and
	// finalizes with a score of 0.
	Bullets []string

	// Coverage classifies bullet coverage. Must not be nil.
	Coverage oracle.CoverageOracle

	// Confidence classifies speaker certainty after a follow-up. Optional;
	// when nil every post-followup batch is treated as confident.
	Confidence oracle.ConfidenceOracle

	// Phrasing composes follow-up question text. Optional; when nil the
	// deterministic fallback template is always used.
	Phrasing oracle.PhrasingOracle

	// EvalInterval is the buffer age trigger. Defaults to
	// DefaultEvalInterval; must not be negative.
	EvalInterval time.Duration

	// EvalFragmentCount is the buffer size trigger. Defaults to
	// DefaultEvalFragmentCount; must not be negative.
	EvalFragmentCount int

	// FollowupCooldown is the per-bullet re-ask gap. Defaults to
	// DefaultFollowupCooldown; must not be negative.
	FollowupCooldown time.Duration

	// OracleTimeout bounds each oracle call. Defaults to
	// DefaultOracleTimeout; must not be negative.
	OracleTimeout time.Duration

	// OnFollowup, when set, is invoked synchronously from the evaluation
	// cycle for every emitted follow-up. Implementations must be quick; the
	// serving layer uses this to push the question to the interviewer UI.
	OnFollowup func(FollowupRecord)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Session tracks coverage of one spoken answer against one model answer.
//
// The transcription producer calls [Session.Ingest] or [Session.Update];
// the owner's ticker calls [Session.Tick] so the interval trigger fires even
// during silence. Evaluation cycles are serialized internally, so both entry
// points are safe to call concurrently.
type Session struct {
	id           string
	questionID   string
	questionText string
	tags         []string

	coverage   oracle.CoverageOracle
	confidence oracle.ConfidenceOracle
	phrasing   oracle.PhrasingOracle

	buffer    *TranscriptBuffer
	scheduler *FollowupScheduler

	oracleTimeout time.Duration
	onFollowup    func(FollowupRecord)
	log           *slog.Logger
	metrics       *observe.Metrics
	now           func() time.Time
	startedAt     time.Time

	// evalMu serializes evaluation cycles end to end, including oracle calls.
	evalMu sync.Mutex

	// mu guards everything below. Held only for short state reads/writes,
	// never across an oracle call.
	mu           sync.Mutex
	bullets      []*Bullet
	transcript   []Entry
	followups    []FollowupRecord
	lastSeq      int
	lastTargetID string
	finalized    bool
}

// NewSession validates cfg and creates a session. The active-session gauge is
// incremented here and decremented by Finalize.
func NewSession(cfg Config) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, &ConfigurationError{Field: "SessionID", Reason: "must not be empty"}
	}
	if cfg.Coverage == nil {
		return nil, &ConfigurationError{Field: "Coverage", Reason: "must not be nil"}
	}
	if cfg.EvalInterval < 0 {
		return nil, &ConfigurationError{Field: "EvalInterval", Reason: "must not be negative"}
	}
	if cfg.EvalFragmentCount < 0 {
		return nil, &ConfigurationError{Field: "EvalFragmentCount", Reason: "must not be negative"}
	}
	if cfg.FollowupCooldown < 0 {
		return nil, &ConfigurationError{Field: "FollowupCooldown", Reason: "must not be negative"}
	}
	if cfg.OracleTimeout < 0 {
		return nil, &ConfigurationError{Field: "OracleTimeout", Reason: "must not be negative"}
	}
	for i, text := range cfg.Bullets {
		if strings.TrimSpace(text) == "" {
			return nil, &ConfigurationError{
				Field:  "Bullets",
				Reason: fmt.Sprintf("bullet %d is blank", i),
			}
		}
	}

	interval := cfg.EvalInterval
	if interval == 0 {
		interval = DefaultEvalInterval
	}
	count := cfg.EvalFragmentCount
	if count == 0 {
		count = DefaultEvalFragmentCount
	}
	cooldown := cfg.FollowupCooldown
	if cooldown == 0 {
		cooldown = DefaultFollowupCooldown
	}
	timeout := cfg.OracleTimeout
	if timeout == 0 {
		timeout = DefaultOracleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	bullets := make([]*Bullet, len(cfg.Bullets))
	for i, text := range cfg.Bullets {
		bullets[i] = &Bullet{
			ID:    fmt.Sprintf("b%d", i+1),
			Text:  text,
			State: StateUncovered,
		}
	}

	now := clock()
	s := &Session{
		id:            cfg.SessionID,
		questionID:    cfg.QuestionID,
		questionText:  cfg.QuestionText,
		tags:          cfg.Tags,
		coverage:      cfg.Coverage,
		confidence:    cfg.Confidence,
		phrasing:      cfg.Phrasing,
		buffer:        NewTranscriptBuffer(interval, count, now),
		scheduler:     NewFollowupScheduler(cooldown),
		oracleTimeout: timeout,
		onFollowup:    cfg.OnFollowup,
		log:           logger.With("session_id", cfg.SessionID),
		metrics:       cfg.Metrics,
		now:           clock,
		startedAt:     now,
		bullets:       bullets,
	}
	s.metrics.SessionStarted(context.Background())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Ingest appends one fragment to the transcript and the evaluation buffer
// without triggering a cycle. Whitespace-only fragments are dropped.
func (s *Session) Ingest(frag Fragment) error {
	text := strings.TrimSpace(frag.Text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}
	if text == "" {
		return nil
	}
	if s.lastSeq != 0 && frag.Seq != s.lastSeq+1 {
		s.log.Warn("fragment sequence gap",
			"expected", s.lastSeq+1,
			"got", frag.Seq,
		)
	}
	if frag.Seq > s.lastSeq {
		s.lastSeq = frag.Seq
	}

	at := frag.At
	if at.IsZero() {
		at = s.now()
	}
	s.transcript = append(s.transcript, Entry{
		Seq:  len(s.transcript) + 1,
		Kind: EntrySpeech,
		Text: text,
		At:   at,
	})
	s.buffer.Ingest(text)
	return nil
}

// Update ingests one fragment and runs an evaluation cycle if the buffer's
// trigger condition is met.
func (s *Session) Update(ctx context.Context, frag Fragment) error {
	if err := s.Ingest(frag); err != nil {
		return err
	}
	return s.Tick(ctx)
}

// Tick runs an evaluation cycle if one is due. The owner calls this on a
// timer so the interval trigger fires even while the speaker is silent.
func (s *Session) Tick(ctx context.Context) error {
	now := s.now()
	if !s.buffer.ShouldEvaluate(now) {
		return nil
	}
	return s.evaluate(ctx, now)
}

// evaluate runs one full cycle: drain the batch, classify coverage per open
// bullet, reconcile verdicts, and emit at most one follow-up.
//
// Degradation rules: a failed coverage call yields incomplete for that bullet
// only, a failed confidence call yields knows, and a failed phrasing call
// falls back to the deterministic template. A cycle never fails as a whole
// because one oracle call did.
func (s *Session) evaluate(ctx context.Context, now time.Time) error {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	batch := s.buffer.Drain(now)
	if batch == "" {
		return nil
	}

	ctx, end := observe.StartCycle(ctx, s.id)
	wallStart := time.Now()
	defer func() {
		s.metrics.RecordCycle(ctx, time.Since(wallStart).Seconds())
		end(nil)
	}()

	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return ErrFinalized
	}
	fullAnswer := s.fullAnswerLocked()
	open := make([]*Bullet, 0, len(s.bullets))
	for _, b := range s.bullets {
		if !b.State.Terminal() {
			open = append(open, b)
		}
	}
	lastTargetID := s.lastTargetID
	s.mu.Unlock()

	if len(open) == 0 {
		s.log.Debug("evaluation skipped, all bullets terminal")
		return nil
	}

	verdicts := s.classifyCoverage(ctx, open, fullAnswer)
	conf := s.classifyConfidence(ctx, open, lastTargetID, batch)

	s.mu.Lock()
	var newlyCovered int64
	for i, b := range open {
		outstanding := b.ID == lastTargetID && b.State == StatePending
		before := b.State
		b.transition(verdicts[i], conf, outstanding)
		if before != StateCovered && b.State == StateCovered {
			newlyCovered++
		}
	}
	s.logStatesLocked()

	target := s.scheduler.SelectFollowup(s.bullets, lastTargetID, now)
	var uncovered []string
	if target != nil {
		for _, b := range s.bullets {
			if b.ID != target.ID && b.State.Eligible() {
				uncovered = append(uncovered, b.Text)
			}
		}
	}
	s.mu.Unlock()

	s.metrics.RecordCovered(ctx, newlyCovered)

	if target == nil {
		return nil
	}

	question, degraded := s.composeFollowup(ctx, target.Text, uncovered)
	rec := FollowupRecord{
		BulletID:   target.ID,
		BulletText: target.Text,
		Question:   question,
		At:         now,
		Degraded:   degraded,
	}

	s.mu.Lock()
	s.lastTargetID = target.ID
	s.followups = append(s.followups, rec)
	s.transcript = append(s.transcript, Entry{
		Seq:  len(s.transcript) + 1,
		Kind: EntryFollowup,
		Text: question,
		At:   now,
	})
	s.mu.Unlock()

	s.metrics.RecordFollowup(ctx)
	s.log.Info("follow-up emitted",
		"bullet_id", target.ID,
		"degraded", degraded,
	)
	if s.onFollowup != nil {
		s.onFollowup(rec)
	}
	return nil
}

// classifyCoverage runs the coverage oracle for each open bullet
// concurrently, bounded by maxConcurrentClassifications. Failures degrade to
// incomplete per bullet; verdicts[i] corresponds to open[i].
func (s *Session) classifyCoverage(ctx context.Context, open []*Bullet, fullAnswer string) []oracle.CoverageVerdict {
	verdicts := make([]oracle.CoverageVerdict, len(open))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentClassifications)
	for i, b := range open {
		g.Go(func() error {
			octx, cancel := context.WithTimeout(gctx, s.oracleTimeout)
			defer cancel()
			octx, end := observe.StartOracle(octx, "coverage")

			start := time.Now()
			v, err := s.coverage.Classify(octx, b.Text, fullAnswer)
			if err == nil && !v.IsValid() {
				err = fmt.Errorf("engine: invalid coverage verdict %q", v)
			}
			s.metrics.RecordOracleCall(ctx, "coverage", time.Since(start).Seconds(), err != nil)
			end(err)

			if err != nil {
				s.log.Warn("coverage classification degraded",
					"bullet_id", b.ID,
					"error", err,
				)
				v = oracle.CoverageIncomplete
			}
			verdicts[i] = v
			return nil
		})
	}
	// Group funcs never return errors; degradation is per bullet.
	_ = g.Wait()
	return verdicts
}

// classifyConfidence classifies speaker certainty in the latest batch. The
// call is made only when the preceding follow-up's target is still pending;
// otherwise, and on failure, the answer is treated as confident so the raw
// coverage verdict decides.
func (s *Session) classifyConfidence(ctx context.Context, open []*Bullet, lastTargetID, batch string) oracle.ConfidenceVerdict {
	if s.confidence == nil || lastTargetID == "" {
		return oracle.ConfidenceKnows
	}
	outstanding := false
	for _, b := range open {
		if b.ID == lastTargetID && b.State == StatePending {
			outstanding = true
			break
		}
	}
	if !outstanding {
		return oracle.ConfidenceKnows
	}

	octx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()
	octx, end := observe.StartOracle(octx, "confidence")

	start := time.Now()
	v, err := s.confidence.Classify(octx, batch)
	if err == nil && !v.IsValid() {
		err = fmt.Errorf("engine: invalid confidence verdict %q", v)
	}
	s.metrics.RecordOracleCall(ctx, "confidence", time.Since(start).Seconds(), err != nil)
	end(err)

	if err != nil {
		s.log.Warn("confidence classification degraded", "error", err)
		return oracle.ConfidenceKnows
	}
	return v
}

// composeFollowup phrases the follow-up for targetText, falling back to the
// deterministic template when the phrasing oracle is unset, fails, or returns
// a blank question.
func (s *Session) composeFollowup(ctx context.Context, targetText string, uncovered []string) (question string, degraded bool) {
	if s.phrasing == nil {
		return fmt.Sprintf(followupFallback, targetText), true
	}

	octx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()
	octx, end := observe.StartOracle(octx, "phrasing")

	start := time.Now()
	q, err := s.phrasing.Compose(octx, targetText, uncovered)
	if err == nil && strings.TrimSpace(q) == "" {
		err = errors.New("engine: phrasing oracle returned blank question")
	}
	s.metrics.RecordOracleCall(ctx, "phrasing", time.Since(start).Seconds(), err != nil)
	end(err)

	if err != nil {
		s.log.Warn("follow-up phrasing degraded", "error", err)
		return fmt.Sprintf(followupFallback, targetText), true
	}
	return strings.TrimSpace(q), false
}

// Finalize runs one last evaluation cycle over any buffered fragments, then
// freezes the session and returns its report. A second call returns
// ErrFinalized. Ingest and Update fail with ErrFinalized afterwards.
func (s *Session) Finalize(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil, ErrFinalized
	}
	pending := s.buffer.Len() > 0
	s.mu.Unlock()

	if pending {
		if err := s.evaluate(ctx, s.now()); err != nil && !errors.Is(err, ErrFinalized) {
			return nil, err
		}
	}

	// Hold evalMu so no cycle is mid-flight while the report is assembled.
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, ErrFinalized
	}
	s.finalized = true

	var bestScores map[string]float64
	if scored, ok := s.coverage.(interface{ BestScores() map[string]float64 }); ok {
		bestScores = scored.BestScores()
	}

	var covered, missed []BulletResult
	for _, b := range s.bullets {
		if score, ok := bestScores[b.Text]; ok {
			b.BestMatchScore = score
		}
		res := BulletResult{
			ID:             b.ID,
			Text:           b.Text,
			State:          b.State,
			BestMatchScore: bestScores[b.Text],
		}
		if b.State == StateCovered {
			covered = append(covered, res)
		} else {
			missed = append(missed, res)
		}
	}

	score := 0.0
	if len(s.bullets) > 0 {
		score = 100 * float64(len(covered)) / float64(len(s.bullets))
	}

	now := s.now()
	report := &Report{
		SessionID:    s.id,
		QuestionID:   s.questionID,
		QuestionText: s.questionText,
		Tags:         s.tags,
		Score:        score,
		Covered:      covered,
		Missed:       missed,
		Followups:    append([]FollowupRecord(nil), s.followups...),
		Transcript:   append([]Entry(nil), s.transcript...),
		StartedAt:    s.startedAt,
		FinalizedAt:  now,
		Duration:     now.Sub(s.startedAt),
	}

	s.metrics.SessionFinalized(ctx, score)
	s.log.Info("session finalized",
		"score", score,
		"covered", len(covered),
		"missed", len(missed),
		"followups", len(report.Followups),
	)
	return report, nil
}

// Snapshot returns the current per-bullet standing, for live state pushes to
// connected clients.
func (s *Session) Snapshot() []BulletResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BulletResult, len(s.bullets))
	for i, b := range s.bullets {
		out[i] = BulletResult{
			ID:             b.ID,
			Text:           b.Text,
			State:          b.State,
			BestMatchScore: b.BestMatchScore,
		}
	}
	return out
}

// fullAnswerLocked reconstructs the answer-so-far from the transcript,
// tagging injected follow-ups so the coverage oracle can tell speaker text
// from engine questions. Caller holds s.mu.
func (s *Session) fullAnswerLocked() string {
	parts := make([]string, 0, len(s.transcript))
	for _, e := range s.transcript {
		if e.Kind == EntryFollowup {
			parts = append(parts, "[follow-up] "+e.Text)
			continue
		}
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, " ")
}

// logStatesLocked emits the per-cycle state map at debug level. Caller holds
// s.mu.
func (s *Session) logStatesLocked() {
	if !s.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	states := make(map[string]string, len(s.bullets))
	for _, b := range s.bullets {
		states[b.ID] = string(b.State)
	}
	s.log.Debug("bullet states after cycle", "states", states)
}
