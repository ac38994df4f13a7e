package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/engine"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/internal/report"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

// tickInterval is how often a runner checks the interval trigger, so a batch
// still evaluates while the speaker is silent.
const tickInterval = time.Second

// ErrSessionNotFound is returned when a session ID is unknown or already
// finalized.
var ErrSessionNotFound = errors.New("app: session not found")

// ManagerConfig wires the per-session dependencies a [Manager] hands to every
// new session.
type ManagerConfig struct {
	Engine      config.EngineConfig
	NewCoverage CoverageFactory
	Confidence  oracle.ConfidenceOracle
	Phrasing    oracle.PhrasingOracle
	Sink        report.Sink
	Metrics     *observe.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Manager owns all live session runners. Safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		cfg:     cfg,
		runners: make(map[string]*Runner),
	}
}

// Start creates a session for q and launches its evaluation runner.
func (m *Manager) Start(q config.Question) (*Runner, error) {
	coverage, err := m.cfg.NewCoverage()
	if err != nil {
		return nil, fmt.Errorf("app: build coverage oracle: %w", err)
	}

	r := &Runner{
		followups: make(chan engine.FollowupRecord, followupBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	sess, err := engine.NewSession(engine.Config{
		SessionID:         uuid.NewString(),
		QuestionID:        q.ID,
		QuestionText:      q.Text,
		Tags:              q.Tags,
		Bullets:           q.Bullets,
		Coverage:          coverage,
		Confidence:        m.cfg.Confidence,
		Phrasing:          m.cfg.Phrasing,
		EvalInterval:      m.cfg.Engine.EvalInterval,
		EvalFragmentCount: m.cfg.Engine.EvalFragmentCount,
		FollowupCooldown:  m.cfg.Engine.FollowupCooldown,
		OracleTimeout:     m.cfg.Engine.OracleTimeout,
		OnFollowup:        r.pushFollowup,
		Logger:            m.cfg.Logger,
		Metrics:           m.cfg.Metrics,
		Clock:             m.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	r.session = sess

	m.mu.Lock()
	m.runners[sess.ID()] = r
	m.mu.Unlock()

	go r.loop()
	m.cfg.Logger.Info("session started",
		"session_id", sess.ID(),
		"question_id", q.ID,
		"bullets", len(q.Bullets),
	)
	return r, nil
}

// Get returns the live runner for id.
func (m *Manager) Get(id string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[id]
	return r, ok
}

// Finalize stops the runner for id, finalizes its session, delivers the
// report to the sink, and removes the runner. A sink failure is logged but
// does not lose the report: it is still returned.
func (m *Manager) Finalize(ctx context.Context, id string) (*engine.Report, error) {
	m.mu.Lock()
	r, ok := m.runners[id]
	if ok {
		delete(m.runners, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	r.Stop()
	rep, err := r.session.Finalize(ctx)
	if err != nil {
		return nil, err
	}

	if m.cfg.Sink != nil {
		if err := m.cfg.Sink.Save(ctx, rep); err != nil {
			m.cfg.Logger.Error("report delivery failed",
				"session_id", id,
				"error", err,
			)
		}
	}
	return rep, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}

// StopAll stops every runner without finalizing. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.runners = make(map[string]*Runner)
	m.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
}

// followupBuffer bounds the per-session follow-up queue. A consumer that
// falls this far behind loses the oldest notifications; the transcript still
// records every follow-up.
const followupBuffer = 16

// Runner drives one session: the transcription producer feeds it fragments,
// and an internal ticker fires the interval trigger during silence.
type Runner struct {
	session   *engine.Session
	followups chan engine.FollowupRecord

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Session returns the underlying session.
func (r *Runner) Session() *engine.Session { return r.session }

// ID returns the session identifier.
func (r *Runner) ID() string { return r.session.ID() }

// Update forwards one fragment to the session, evaluating when due.
func (r *Runner) Update(ctx context.Context, frag engine.Fragment) error {
	return r.session.Update(ctx, frag)
}

// Followups returns the channel of emitted follow-up questions, for pushing
// to a connected client.
func (r *Runner) Followups() <-chan engine.FollowupRecord { return r.followups }

// Stop halts the ticker loop. Idempotent; does not finalize the session.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// pushFollowup delivers a follow-up to the consumer channel without ever
// blocking the evaluation cycle.
func (r *Runner) pushFollowup(rec engine.FollowupRecord) {
	select {
	case r.followups <- rec:
	default:
	}
}

// loop fires the interval trigger until stopped.
func (r *Runner) loop() {
	defer close(r.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.session.Tick(context.Background()); err != nil && !errors.Is(err, engine.ErrFinalized) {
				slog.Warn("evaluation tick failed",
					"session_id", r.session.ID(),
					"error", err,
				)
			}
		}
	}
}
