// Package postgres provides a PostgreSQL-backed report store with a pgvector
// column over the spoken answer, enabling semantic search across past
// sessions ("find answers similar to this one").
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, rep)
//	matches, _ := store.SearchAnswers(ctx, queryEmbedding, 5)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vivavoce-ai/vivavoce/internal/engine"
	"github.com/vivavoce-ai/vivavoce/internal/report"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings"
)

// Ensure Store implements the report.Sink interface.
var _ report.Sink = (*Store)(nil)

// ddlReports returns the reports DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlReports(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS reports (
    session_id        TEXT              PRIMARY KEY,
    question_id       TEXT              NOT NULL DEFAULT '',
    question_text     TEXT              NOT NULL DEFAULT '',
    tags              TEXT[]            NOT NULL DEFAULT '{}',
    score             DOUBLE PRECISION  NOT NULL,
    covered           JSONB             NOT NULL DEFAULT '[]',
    missed            JSONB             NOT NULL DEFAULT '[]',
    followups         JSONB             NOT NULL DEFAULT '[]',
    transcript        JSONB             NOT NULL DEFAULT '[]',
    answer_text       TEXT              NOT NULL DEFAULT '',
    answer_embedding  vector(%d),
    started_at        TIMESTAMPTZ       NOT NULL,
    finalized_at      TIMESTAMPTZ       NOT NULL,
    duration_ns       BIGINT            NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reports_question_id
    ON reports (question_id);

CREATE INDEX IF NOT EXISTS idx_reports_finalized_at
    ON reports (finalized_at);

CREATE INDEX IF NOT EXISTS idx_reports_answer_fts
    ON reports USING GIN (to_tsvector('english', answer_text));

CREATE INDEX IF NOT EXISTS idx_reports_embedding
    ON reports USING hnsw (answer_embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the reports table and required extensions exist.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model (e.g., 1536
// for OpenAI text-embedding-3-small). Changing this value after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlReports(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store persists finalized session reports in PostgreSQL. When an embeddings
// provider is attached via [WithEmbedder], the spoken answer is embedded on
// save so past sessions become semantically searchable.
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// StoreOpt configures a [Store].
type StoreOpt func(*Store)

// WithEmbedder attaches an embeddings provider used to embed the spoken
// answer on save. Without it the answer_embedding column stays NULL and
// [Store.SearchAnswers] finds nothing for those rows.
func WithEmbedder(p embeddings.Provider) StoreOpt {
	return func(s *Store) { s.embedder = p }
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...StoreOpt) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("report store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("report store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report store: migrate: %w", err)
	}

	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save implements [report.Sink]. It upserts the report; saving the same
// session twice replaces the earlier row.
//
// An embedding failure does not block persistence: the row is written with a
// NULL embedding and the error is returned wrapped so the caller can log it.
func (s *Store) Save(ctx context.Context, rep *engine.Report) error {
	covered, err := json.Marshal(rep.Covered)
	if err != nil {
		return fmt.Errorf("report store: marshal covered: %w", err)
	}
	missed, err := json.Marshal(rep.Missed)
	if err != nil {
		return fmt.Errorf("report store: marshal missed: %w", err)
	}
	followups, err := json.Marshal(rep.Followups)
	if err != nil {
		return fmt.Errorf("report store: marshal followups: %w", err)
	}
	transcript, err := json.Marshal(rep.Transcript)
	if err != nil {
		return fmt.Errorf("report store: marshal transcript: %w", err)
	}

	answer := report.AnswerText(rep)

	var vec any
	var embedErr error
	if s.embedder != nil && answer != "" {
		raw, err := s.embedder.Embed(ctx, answer)
		if err != nil {
			embedErr = fmt.Errorf("report store: embed answer %q: %w", rep.SessionID, err)
		} else {
			vec = pgvector.NewVector(raw)
		}
	}

	const q = `
		INSERT INTO reports
		    (session_id, question_id, question_text, tags, score,
		     covered, missed, followups, transcript,
		     answer_text, answer_embedding, started_at, finalized_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
		    question_id      = EXCLUDED.question_id,
		    question_text    = EXCLUDED.question_text,
		    tags             = EXCLUDED.tags,
		    score            = EXCLUDED.score,
		    covered          = EXCLUDED.covered,
		    missed           = EXCLUDED.missed,
		    followups        = EXCLUDED.followups,
		    transcript       = EXCLUDED.transcript,
		    answer_text      = EXCLUDED.answer_text,
		    answer_embedding = EXCLUDED.answer_embedding,
		    started_at       = EXCLUDED.started_at,
		    finalized_at     = EXCLUDED.finalized_at,
		    duration_ns      = EXCLUDED.duration_ns`

	_, err = s.pool.Exec(ctx, q,
		rep.SessionID,
		rep.QuestionID,
		rep.QuestionText,
		rep.Tags,
		rep.Score,
		covered,
		missed,
		followups,
		transcript,
		answer,
		vec,
		rep.StartedAt,
		rep.FinalizedAt,
		rep.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("report store: save report %q: %w", rep.SessionID, err)
	}
	return embedErr
}

// AnswerMatch is one result of [Store.SearchAnswers].
type AnswerMatch struct {
	// SessionID identifies the matched session.
	SessionID string

	// QuestionID is the question the matched session answered.
	QuestionID string

	// AnswerText is the matched session's spoken answer.
	AnswerText string

	// Score is the matched session's final coverage score.
	Score float64

	// Distance is the cosine distance to the query embedding; lower is more
	// similar.
	Distance float64
}

// SearchAnswers finds the topK stored answers whose embeddings are closest
// (cosine distance) to the query embedding. Rows saved without an embedding
// are excluded. Results are ordered by ascending distance.
func (s *Store) SearchAnswers(ctx context.Context, embedding []float32, topK int) ([]AnswerMatch, error) {
	if topK <= 0 {
		topK = 10
	}

	const q = `
		SELECT session_id, question_id, answer_text, score,
		       answer_embedding <=> $1 AS distance
		FROM   reports
		WHERE  answer_embedding IS NOT NULL
		ORDER BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("report store: search answers: %w", err)
	}
	defer rows.Close()

	matches := []AnswerMatch{}
	for rows.Next() {
		var m AnswerMatch
		if err := rows.Scan(&m.SessionID, &m.QuestionID, &m.AnswerText, &m.Score, &m.Distance); err != nil {
			return nil, fmt.Errorf("report store: scan answer match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report store: search answers: %w", err)
	}
	return matches, nil
}

// Get returns the stored report for sessionID, or (nil, nil) when no report
// exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*engine.Report, error) {
	const q = `
		SELECT session_id, question_id, question_text, tags, score,
		       covered, missed, followups, transcript,
		       started_at, finalized_at, duration_ns
		FROM   reports
		WHERE  session_id = $1`

	var (
		rep        engine.Report
		covered    []byte
		missed     []byte
		followups  []byte
		transcript []byte
		durationNS int64
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&rep.SessionID,
		&rep.QuestionID,
		&rep.QuestionText,
		&rep.Tags,
		&rep.Score,
		&covered,
		&missed,
		&followups,
		&transcript,
		&rep.StartedAt,
		&rep.FinalizedAt,
		&durationNS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report store: get report %q: %w", sessionID, err)
	}

	if err := json.Unmarshal(covered, &rep.Covered); err != nil {
		return nil, fmt.Errorf("report store: decode covered: %w", err)
	}
	if err := json.Unmarshal(missed, &rep.Missed); err != nil {
		return nil, fmt.Errorf("report store: decode missed: %w", err)
	}
	if err := json.Unmarshal(followups, &rep.Followups); err != nil {
		return nil, fmt.Errorf("report store: decode followups: %w", err)
	}
	if err := json.Unmarshal(transcript, &rep.Transcript); err != nil {
		return nil, fmt.Errorf("report store: decode transcript: %w", err)
	}
	rep.Duration = time.Duration(durationNS)
	return &rep, nil
}

// Ping probes the underlying connection pool, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
