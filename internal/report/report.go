// Package report defines where finalized session reports go: a [Sink]
// contract plus file-based and fan-out implementations. The PostgreSQL/
// pgvector sink lives in the postgres subpackage.
//
// Every implementation must be safe for concurrent use.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vivavoce-ai/vivavoce/internal/engine"
)

// Sink receives finalized session reports.
type Sink interface {
	// Save persists one report. Saving the same session twice must behave as
	// an upsert, not an error; runners may retry delivery.
	Save(ctx context.Context, rep *engine.Report) error
}

// AnswerText flattens a report's transcript into the spoken answer, excluding
// injected follow-up questions. Used for full-text indexing and embedding.
func AnswerText(rep *engine.Report) string {
	parts := make([]string, 0, len(rep.Transcript))
	for _, e := range rep.Transcript {
		if e.Kind == engine.EntrySpeech {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, " ")
}

// MultiSink fans one report out to several sinks. Delivery is attempted on
// every sink even when an earlier one fails; the joined error reports all
// failures.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Save implements [Sink].
func (m *MultiSink) Save(ctx context.Context, rep *engine.Report) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Save(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("report: sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wired sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }
