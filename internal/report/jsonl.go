package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/vivavoce-ai/vivavoce/internal/engine"
)

// Ensure JSONLSink implements the Sink interface.
var _ Sink = (*JSONLSink)(nil)

// JSONLSink appends finalized reports to a JSON-lines file, one report per
// line. The file is opened in append mode so restarts keep accumulating into
// the same log. Safe for concurrent use.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONLSink opens (or creates) the report log at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open jsonl %q: %w", path, err)
	}
	return &JSONLSink{f: f}, nil
}

// Save implements [Sink]. Each report is written as one JSON object followed
// by a newline.
func (s *JSONLSink) Save(_ context.Context, rep *engine.Report) error {
	line, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("report: marshal report %q: %w", rep.SessionID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("report: append report %q: %w", rep.SessionID, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
