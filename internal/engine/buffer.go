package engine

import (
	"strings"
	"sync"
	"time"
)

// TranscriptBuffer accumulates incoming transcript fragments and decides when
// a batch is ready for evaluation: either the configured interval has elapsed
// since the last evaluation, or the fragment count threshold is reached.
//
// The buffer only holds the transient batch; the session keeps the persistent
// transcript log. Draining twice without an intervening ingest yields an
// empty batch, never an error. All methods are safe for concurrent use — the
// transcription producer ingests while the evaluation consumer drains.
type TranscriptBuffer struct {
	mu        sync.Mutex
	fragments []string
	lastEval  time.Time

	interval time.Duration
	count    int
}

// NewTranscriptBuffer creates a buffer that triggers evaluation after
// interval has elapsed or count fragments have accumulated, whichever comes
// first. now anchors the first interval window.
func NewTranscriptBuffer(interval time.Duration, count int, now time.Time) *TranscriptBuffer {
	return &TranscriptBuffer{
		interval: interval,
		count:    count,
		lastEval: now,
	}
}

// Ingest appends one fragment text to the pending batch.
func (b *TranscriptBuffer) Ingest(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, text)
}

// ShouldEvaluate reports whether a batch is ready at time now. An empty
// buffer is never ready, so calling ShouldEvaluate right after a drain with
// no intervening ingest returns false.
func (b *TranscriptBuffer) ShouldEvaluate(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fragments) == 0 {
		return false
	}
	return now.Sub(b.lastEval) > b.interval || len(b.fragments) >= b.count
}

// Drain returns the buffered fragments joined in arrival order and clears the
// batch, stamping now as the start of the next interval window. Draining an
// empty buffer returns "".
func (b *TranscriptBuffer) Drain(now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := strings.Join(b.fragments, " ")
	b.fragments = b.fragments[:0]
	b.lastEval = now
	return batch
}

// Len returns the number of fragments currently buffered.
func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments)
}
