package assessment

import (
	"context"
	"sync"
)

// MemorySink collects assessments in memory. Intended for tests and for
// single-process deployments that export scores elsewhere.
type MemorySink struct {
	mu    sync.Mutex
	saved []Assessment

	// Err, if set, is returned by SaveAssessment. Tests use this to
	// exercise the best-effort persistence path.
	Err error
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SaveAssessment implements the Sink interface.
func (s *MemorySink) SaveAssessment(ctx context.Context, a Assessment) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.saved = append(s.saved, a)
	return nil
}

// Saved returns a copy of every stored assessment in save order.
func (s *MemorySink) Saved() []Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Assessment, len(s.saved))
	copy(out, s.saved)
	return out
}

// Reset clears the stored assessments.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = nil
}
