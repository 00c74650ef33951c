// Package assessment delivers scored results to an external record
// keeper.
//
// The workflow engine treats assessment persistence as best-effort: a
// comprehension check that cannot save its score still completes, and the
// failure is logged rather than propagated. Sink implementations must
// honor that contract by returning errors instead of panicking.
package assessment

import "context"

// QuestionResult records the grading of a single question.
type QuestionResult struct {
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expectedAnswer"`
	StudentAnswer  string `json:"studentAnswer"`
	Correct        bool   `json:"correct"`
}

// Assessment is one scored result for one student at one node.
type Assessment struct {
	StudentID       string           `json:"studentId"`
	SessionID       string           `json:"sessionId,omitempty"`
	WorkflowID      string           `json:"workflowId,omitempty"`
	AssessmentType  string           `json:"assessmentType"`
	Score           int              `json:"score"`
	MaxScore        int              `json:"maxScore"`
	NodeID          string           `json:"nodeId"`
	QuestionResults []QuestionResult `json:"questionResults"`
	Feedback        string           `json:"feedback,omitempty"`
}

// Sink accepts assessments for persistence.
//
// Implementations must be safe for concurrent use; nodes in the same
// readiness wave may save simultaneously.
type Sink interface {
	// SaveAssessment persists one assessment. Errors are reported to the
	// caller for logging but must not leave the sink unusable.
	SaveAssessment(ctx context.Context, a Assessment) error
}

// NullSink discards every assessment. It is the default when no sink is
// configured.
type NullSink struct{}

// NewNullSink returns a sink that discards assessments.
func NewNullSink() *NullSink {
	return &NullSink{}
}

// SaveAssessment implements the Sink interface as a no-op.
func (s *NullSink) SaveAssessment(ctx context.Context, a Assessment) error {
	return nil
}
