package flow

import (
	"encoding/json"
	"sync"
)

// StudentProfile describes the learner a workflow run is personalized for.
// The proficiency level is an integer 1..5 (ELPA stage) that drives content
// generation, scaffolding strategy, and routing decisions.
type StudentProfile struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	NativeLanguage   string   `json:"nativeLanguage"`
	GradeLevel       int      `json:"gradeLevel"`
	ProficiencyLevel int      `json:"proficiencyLevel"`
	Interests        []string `json:"interests,omitempty"`
}

// ConversationTurn is one exchange recorded in the run's history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionContext is the per-run mutable state shared by reference across
// all handlers within one execution.
//
// The variables scratch space is read/write; a write is visible to every
// subsequently scheduled node. Two wave siblings writing the same variable
// key is last-write-wins, not something the engine prevents. The internal
// mutex only keeps concurrent access race-free.
//
// StudentProfile and CurrentLanguageLevel are fixed at construction and
// safe to read without synchronization.
type ExecutionContext struct {
	StudentProfile       StudentProfile
	CurrentLanguageLevel int

	mu          sync.Mutex
	variables   map[string]any
	history     []ConversationTurn
	content     []string
	adaptations []string
}

// NewExecutionContext builds a fresh context from a student profile.
// The current language level starts at the profile's proficiency level,
// clamped to 1..5.
func NewExecutionContext(profile StudentProfile) *ExecutionContext {
	level := profile.ProficiencyLevel
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}
	return &ExecutionContext{
		StudentProfile:       profile,
		CurrentLanguageLevel: level,
		variables:            make(map[string]any),
	}
}

// SetVariable writes a key into the shared scratch space.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	c.variables[name] = value
}

// Variable reads a key from the shared scratch space.
func (c *ExecutionContext) Variable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of the scratch space. Handlers that need the
// whole map (e.g. conditional expressions) read through this to avoid
// holding a reference into the live map.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// AppendHistory records a conversation turn.
func (c *ExecutionContext) AppendHistory(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, ConversationTurn{Role: role, Content: content})
}

// History returns a copy of the conversation turns recorded so far.
func (c *ExecutionContext) History() []ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationTurn, len(c.history))
	copy(out, c.history)
	return out
}

// AppendContent accumulates generated content for later nodes and reports.
func (c *ExecutionContext) AppendContent(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = append(c.content, content)
}

// ContentSoFar returns a copy of the accumulated content in generation
// order.
func (c *ExecutionContext) ContentSoFar() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.content))
	copy(out, c.content)
	return out
}

// AddAdaptation records an applied scaffolding adaptation.
func (c *ExecutionContext) AddAdaptation(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptations = append(c.adaptations, name)
}

// AppliedAdaptations returns a copy of the adaptations recorded so far.
func (c *ExecutionContext) AppliedAdaptations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.adaptations))
	copy(out, c.adaptations)
	return out
}

// contextJSON is the serializable form of ExecutionContext. The mutex is
// not serialized; Variables round-trips through the exported field.
type contextJSON struct {
	StudentProfile       StudentProfile     `json:"studentProfile"`
	Variables            map[string]any     `json:"variables,omitempty"`
	ConversationHistory  []ConversationTurn `json:"conversationHistory,omitempty"`
	AccumulatedContent   []string           `json:"accumulatedContent,omitempty"`
	CurrentLanguageLevel int                `json:"currentLanguageLevel"`
	Adaptations          []string           `json:"adaptations,omitempty"`
}

// MarshalJSON serializes the context including the variables scratch space.
func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(contextJSON{
		StudentProfile:       c.StudentProfile,
		Variables:            c.variables,
		ConversationHistory:  c.history,
		AccumulatedContent:   c.content,
		CurrentLanguageLevel: c.CurrentLanguageLevel,
		Adaptations:          c.adaptations,
	})
}

// UnmarshalJSON restores a context serialized by MarshalJSON.
func (c *ExecutionContext) UnmarshalJSON(data []byte) error {
	var raw contextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StudentProfile = raw.StudentProfile
	c.variables = raw.Variables
	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	c.history = raw.ConversationHistory
	c.content = raw.AccumulatedContent
	c.CurrentLanguageLevel = raw.CurrentLanguageLevel
	c.adaptations = raw.Adaptations
	return nil
}
