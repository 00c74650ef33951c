package flow

// Node type tags understood by the default registry. The authoring tool
// writes these into Node.Type; anything else resolves to passthrough.
const (
	TypeContentGenerator   = "content-generator"
	TypeAIModel            = "ai-model"
	TypePromptTemplate     = "prompt-template"
	TypeStructuredOutput   = "structured-output"
	TypeTextInput          = "text-input"
	TypeNumberInput        = "number-input"
	TypeMultipleChoice     = "multiple-choice"
	TypeFreeResponse       = "free-response"
	TypeVoiceInput         = "voice-input"
	TypeOralPractice       = "oral-practice"
	TypeComprehensionCheck = "comprehension-check"
	TypeScaffoldedContent  = "scaffolded-content"
	TypeL1Bridge           = "l1-bridge"
	TypeVisualSupport      = "visual-support"
	TypeVocabularyBuilder  = "vocabulary-builder"
	TypeRouter             = "router"
	TypeProficiencyRouter  = "proficiency-router"
	TypeConditional        = "conditional"
	TypeLoop               = "loop"
	TypeMerge              = "merge"
	TypeParallel           = "parallel"
	TypeProgressTracker    = "progress-tracker"
	TypeFeedback           = "feedback"
	TypeCelebration        = "celebration"
	TypeVariable           = "variable"
	TypeStudentProfile     = "student-profile"
)

// humanInputTypes lists the pause-for-learner node types. They share one
// handler parameterized by type tag.
var humanInputTypes = []string{
	TypeTextInput,
	TypeNumberInput,
	TypeMultipleChoice,
	TypeFreeResponse,
	TypeVoiceInput,
	TypeOralPractice,
}
