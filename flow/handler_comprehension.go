package flow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ellflow/ellflow-go/flow/assessment"
	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
)

// mockQuestionBank is the fixed question set used when the completion
// backend cannot generate questions, keyed by proficiency level. The
// questions match the mock passages for the same level.
var mockQuestionBank = map[int][]map[string]any{
	1: {
		{"question": "What animal is in the story?", "answer": "cat"},
		{"question": "Is the cat big or small?", "answer": "big"},
		{"question": "What does the cat like?", "answer": "milk"},
	},
	2: {
		{"question": "Where does the cat sit?", "answer": "on a soft mat"},
		{"question": "When does the cat drink milk?", "answer": "in the morning"},
		{"question": "Where does the cat nap?", "answer": "in the sun"},
	},
	3: {
		{"question": "Where does the cat go every morning?", "answer": "the schoolyard"},
		{"question": "Who leaves milk for the cat?", "answer": "the students"},
		{"question": "What does the cat do before the first bell?", "answer": "takes a nap"},
	},
	4: {
		{"question": "Where does the cat make its rounds each morning?", "answer": "through the schoolyard"},
		{"question": "What do the students set out for the cat?", "answer": "milk"},
		{"question": "What interrupts the cat's doze?", "answer": "the bell"},
	},
	5: {
		{"question": "What does the cat's unhurried confidence suggest about its route?", "answer": "it has mapped every fence line"},
		{"question": "Who leaves the milk the cat samples?", "answer": "admirers"},
		{"question": "How does the cat react to the arriving students?", "answer": "indifferent"},
	},
}

// comprehensionCheckHandler is dual-mode. Called without prior responses
// it generates leveled questions (mock bank when the backend is down) and
// pauses for the learner. Called with questions and responses in its
// merged input it scores each response with tolerant matching, persists
// the result through the assessment sink best-effort, and completes with
// the score and level-appropriate encouragement.
type comprehensionCheckHandler struct{}

func (comprehensionCheckHandler) Type() string { return TypeComprehensionCheck }

func (comprehensionCheckHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	questions, haveQuestions := inputSlice(input, "questions")
	responses, haveResponses := parseResponses(input["responses"])
	if haveQuestions && haveResponses {
		return scoreResponses(ctx, node, questions, responses, rt)
	}
	return generateQuestions(ctx, node, input, rt)
}

func generateQuestions(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel
	count := node.ConfigInt("questionCount", 3)
	if count < 1 {
		count = 1
	}
	content := inputString(input, "content")

	questions := askForQuestions(ctx, node, content, count, level, rt)
	if len(questions) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rt.recordFallback(node, "question generation unavailable")
		questions = mockQuestions(level, count)
	}

	out := map[string]any{
		"questions":         questions,
		"awaitingResponses": true,
		"questionCount":     len(questions),
	}
	if content != "" {
		out["content"] = content
	}
	return &HandlerResult{Output: out, ShouldPause: true}, nil
}

// askForQuestions requests structured questions from the completion
// client. An empty return means the caller should use the mock bank.
func askForQuestions(ctx context.Context, node Node, content string, count, level int, rt *Runtime) []map[string]any {
	schema := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"answer":   map[string]any{"type": "string"},
			},
			"required": []any{"question", "answer"},
		},
	}

	prompt := fmt.Sprintf(
		"Write %d comprehension questions with short expected answers for a student at English proficiency level %d of 5.",
		count, level)
	if content != "" {
		prompt += "\n\nPassage:\n" + content
	}

	resp, err := rt.Completion.CompleteStructured(ctx, completion.Request{
		Model:  node.ConfigString("model", ""),
		System: "You write clear, fair comprehension questions for English language learners.",
		Prompt: prompt,
	}, schema)
	if err != nil || resp.Fallback {
		return nil
	}
	rt.recordUsage(node.ID, resp)
	return normalizeQuestions(resp.Data, count)
}

func normalizeQuestions(v any, count int) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q, _ := m["question"].(string)
		a, _ := m["answer"].(string)
		if strings.TrimSpace(q) == "" {
			continue
		}
		out = append(out, map[string]any{"question": q, "answer": a})
	}
	if len(out) > count {
		out = out[:count]
	}
	return out
}

func mockQuestions(level, count int) []map[string]any {
	bank := mockQuestionBank[clampLevel(level)]
	if count > len(bank) {
		count = len(bank)
	}
	out := make([]map[string]any, count)
	for i := 0; i < count; i++ {
		out[i] = map[string]any{
			"question": bank[i]["question"],
			"answer":   bank[i]["answer"],
		}
	}
	return out
}

func scoreResponses(ctx context.Context, node Node, questions []any, responses *responseSet, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel

	var results []map[string]any
	var questionResults []assessment.QuestionResult
	correct := 0
	for i, raw := range questions {
		qm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		question, _ := qm["question"].(string)
		expected, _ := qm["answer"].(string)
		given := responses.answerFor(question, i)
		matched := tolerantMatch(expected, given)
		if matched {
			correct++
		}
		results = append(results, map[string]any{
			"question":       question,
			"expectedAnswer": expected,
			"studentAnswer":  given,
			"correct":        matched,
		})
		questionResults = append(questionResults, assessment.QuestionResult{
			Question:       question,
			ExpectedAnswer: expected,
			StudentAnswer:  given,
			Correct:        matched,
		})
	}

	total := len(results)
	score := 0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
	}
	feedback := encouragement(score, level)

	saved := false
	if rt.Assessments != nil {
		record := assessment.Assessment{
			StudentID:       rt.Context.StudentProfile.ID,
			SessionID:       rt.RunID,
			WorkflowID:      rt.WorkflowID,
			AssessmentType:  "comprehension-check",
			Score:           score,
			MaxScore:        100,
			NodeID:          node.ID,
			QuestionResults: questionResults,
			Feedback:        feedback,
		}
		if err := rt.Assessments.SaveAssessment(ctx, record); err != nil {
			rt.emitEvent(node.ID, emit.MsgAssessmentFailed, map[string]any{"error": err.Error()})
		} else {
			saved = true
			rt.emitEvent(node.ID, emit.MsgAssessmentSaved, map[string]any{"score": score})
		}
	}

	return &HandlerResult{Output: map[string]any{
		"score":           score,
		"correctCount":    correct,
		"totalQuestions":  total,
		"results":         results,
		"feedback":        feedback,
		"assessmentSaved": saved,
	}}, nil
}

// responseSet holds learner answers addressable by question text or by
// question position, so scoring does not depend on response order.
type responseSet struct {
	byQuestion map[string]string
	byIndex    map[int]string
}

func parseResponses(v any) (*responseSet, bool) {
	set := &responseSet{
		byQuestion: make(map[string]string),
		byIndex:    make(map[int]string),
	}
	switch resp := v.(type) {
	case []any:
		for i, item := range resp {
			switch it := item.(type) {
			case string:
				set.byIndex[i] = it
			case map[string]any:
				answer := inputString(it, "answer", "response", "value")
				if q, ok := it["question"].(string); ok && q != "" {
					set.byQuestion[normalizeAnswer(q)] = answer
				} else {
					set.byIndex[i] = answer
				}
			}
		}
	case map[string]any:
		for key, val := range resp {
			answer, ok := val.(string)
			if !ok {
				continue
			}
			if idx, err := strconv.Atoi(key); err == nil {
				set.byIndex[idx] = answer
			} else {
				set.byQuestion[normalizeAnswer(key)] = answer
			}
		}
	default:
		return nil, false
	}
	return set, true
}

func (s *responseSet) answerFor(question string, idx int) string {
	if a, ok := s.byQuestion[normalizeAnswer(question)]; ok {
		return a
	}
	return s.byIndex[idx]
}

// tolerantMatch accepts an answer when it equals the expected answer or
// either contains the other, ignoring case and surrounding space. Empty
// answers are never credited.
func tolerantMatch(expected, given string) bool {
	e := normalizeAnswer(expected)
	g := normalizeAnswer(given)
	if e == "" || g == "" {
		return false
	}
	return e == g || strings.Contains(e, g) || strings.Contains(g, e)
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func encouragement(score, level int) string {
	switch {
	case score >= 80:
		if level <= 2 {
			return "Great job! You understood the story very well!"
		}
		return "Excellent work! You showed strong understanding of this passage."
	case score >= 60:
		if level <= 2 {
			return "Good work! Let's read the story one more time together."
		}
		return "Good effort! Reviewing the passage once more will help the details stick."
	default:
		if level <= 2 {
			return "Nice try! We will practice this story again."
		}
		return "Keep practicing! Rereading the passage and trying again will build your understanding."
	}
}
