package flow

import "context"

// progressTrackerHandler snapshots where the student stands in the run:
// level, content produced, scaffolds applied, and the latest score when
// one flowed in. Format-only; no external calls.
type progressTrackerHandler struct{}

func (progressTrackerHandler) Type() string { return TypeProgressTracker }

func (progressTrackerHandler) Run(_ context.Context, _ Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	out := map[string]any{
		"studentId":        rt.Context.StudentProfile.ID,
		"level":            rt.Context.CurrentLanguageLevel,
		"contentCompleted": len(rt.Context.ContentSoFar()),
		"adaptations":      rt.Context.AppliedAdaptations(),
	}
	if score, ok := inputFloat(input, "score"); ok {
		out["score"] = score
	}
	return &HandlerResult{Output: out}, nil
}

// feedbackHandler turns an upstream score into a message for the student.
// Authors can override each rung of the ladder in config.
type feedbackHandler struct{}

func (feedbackHandler) Type() string { return TypeFeedback }

func (feedbackHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	score, _ := inputFloat(input, "score")

	var message, tone string
	switch {
	case score >= 80:
		message = node.ConfigString("excellentMessage", "Excellent work! You really understood this material.")
		tone = "celebratory"
	case score >= 60:
		message = node.ConfigString("goodMessage", "Good job! A little more practice will make this even stronger.")
		tone = "encouraging"
	default:
		message = node.ConfigString("supportMessage", "Keep going! Every try makes you a stronger reader.")
		tone = "supportive"
	}

	return &HandlerResult{Output: map[string]any{
		"feedback": message,
		"tone":     tone,
		"score":    score,
	}}, nil
}

// celebrationHandler emits the payload the UI's celebration animation
// renders. Format-only.
type celebrationHandler struct{}

func (celebrationHandler) Type() string { return TypeCelebration }

func (celebrationHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	message := node.ConfigString("message", "You did it! Great work today!")
	out := map[string]any{
		"celebrate": true,
		"message":   message,
		"animation": node.ConfigString("animation", "confetti"),
	}
	if score, ok := inputFloat(input, "score"); ok {
		out["score"] = score
	}
	return &HandlerResult{Output: out}, nil
}

// variableHandler writes to the run's shared scratch space. The write is
// visible to every node scheduled after this one; two wave siblings
// writing the same name is last-write-wins.
type variableHandler struct{}

func (variableHandler) Type() string { return TypeVariable }

func (variableHandler) Run(_ context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	name := node.ConfigString("name", "")
	if name == "" {
		return nil, newNodeError(node.ID, CodeInvalidWorkflow, "variable node requires config.name", nil)
	}

	var value any
	if fromKey := node.ConfigString("fromInput", ""); fromKey != "" {
		value = input[fromKey]
	} else if node.Data.Config != nil {
		value = node.Data.Config["value"]
	}
	rt.Context.SetVariable(name, value)

	return &HandlerResult{Output: map[string]any{
		"variable": name,
		"value":    value,
	}}, nil
}

// studentProfileHandler surfaces the run's student profile to downstream
// nodes. The profile is read-only; personalization decisions key off
// these fields.
type studentProfileHandler struct{}

func (studentProfileHandler) Type() string { return TypeStudentProfile }

func (studentProfileHandler) Run(_ context.Context, _ Node, _ map[string]any, rt *Runtime) (*HandlerResult, error) {
	p := rt.Context.StudentProfile
	out := map[string]any{
		"studentId":        p.ID,
		"studentName":      p.Name,
		"nativeLanguage":   p.NativeLanguage,
		"gradeLevel":       p.GradeLevel,
		"proficiencyLevel": p.ProficiencyLevel,
		"level":            rt.Context.CurrentLanguageLevel,
	}
	if len(p.Interests) > 0 {
		out["interests"] = append([]string(nil), p.Interests...)
	}
	return &HandlerResult{Output: out}, nil
}
