package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ellflow/ellflow-go/flow/completion"
)

// mockPassages is the deterministic reading content substituted when the
// completion backend is unavailable, keyed by proficiency level 1..5.
var mockPassages = map[int]string{
	1: "The cat sat. The cat is big. The cat can run. The cat likes milk. The cat naps in the sun.",
	2: "The big cat sits on a soft mat. Every morning it drinks milk. Then it runs in the yard and naps in the warm sun.",
	3: "Every morning, a friendly cat visits the schoolyard. It stretches in the sunlight, laps up the milk the students leave out, and curls into a ball for a nap before the first bell rings.",
	4: "Each morning a neighborhood cat makes its rounds through the schoolyard, pausing to stretch in the early sunlight. After finishing the milk the students set out, it curls into a patient spiral and dozes until the bell scatters its audience.",
	5: "The neighborhood cat conducts its morning circuit with the unhurried confidence of a creature that has mapped every fence line. It pauses in the schoolyard to stretch, samples the milk left out by admirers, and settles into a meditative doze, indifferent to the gathering noise of arriving students.",
}

// levelGuidance tells the model how to write for each proficiency level.
var levelGuidance = map[int]string{
	1: "Use very short sentences of three to five words. Use only common, concrete words. Repeat key words.",
	2: "Use short, simple sentences. Use present tense and familiar vocabulary. One idea per sentence.",
	3: "Use clear sentences of moderate length. Introduce a few new vocabulary words with context clues.",
	4: "Use varied sentence structures and grade-level vocabulary. Include some academic language.",
	5: "Write at full grade level with rich vocabulary and complex sentence structures.",
}

func mockPassage(level int) string {
	return mockPassages[clampLevel(level)]
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// contentHandler serves the content-generator and ai-model node types. It
// builds a level-aware prompt from the node config and upstream content,
// calls the completion client (streaming through the relay when the node
// asks for it), and substitutes the fixed mock passage for the student's
// level when the backend is unavailable. The run never fails solely
// because the completion backend is down.
type contentHandler struct {
	typeTag string
}

func (h contentHandler) Type() string { return h.typeTag }

func (h contentHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel
	topic := node.ConfigString("topic", "")
	if topic == "" {
		topic = inputString(input, "topic")
	}

	req := completion.Request{
		Model:       node.ConfigString("model", ""),
		System:      contentSystemPrompt(rt.Context),
		Prompt:      contentPrompt(node, input, topic, level),
		Temperature: node.ConfigFloat("temperature", 0),
		MaxTokens:   node.ConfigInt("maxTokens", 0),
	}

	streaming := node.ConfigBool("streaming", false) && rt.Relay != nil
	sendToken := func(token string) error {
		rt.Relay.SendToken(node.ID, token)
		rt.Metrics.AddStreamTokens(1)
		return nil
	}

	var resp completion.Response
	var err error
	if streaming {
		rt.Relay.StartStream(node.ID)
		resp, err = rt.Completion.Stream(ctx, req, sendToken)
	} else {
		resp, err = rt.Completion.Complete(ctx, req)
	}
	if err != nil && ctx.Err() != nil {
		if streaming {
			rt.Relay.CancelStream(node.ID)
		}
		return nil, err
	}

	text := resp.Text
	generated := true
	if err != nil || resp.Fallback {
		reason := "no completion backend"
		if err != nil {
			reason = err.Error()
		}
		rt.recordFallback(node, reason)
		text = mockPassage(level)
		generated = false
		if streaming {
			// Replace the placeholder stream so subscribers see the
			// same text the node outputs.
			rt.Relay.StartStream(node.ID)
			if serr := completion.StreamText(text, sendToken); serr != nil {
				return nil, serr
			}
		}
	} else {
		rt.recordUsage(node.ID, resp)
	}
	if streaming {
		rt.Relay.CompleteStream(node.ID)
	}

	rt.Context.AppendContent(text)
	rt.Context.AppendHistory(completion.RoleAssistant, text)

	out := map[string]any{
		"content":       text,
		"level":         level,
		"generatedByAI": generated,
	}
	if topic != "" {
		out["topic"] = topic
	}
	if generated && resp.Model != "" {
		out["model"] = resp.Model
	}

	result := &HandlerResult{Output: out}
	if streaming {
		result.StreamContent = text
	}
	return result, nil
}

// contentPrompt builds the user-turn prompt. Author config wins, then a
// prompt handed down from an upstream template node, then a topic
// template.
func contentPrompt(node Node, input map[string]any, topic string, level int) string {
	var sb strings.Builder
	switch {
	case node.ConfigString("prompt", "") != "":
		sb.WriteString(node.ConfigString("prompt", ""))
	case inputString(input, "prompt") != "":
		sb.WriteString(inputString(input, "prompt"))
	case topic != "":
		fmt.Fprintf(&sb, "Write a short reading passage about %s.", topic)
	default:
		sb.WriteString("Write a short reading passage for an English language learner.")
	}

	if prior := inputString(input, "content"); prior != "" {
		sb.WriteString("\n\nBuild on this prior content:\n")
		sb.WriteString(prior)
	}
	fmt.Fprintf(&sb, "\n\nThe student is at English proficiency level %d of 5. %s", level, levelGuidance[clampLevel(level)])
	return sb.String()
}

func contentSystemPrompt(ec *ExecutionContext) string {
	p := ec.StudentProfile
	var sb strings.Builder
	sb.WriteString("You are a patient, encouraging teacher creating content for English language learners.")
	if p.GradeLevel > 0 {
		fmt.Fprintf(&sb, " The student is in grade %d.", p.GradeLevel)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&sb, " The student is interested in %s.", strings.Join(p.Interests, ", "))
	}
	return sb.String()
}

// promptTemplateHandler renders a {{placeholder}} template against the
// merged input, the run's variables, and the student profile. It produces
// the prompt; a downstream ai-model node invokes it.
type promptTemplateHandler struct{}

func (promptTemplateHandler) Type() string { return TypePromptTemplate }

func (promptTemplateHandler) Run(_ context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	tpl := node.ConfigString("template", "")
	if tpl == "" {
		tpl = inputString(input, "template")
	}
	rendered := renderTemplate(tpl, templateValues(input, rt.Context))

	return &HandlerResult{Output: map[string]any{
		"prompt":   rendered,
		"template": tpl,
	}}, nil
}

// renderTemplate substitutes {{key}} markers. Unknown markers are left in
// place so authors can spot them in a preview.
func renderTemplate(tpl string, values map[string]string) string {
	out := tpl
	for key, value := range values {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// templateValues flattens the sources a template may reference. Input
// values shadow variables, which shadow profile fields.
func templateValues(input map[string]any, ec *ExecutionContext) map[string]string {
	p := ec.StudentProfile
	values := map[string]string{
		"studentName":    p.Name,
		"nativeLanguage": p.NativeLanguage,
		"gradeLevel":     fmt.Sprint(p.GradeLevel),
		"level":          fmt.Sprint(ec.CurrentLanguageLevel),
		"interests":      strings.Join(p.Interests, ", "),
	}
	for name, v := range ec.Variables() {
		values[name] = templateValue(v)
	}
	for name, v := range input {
		if s := templateValue(v); s != "" {
			values[name] = s
		}
	}
	return values
}

func templateValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	}
	return ""
}
