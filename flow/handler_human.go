package flow

import "context"

// defaultPrompts supplies a prompt when the author left the field blank.
var defaultPrompts = map[string]string{
	TypeTextInput:      "Type your answer.",
	TypeNumberInput:    "Enter a number.",
	TypeMultipleChoice: "Choose the best answer.",
	TypeFreeResponse:   "Write your response.",
	TypeVoiceInput:     "Record your answer.",
	TypeOralPractice:   "Read the phrase aloud.",
}

// humanInputHandler serves every pause-for-learner node type. It produces
// no content itself: it returns the rendering contract the external UI
// needs to present the prompt, then suspends the whole run. The learner's
// answer arrives through Executor.Resume and becomes this node's stored
// output.
type humanInputHandler struct {
	typeTag string
}

func (h humanInputHandler) Type() string { return h.typeTag }

func (h humanInputHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	prompt := node.ConfigString("prompt", "")
	if prompt == "" {
		prompt = node.ConfigString("question", "")
	}
	if prompt == "" {
		prompt = defaultPrompts[h.typeTag]
	}

	out := map[string]any{
		"prompt":        prompt,
		"inputType":     h.typeTag,
		"label":         node.Label(),
		"awaitingInput": true,
	}
	if content := inputString(input, "content"); content != "" {
		out["content"] = content
	}

	switch h.typeTag {
	case TypeTextInput:
		copyConfigKeys(out, node, "placeholder", "maxLength")
	case TypeNumberInput:
		copyConfigKeys(out, node, "min", "max", "step")
	case TypeMultipleChoice:
		copyConfigKeys(out, node, "options", "allowMultiple")
		if _, ok := out["options"]; !ok {
			if opts, found := inputSlice(input, "options"); found {
				out["options"] = opts
			}
		}
	case TypeFreeResponse:
		copyConfigKeys(out, node, "minWords", "placeholder")
	case TypeVoiceInput, TypeOralPractice:
		copyConfigKeys(out, node, "targetPhrase", "maxSeconds")
	}

	return &HandlerResult{Output: out, ShouldPause: true}, nil
}

// copyConfigKeys forwards author config values into the rendering
// contract verbatim when present.
func copyConfigKeys(out map[string]any, node Node, keys ...string) {
	if node.Data.Config == nil {
		return
	}
	for _, key := range keys {
		if v, ok := node.Data.Config[key]; ok {
			out[key] = v
		}
	}
}
