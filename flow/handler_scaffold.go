package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ellflow/ellflow-go/flow/completion"
)

// scaffoldingStrategies is the fixed support-strategy table keyed by
// proficiency level. Lower levels lean on visual and native-language
// supports; upper levels shift toward academic analysis.
var scaffoldingStrategies = map[int][]string{
	1: {"visual-supports", "l1-translation", "single-words", "realia"},
	2: {"visual-supports", "sentence-frames", "word-banks", "gestures"},
	3: {"sentence-frames", "graphic-organizers", "vocabulary-preview", "think-alouds"},
	4: {"graphic-organizers", "academic-vocabulary", "structured-discussion", "extended-writing"},
	5: {"advanced-analysis", "synthesis", "peer-review"},
}

func strategiesForLevel(level int) []string {
	return append([]string(nil), scaffoldingStrategies[clampLevel(level)]...)
}

// languageNames maps the ISO 639-1 codes student profiles carry to
// display names for prompts and UI labels.
var languageNames = map[string]string{
	"es": "Spanish",
	"vi": "Vietnamese",
	"zh": "Chinese",
	"ar": "Arabic",
	"so": "Somali",
	"ru": "Russian",
	"uk": "Ukrainian",
	"ko": "Korean",
	"tl": "Tagalog",
	"fr": "French",
	"ht": "Haitian Creole",
	"pt": "Portuguese",
}

// cannedBridges is the deterministic native-language support text used
// when the completion backend cannot translate, keyed by language code.
var cannedBridges = map[string]string{
	"es": "Lee el texto con calma. Las ideas principales están al comienzo de cada párrafo.",
	"vi": "Hãy đọc chậm rãi. Ý chính nằm ở đầu mỗi đoạn văn.",
	"zh": "请慢慢阅读。主要内容在每段的开头。",
	"ar": "اقرأ النص ببطء. الأفكار الرئيسية في بداية كل فقرة.",
	"so": "Si tartiib ah u akhri qoraalka. Fikradaha muhiimka ah waxay ku yaalliin bilowga cutub kasta.",
	"ru": "Читайте текст не спеша. Главные мысли находятся в начале каждого абзаца.",
	"uk": "Читайте текст повільно. Головні думки на початку кожного абзацу.",
	"ko": "천천히 읽어 보세요. 중요한 내용은 각 문단의 첫 부분에 있어요.",
	"tl": "Basahin nang dahan-dahan ang teksto. Ang mga pangunahing ideya ay nasa simula ng bawat talata.",
	"fr": "Lis le texte calmement. Les idées principales sont au début de chaque paragraphe.",
	"ht": "Li tèks la dousman. Lide prensipal yo nan kòmansman chak paragraf.",
	"pt": "Leia o texto com calma. As ideias principais estão no início de cada parágrafo.",
}

const defaultBridge = "Read slowly. The main ideas are at the start of each paragraph."

// languageCode resolves a profile's native-language field, which may hold
// a code or a display name, to a (code, name) pair. The name is empty
// when the language is not in the table.
func languageCode(raw string) (string, string) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	if name, ok := languageNames[norm]; ok {
		return norm, name
	}
	for code, name := range languageNames {
		if strings.EqualFold(name, norm) {
			return code, name
		}
	}
	return norm, ""
}

// scaffoldedContentHandler attaches the level's support strategies to the
// upstream content. It is deterministic: the strategy table is fixed and
// no external calls are made.
type scaffoldedContentHandler struct{}

func (scaffoldedContentHandler) Type() string { return TypeScaffoldedContent }

func (scaffoldedContentHandler) Run(_ context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel
	strategies := strategiesForLevel(level)
	for _, s := range strategies {
		rt.Context.AddAdaptation(s)
	}

	out := map[string]any{
		"content":   inputString(input, "content"),
		"scaffolds": strategies,
		"level":     level,
	}
	if subject := node.ConfigString("subject", ""); subject != "" {
		out["subject"] = subject
	}
	return &HandlerResult{Output: out}, nil
}

// l1BridgeHandler produces native-language support text anchoring the
// English passage. The completion client writes the bridge; when it is
// unavailable the handler falls back to a canned supportive line in the
// student's language.
type l1BridgeHandler struct{}

func (l1BridgeHandler) Type() string { return TypeL1Bridge }

func (l1BridgeHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	code, name := languageCode(rt.Context.StudentProfile.NativeLanguage)
	if name == "" {
		name = rt.Context.StudentProfile.NativeLanguage
	}
	if name == "" {
		name = "the student's native language"
	}
	content := inputString(input, "content")

	prompt := fmt.Sprintf(
		"Write a two or three sentence summary in %s that bridges this English passage for a native %s speaker. Keep it simple and supportive.",
		name, name)
	if content != "" {
		prompt += "\n\nPassage:\n" + content
	}

	resp, err := rt.Completion.Complete(ctx, completion.Request{
		Model:  node.ConfigString("model", ""),
		System: "You are a bilingual teaching assistant supporting English language learners.",
		Prompt: prompt,
	})
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	bridge := resp.Text
	generated := true
	if err != nil || resp.Fallback {
		reason := "no completion backend"
		if err != nil {
			reason = err.Error()
		}
		rt.recordFallback(node, reason)
		bridge = cannedBridges[code]
		if bridge == "" {
			bridge = defaultBridge
		}
		generated = false
	} else {
		rt.recordUsage(node.ID, resp)
	}

	rt.Context.AddAdaptation("l1-bridge")

	return &HandlerResult{Output: map[string]any{
		"bridge":        bridge,
		"language":      code,
		"languageName":  name,
		"generatedByAI": generated,
	}}, nil
}

// visualSupportHandler requests an illustration for the current content.
// Backends without image support produce a placeholder asset; the node
// completes either way.
type visualSupportHandler struct{}

func (visualSupportHandler) Type() string { return TypeVisualSupport }

func (visualSupportHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	subject := node.ConfigString("subject", "")
	if subject == "" {
		subject = inputString(input, "topic")
	}
	if subject == "" {
		if content := inputString(input, "content"); content != "" {
			subject = firstSentence(content)
		}
	}
	if subject == "" {
		subject = node.Label()
	}

	req := completion.ImageRequest{
		Prompt: "A friendly, clear illustration for a language learner: " + subject,
		Style:  node.ConfigString("style", "simple illustration"),
	}
	img, err := rt.Completion.GenerateImage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		rt.recordFallback(node, err.Error())
		img = completion.PlaceholderImage(req)
	} else if !img.GeneratedByAI {
		rt.recordFallback(node, "image generation unavailable")
	}

	rt.Context.AddAdaptation("visual-supports")

	return &HandlerResult{Output: map[string]any{
		"imageUrl":      img.URL,
		"altText":       img.AltText,
		"generatedByAI": img.GeneratedByAI,
		"caption":       subject,
	}}, nil
}

// vocabularyBuilderHandler extracts key vocabulary from the upstream
// content with definitions and example sentences, falling back to a
// deterministic extraction when the backend is unavailable.
type vocabularyBuilderHandler struct{}

func (vocabularyBuilderHandler) Type() string { return TypeVocabularyBuilder }

func (vocabularyBuilderHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel
	count := node.ConfigInt("wordCount", 5)
	if count < 1 {
		count = 1
	}
	content := inputString(input, "content")

	words := askForVocabulary(ctx, node, content, count, level, rt)
	if len(words) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rt.recordFallback(node, "vocabulary extraction unavailable")
		words = extractVocabulary(content, count)
	}

	rt.Context.AddAdaptation("vocabulary-preview")

	return &HandlerResult{Output: map[string]any{
		"vocabulary": words,
		"wordCount":  len(words),
		"level":      level,
	}}, nil
}

func askForVocabulary(ctx context.Context, node Node, content string, count, level int, rt *Runtime) []map[string]any {
	schema := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"word":       map[string]any{"type": "string"},
				"definition": map[string]any{"type": "string"},
				"example":    map[string]any{"type": "string"},
			},
			"required": []any{"word", "definition"},
		},
	}

	prompt := fmt.Sprintf(
		"Pick the %d most useful vocabulary words for a student at English proficiency level %d of 5. Give a simple definition and an example sentence for each.",
		count, level)
	if content != "" {
		prompt += "\n\nPassage:\n" + content
	}

	resp, err := rt.Completion.CompleteStructured(ctx, completion.Request{
		Model:  node.ConfigString("model", ""),
		System: "You choose vocabulary and write definitions for English language learners.",
		Prompt: prompt,
	}, schema)
	if err != nil || resp.Fallback {
		return nil
	}
	rt.recordUsage(node.ID, resp)
	return normalizeVocabulary(resp.Data, count)
}

func normalizeVocabulary(v any, count int) []map[string]any {
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
		word, _ := m["word"].(string)
		if strings.TrimSpace(word) == "" {
			continue
		}
		definition, _ := m["definition"].(string)
		example, _ := m["example"].(string)
		out = append(out, map[string]any{
			"word":       word,
			"definition": definition,
			"example":    example,
		})
	}
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// starterVocabulary backs vocabulary extraction when no upstream content
// exists to draw from.
var starterVocabulary = []map[string]any{
	{"word": "morning", "definition": "The early part of the day.", "example": "We read together every morning."},
	{"word": "practice", "definition": "Doing something again to get better at it.", "example": "Reading practice makes you stronger."},
	{"word": "question", "definition": "Something you ask to learn more.", "example": "Raise your hand to ask a question."},
	{"word": "answer", "definition": "What you say back to a question.", "example": "She knew the answer right away."},
	{"word": "story", "definition": "A telling of things that happen.", "example": "The story was about a cat."},
}

// extractVocabulary deterministically pulls longer words from the content
// in order of first appearance, pairing each with the sentence it came
// from.
func extractVocabulary(content string, count int) []map[string]any {
	if strings.TrimSpace(content) == "" {
		out := make([]map[string]any, 0, count)
		for i := 0; i < len(starterVocabulary) && i < count; i++ {
			entry := make(map[string]any, len(starterVocabulary[i]))
			for k, v := range starterVocabulary[i] {
				entry[k] = v
			}
			out = append(out, entry)
		}
		return out
	}

	seen := make(map[string]bool)
	var out []map[string]any
	for _, raw := range strings.Fields(content) {
		word := strings.ToLower(strings.Trim(raw, ".,!?;:\"'()"))
		if len([]rune(word)) < 5 || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, map[string]any{
			"word":       word,
			"definition": "A key word from this passage.",
			"example":    sentenceContaining(content, word),
		})
		if len(out) == count {
			break
		}
	}
	if len(out) == 0 {
		return extractVocabulary("", count)
	}
	return out
}

func sentenceContaining(content, word string) string {
	for _, s := range splitSentences(content) {
		if strings.Contains(strings.ToLower(s), word) {
			return strings.TrimSpace(s) + "."
		}
	}
	return ""
}

func splitSentences(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func firstSentence(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		s = s[:i]
	}
	if runes := []rune(s); len(runes) > 80 {
		s = string(runes[:80])
	}
	return strings.TrimSpace(s)
}
