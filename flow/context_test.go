package flow

import (
	"encoding/json"
	"testing"
)

// TestNewExecutionContext verifies construction and level clamping.
func TestNewExecutionContext(t *testing.T) {
	tests := []struct {
		name        string
		proficiency int
		wantLevel   int
	}{
		{"within range", 3, 3},
		{"below range clamps to 1", 0, 1},
		{"negative clamps to 1", -2, 1},
		{"above range clamps to 5", 9, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := NewExecutionContext(StudentProfile{ID: "s1", ProficiencyLevel: tt.proficiency})
			if ec.CurrentLanguageLevel != tt.wantLevel {
				t.Errorf("level = %d, want %d", ec.CurrentLanguageLevel, tt.wantLevel)
			}
			if ec.StudentProfile.ID != "s1" {
				t.Errorf("profile not retained: %+v", ec.StudentProfile)
			}
		})
	}
}

// TestExecutionContextVariables verifies the shared scratch space.
func TestExecutionContextVariables(t *testing.T) {
	ec := NewExecutionContext(StudentProfile{ProficiencyLevel: 2})

	t.Run("set and get", func(t *testing.T) {
		ec.SetVariable("attempts", 3)
		v, ok := ec.Variable("attempts")
		if !ok || v != 3 {
			t.Errorf("expected 3, got %v (ok=%v)", v, ok)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if _, ok := ec.Variable("nope"); ok {
			t.Error("expected ok=false for missing variable")
		}
	})

	t.Run("Variables returns a copy", func(t *testing.T) {
		ec.SetVariable("color", "blue")
		snapshot := ec.Variables()
		snapshot["color"] = "red"

		v, _ := ec.Variable("color")
		if v != "blue" {
			t.Errorf("mutating the copy leaked into the context: %v", v)
		}
	})
}

// TestExecutionContextAccumulators verifies history, content, and
// adaptation recording.
func TestExecutionContextAccumulators(t *testing.T) {
	ec := NewExecutionContext(StudentProfile{ProficiencyLevel: 2})

	ec.AppendHistory("assistant", "Hello!")
	ec.AppendHistory("user", "Hi.")
	history := ec.History()
	if len(history) != 2 || history[0].Role != "assistant" || history[1].Content != "Hi." {
		t.Errorf("unexpected history: %+v", history)
	}

	ec.AppendContent("passage one")
	ec.AppendContent("passage two")
	content := ec.ContentSoFar()
	if len(content) != 2 || content[1] != "passage two" {
		t.Errorf("unexpected content: %v", content)
	}

	ec.AddAdaptation("visual-supports")
	adaptations := ec.AppliedAdaptations()
	if len(adaptations) != 1 || adaptations[0] != "visual-supports" {
		t.Errorf("unexpected adaptations: %v", adaptations)
	}

	// Returned slices are copies.
	content[0] = "mutated"
	if ec.ContentSoFar()[0] != "passage one" {
		t.Error("mutating the returned slice leaked into the context")
	}
}

// TestExecutionContextJSON verifies serialization round-trips the
// mutable state.
func TestExecutionContextJSON(t *testing.T) {
	ec := NewExecutionContext(StudentProfile{
		ID:               "s9",
		Name:             "Dara",
		NativeLanguage:   "vi",
		ProficiencyLevel: 4,
	})
	ec.SetVariable("theme", "ocean")
	ec.AppendHistory("assistant", "Welcome")
	ec.AppendContent("The reef teems with life.")
	ec.AddAdaptation("sentence-frames")

	data, err := json.Marshal(ec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored ExecutionContext
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.StudentProfile.Name != "Dara" {
		t.Errorf("profile lost: %+v", restored.StudentProfile)
	}
	if restored.CurrentLanguageLevel != 4 {
		t.Errorf("level lost: %d", restored.CurrentLanguageLevel)
	}
	if v, ok := restored.Variable("theme"); !ok || v != "ocean" {
		t.Errorf("variable lost: %v", v)
	}
	if got := restored.History(); len(got) != 1 || got[0].Content != "Welcome" {
		t.Errorf("history lost: %+v", got)
	}
	if got := restored.ContentSoFar(); len(got) != 1 {
		t.Errorf("content lost: %v", got)
	}
	if got := restored.AppliedAdaptations(); len(got) != 1 || got[0] != "sentence-frames" {
		t.Errorf("adaptations lost: %v", got)
	}
}
