package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ellflow/ellflow-go/flow"
	"github.com/ellflow/ellflow-go/flow/store"
)

// TestMemStoreZeroFilter verifies that an empty filter matches every
// record. The shared conformance tests scope their filters so they can run
// against persistent databases; the in-memory store is hermetic, so the
// match-all behavior is pinned here.
func TestMemStoreZeroFilter(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)

	ids := []string{"mem-run-1", "mem-run-2", "mem-run-3"}
	for i, id := range ids {
		exec := sampleExecution(id)
		exec.WorkflowID = "wf-" + id
		exec.StudentID = "student-" + id
		exec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution(%s) error = %v", id, err)
		}
	}

	listed, err := s.ListExecutions(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("len(listed) = %d, want 3", len(listed))
	}
	want := []string{"mem-run-3", "mem-run-2", "mem-run-1"}
	for i, rec := range listed {
		if rec.ID != want[i] {
			t.Errorf("listed[%d].ID = %q, want %q", i, rec.ID, want[i])
		}
	}
}

// TestMemStoreInsertionOrderTiebreak verifies that records sharing a start
// time list most recently inserted first, and that re-saving a record does
// not move it forward.
func TestMemStoreInsertionOrderTiebreak(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	started := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)

	first := sampleExecution("mem-tie-first")
	first.StartedAt = started
	second := sampleExecution("mem-tie-second")
	second.StartedAt = started

	if err := s.SaveExecution(ctx, first); err != nil {
		t.Fatalf("SaveExecution(first) error = %v", err)
	}
	if err := s.SaveExecution(ctx, second); err != nil {
		t.Fatalf("SaveExecution(second) error = %v", err)
	}

	listed, err := s.ListExecutions(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("len(listed) = %d, want 2", len(listed))
	}
	if listed[0].ID != "mem-tie-second" || listed[1].ID != "mem-tie-first" {
		t.Fatalf("order = %v, want the later insert first", recordIDs(listed))
	}

	// Upserting the older record keeps its original position.
	if err := s.SaveExecution(ctx, first); err != nil {
		t.Fatalf("re-SaveExecution(first) error = %v", err)
	}
	listed, err = s.ListExecutions(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("ListExecutions() after upsert error = %v", err)
	}
	if listed[0].ID != "mem-tie-second" || listed[1].ID != "mem-tie-first" {
		t.Errorf("order after upsert = %v, want it unchanged", recordIDs(listed))
	}
}

// TestMemStoreCopyIsolation verifies that the store never shares mutable
// state with callers in either direction.
func TestMemStoreCopyIsolation(t *testing.T) {
	t.Run("mutating the saved record does not reach the store", func(t *testing.T) {
		s := store.NewMemStore()
		ctx := context.Background()
		exec := sampleExecution("mem-isolated-1")
		if err := s.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution() error = %v", err)
		}

		exec.Status = flow.RunFailed
		exec.NodeExecutions[0].Output["content"] = "tampered"
		exec.Context.SetVariable("attempts", 99)
		exec.Usage.Calls = 99

		loaded, err := s.LoadExecution(ctx, exec.ID)
		if err != nil {
			t.Fatalf("LoadExecution() error = %v", err)
		}
		if loaded.Status != flow.RunCompleted {
			t.Errorf("Status = %q, want the originally saved %q", loaded.Status, flow.RunCompleted)
		}
		if got := loaded.NodeExecutions[0].Output["content"]; got != "The big cat sits on a soft mat." {
			t.Errorf("output content = %v, want the originally saved text", got)
		}
		if got := loaded.Context.Variables()["attempts"]; got != float64(1) {
			t.Errorf("attempts variable = %v, want 1", got)
		}
		if loaded.Usage.Calls != 2 {
			t.Errorf("Usage.Calls = %d, want 2", loaded.Usage.Calls)
		}
	})

	t.Run("mutating a loaded record does not reach the store", func(t *testing.T) {
		s := store.NewMemStore()
		ctx := context.Background()
		exec := sampleExecution("mem-isolated-2")
		if err := s.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution() error = %v", err)
		}

		loaded, err := s.LoadExecution(ctx, exec.ID)
		if err != nil {
			t.Fatalf("LoadExecution() error = %v", err)
		}
		loaded.StudentID = "intruder"
		loaded.NodeExecutions[1].Output["score"] = 0
		loaded.Context.AddAdaptation("tampered")

		again, err := s.LoadExecution(ctx, exec.ID)
		if err != nil {
			t.Fatalf("second LoadExecution() error = %v", err)
		}
		if again.StudentID != "student-1" {
			t.Errorf("StudentID = %q, want student-1", again.StudentID)
		}
		if got := again.NodeExecutions[1].Output["score"]; got != float64(100) {
			t.Errorf("score = %v, want 100", got)
		}
		if adaptations := again.Context.AppliedAdaptations(); len(adaptations) != 1 {
			t.Errorf("adaptations = %v, want the single original entry", adaptations)
		}
	})

	t.Run("mutating an appended entry does not reach the trail", func(t *testing.T) {
		s := store.NewMemStore()
		ctx := context.Background()
		entry := flow.NodeExecution{
			NodeID: "check",
			Status: flow.NodeCompleted,
			Output: map[string]any{"score": 67},
		}
		if err := s.AppendNodeExecution(ctx, "mem-isolated-3", entry); err != nil {
			t.Fatalf("AppendNodeExecution() error = %v", err)
		}
		entry.Output["score"] = 0

		trail, err := s.ListNodeExecutions(ctx, "mem-isolated-3")
		if err != nil {
			t.Fatalf("ListNodeExecutions() error = %v", err)
		}
		if got := trail[0].Output["score"]; got != float64(67) {
			t.Errorf("trail score = %v, want 67", got)
		}

		// The returned trail is a copy too.
		trail[0].Output["score"] = 1
		again, err := s.ListNodeExecutions(ctx, "mem-isolated-3")
		if err != nil {
			t.Fatalf("second ListNodeExecutions() error = %v", err)
		}
		if got := again[0].Output["score"]; got != float64(67) {
			t.Errorf("trail score after tamper = %v, want 67", got)
		}
	})
}

// TestMemStorePreservesErrorCause verifies that the in-memory store keeps
// the wrapped cause on a run error. The SQL backends cannot, because the
// cause is excluded from the stored JSON.
func TestMemStorePreservesErrorCause(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	cause := errors.New("connection refused")

	exec := sampleExecution("mem-cause-1")
	exec.Status = flow.RunFailed
	exec.Error = &flow.RunError{
		Code:    flow.CodeNodeFailed,
		Message: "node passage failed",
		Cause:   cause,
	}
	if err := s.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("SaveExecution() error = %v", err)
	}

	loaded, err := s.LoadExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("LoadExecution() error = %v", err)
	}
	if loaded.Error == nil {
		t.Fatal("Error is nil, want the run error")
	}
	if !errors.Is(loaded.Error, cause) {
		t.Errorf("errors.Is(loaded.Error, cause) = false, want the cause preserved")
	}
}
