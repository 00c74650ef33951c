package flow

import (
	"reflect"
	"testing"
)

// TestBuildExecutionGraph verifies dependency and dependent sets.
func TestBuildExecutionGraph(t *testing.T) {
	t.Run("diamond graph", func(t *testing.T) {
		wf := &WorkflowGraph{
			Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
			Edges: []Edge{
				{ID: "e1", Source: "a", Target: "b"},
				{ID: "e2", Source: "a", Target: "c"},
				{ID: "e3", Source: "b", Target: "d"},
				{ID: "e4", Source: "c", Target: "d"},
			},
		}

		nodes := buildExecutionGraph(wf)
		if len(nodes) != 4 {
			t.Fatalf("expected 4 nodes, got %d", len(nodes))
		}
		if !reflect.DeepEqual(nodes["d"].Dependencies, []string{"b", "c"}) {
			t.Errorf("d dependencies = %v", nodes["d"].Dependencies)
		}
		if !reflect.DeepEqual(nodes["a"].Dependents, []string{"b", "c"}) {
			t.Errorf("a dependents = %v", nodes["a"].Dependents)
		}
		if len(nodes["a"].Dependencies) != 0 {
			t.Errorf("a should have no dependencies, got %v", nodes["a"].Dependencies)
		}
		for id, n := range nodes {
			if n.Status != NodePending {
				t.Errorf("node %s should start pending, got %s", id, n.Status)
			}
		}
	})

	t.Run("edge from undeclared source keeps the dependency", func(t *testing.T) {
		wf := &WorkflowGraph{
			Nodes: []Node{{ID: "a"}},
			Edges: []Edge{{ID: "e1", Source: "ghost", Target: "a"}},
		}

		nodes := buildExecutionGraph(wf)
		// The unsatisfiable dependency stays so the run fails loudly
		// instead of silently dropping the author's edge.
		if !reflect.DeepEqual(nodes["a"].Dependencies, []string{"ghost"}) {
			t.Errorf("expected ghost dependency kept, got %v", nodes["a"].Dependencies)
		}
	})

	t.Run("edge to undeclared target is harmless", func(t *testing.T) {
		wf := &WorkflowGraph{
			Nodes: []Node{{ID: "a"}},
			Edges: []Edge{{ID: "e1", Source: "a", Target: "ghost"}},
		}

		nodes := buildExecutionGraph(wf)
		if !reflect.DeepEqual(nodes["a"].Dependents, []string{"ghost"}) {
			t.Errorf("expected ghost dependent recorded, got %v", nodes["a"].Dependents)
		}
		if len(nodes["a"].Dependencies) != 0 {
			t.Errorf("a should have no dependencies, got %v", nodes["a"].Dependencies)
		}
	})
}

// TestEntryNodeID verifies entry selection and its deterministic fallback.
func TestEntryNodeID(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
		want  string
	}{
		{
			name:  "unique root",
			nodes: []Node{{ID: "x"}, {ID: "y"}, {ID: "z"}},
			edges: []Edge{{Source: "x", Target: "y"}, {Source: "y", Target: "z"}},
			want:  "x",
		},
		{
			name:  "several roots fall back to first declared",
			nodes: []Node{{ID: "m"}, {ID: "n"}, {ID: "o"}},
			edges: []Edge{{Source: "m", Target: "o"}, {Source: "n", Target: "o"}},
			want:  "m",
		},
		{
			name:  "no root falls back to first declared",
			nodes: []Node{{ID: "p"}, {ID: "q"}},
			edges: []Edge{{Source: "p", Target: "q"}, {Source: "q", Target: "p"}},
			want:  "p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &WorkflowGraph{Nodes: tt.nodes, Edges: tt.edges}
			nodes := buildExecutionGraph(wf)
			if got := entryNodeID(wf, nodes); got != tt.want {
				t.Errorf("entryNodeID = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("empty workflow", func(t *testing.T) {
		wf := &WorkflowGraph{}
		if got := entryNodeID(wf, buildExecutionGraph(wf)); got != "" {
			t.Errorf("expected empty entry for empty workflow, got %q", got)
		}
	})
}
