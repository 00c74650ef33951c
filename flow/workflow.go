// Package flow provides the workflow execution engine for learning pathways.
//
// A workflow is a directed acyclic graph of typed nodes authored in an
// external canvas tool and delivered as JSON. The engine resolves execution
// order from the edge list, dispatches each node to a registered handler,
// suspends mid-graph for human input, relays token streams to live clients,
// and enforces per-node timeouts.
package flow

import (
	"encoding/json"
	"fmt"
)

// WorkflowGraph is the authored graph: a node list plus an edge list.
//
// Invariant: every edge's source and target must refer to an existing node
// id. The graph is used as a DAG; a cycle is a configuration error surfaced
// by the executor when no further nodes become ready while pending nodes
// remain.
type WorkflowGraph struct {
	// ID identifies the authored workflow; runs record it so stored
	// executions can be traced back to the graph that produced them.
	ID    string `json:"id,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one configured step in a learning workflow. Nodes are immutable
// configuration: they are produced by the authoring tool and never mutated
// by the engine.
type Node struct {
	// ID uniquely identifies the node within its workflow.
	ID string `json:"id"`

	// Type selects the registry handler (e.g. "content-generator",
	// "comprehension-check", "proficiency-router"). Unknown types fall
	// back to the passthrough handler.
	Type string `json:"type"`

	// Data carries the author-facing label, palette category, and the
	// handler-specific configuration bag.
	Data NodeData `json:"data"`
}

// NodeData is the author-supplied payload of a node.
type NodeData struct {
	Label    string         `json:"label"`
	Category string         `json:"category,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Edge is a directed dependency: Target cannot run until Source has
// completed or been skipped. Edges carry no payload; all data passes via
// each node's merged output.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ParseWorkflow decodes a workflow graph from JSON and checks that every
// edge endpoint references a declared node. It returns a RunError with code
// CodeInvalidWorkflow on malformed input or dangling edges.
//
// Endpoint checking here is an early convenience; the executor's
// no-progress detector remains the backstop for graphs constructed in code.
func ParseWorkflow(data []byte) (*WorkflowGraph, error) {
	var wf WorkflowGraph
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, &RunError{
			Code:    CodeInvalidWorkflow,
			Message: fmt.Sprintf("decode workflow: %v", err),
			Cause:   err,
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks structural integrity: node ids are unique and non-empty,
// and every edge references declared nodes.
func (w *WorkflowGraph) Validate() error {
	ids := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return &RunError{Code: CodeInvalidWorkflow, Message: "node with empty id"}
		}
		if _, dup := ids[n.ID]; dup {
			return &RunError{Code: CodeInvalidWorkflow, Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		ids[n.ID] = struct{}{}
	}
	for _, e := range w.Edges {
		if _, ok := ids[e.Source]; !ok {
			return &RunError{Code: CodeInvalidWorkflow, Message: fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source)}
		}
		if _, ok := ids[e.Target]; !ok {
			return &RunError{Code: CodeInvalidWorkflow, Message: fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target)}
		}
	}
	return nil
}

// FindNode returns the node with the given id, or nil if absent.
func (w *WorkflowGraph) FindNode(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ConfigString reads a string value from the node's config bag.
// Missing or non-string values return the fallback.
func (n *Node) ConfigString(key, fallback string) string {
	if n.Data.Config == nil {
		return fallback
	}
	if v, ok := n.Data.Config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ConfigInt reads an integer value from the node's config bag. JSON
// numbers decode as float64, so both forms are accepted. Missing or
// non-numeric values return the fallback.
func (n *Node) ConfigInt(key string, fallback int) int {
	if n.Data.Config == nil {
		return fallback
	}
	switch v := n.Data.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// ConfigFloat reads a numeric value from the node's config bag. Missing
// or non-numeric values return the fallback.
func (n *Node) ConfigFloat(key string, fallback float64) float64 {
	if n.Data.Config == nil {
		return fallback
	}
	switch v := n.Data.Config[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return fallback
}

// ConfigBool reads a boolean value from the node's config bag.
func (n *Node) ConfigBool(key string, fallback bool) bool {
	if n.Data.Config == nil {
		return fallback
	}
	if v, ok := n.Data.Config[key].(bool); ok {
		return v
	}
	return fallback
}

// ConfigMap reads a nested object from the node's config bag, or nil.
func (n *Node) ConfigMap(key string) map[string]any {
	if n.Data.Config == nil {
		return nil
	}
	if v, ok := n.Data.Config[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Label returns the author-facing label, falling back to the node id.
func (n *Node) Label() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}
	return n.ID
}
