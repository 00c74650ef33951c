package flow

// buildExecutionGraph converts the authored node and edge lists into the
// executor's per-node records, populating dependency and dependent sets in
// a single O(E) edge scan.
//
// Acyclicity is deliberately not validated here. The executor's no-progress
// check catches cycles and unsatisfiable dependencies at dispatch time,
// which is simpler and sufficient at this scale.
func buildExecutionGraph(wf *WorkflowGraph) map[string]*ExecutionNode {
	nodes := make(map[string]*ExecutionNode, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodes[n.ID] = &ExecutionNode{
			ID:           n.ID,
			Node:         n,
			Dependencies: []string{},
			Dependents:   []string{},
			Status:       NodePending,
		}
	}
	for _, e := range wf.Edges {
		// A dependency on an undeclared source is kept: it can never be
		// satisfied, so the no-progress detector fails the run instead of
		// silently dropping the author's edge. ParseWorkflow rejects such
		// edges earlier for JSON input.
		if dst, ok := nodes[e.Target]; ok {
			dst.Dependencies = append(dst.Dependencies, e.Source)
		}
		if src, ok := nodes[e.Source]; ok {
			src.Dependents = append(src.Dependents, e.Target)
		}
	}
	return nodes
}

// entryNodeID picks the run's entry node: the unique node with no incoming
// edge. If several or none qualify, the first declared node is the
// deterministic fallback.
func entryNodeID(wf *WorkflowGraph, nodes map[string]*ExecutionNode) string {
	if len(wf.Nodes) == 0 {
		return ""
	}
	var roots []string
	for _, n := range wf.Nodes {
		if len(nodes[n.ID].Dependencies) == 0 {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 1 {
		return roots[0]
	}
	return wf.Nodes[0].ID
}
