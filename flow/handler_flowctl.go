package flow

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Route bands produced by the proficiency router.
const (
	RouteNeedsSupport = "needs-support"
	RouteOnTrack      = "on-track"
	RouteAdvanced     = "advanced"
)

// Merge strategies.
const (
	MergeConcatenate = "concatenate"
	MergeSelectBest  = "select-best"
	MergeAggregate   = "aggregate"
)

// routerHandler picks a route band from the student's proficiency level
// and, when the author mapped bands to node ids, prunes the sibling
// branches by naming the chosen dependent.
type routerHandler struct {
	typeTag string
}

func (h routerHandler) Type() string { return h.typeTag }

func (h routerHandler) Run(_ context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	level := rt.Context.CurrentLanguageLevel
	band := routeForLevel(level)

	result := &HandlerResult{Output: map[string]any{
		"route": band,
		"level": level,
	}}
	if routes := node.ConfigMap("routes"); routes != nil {
		if target, ok := routes[band].(string); ok && target != "" {
			result.NextNodeID = target
		}
	}
	// Forward an upstream score so route-aware dependents can still
	// see it.
	if score, ok := inputFloat(input, "score"); ok {
		result.Output["score"] = score
	}
	return result, nil
}

func routeForLevel(level int) string {
	switch {
	case level <= 2:
		return RouteNeedsSupport
	case level <= 4:
		return RouteOnTrack
	default:
		return RouteAdvanced
	}
}

// conditionExprCache holds compiled condition programs keyed by source.
// Conditions repeat across students running the same workflow.
var conditionExprCache = struct {
	sync.RWMutex
	programs map[string]*vm.Program
}{programs: make(map[string]*vm.Program)}

// conditionalHandler evaluates the author's boolean expression over the
// level, the upstream score, the merged input, and the run variables,
// then routes to the true or false dependent. A missing expression is
// treated as true so a half-configured node does not strand its branch.
type conditionalHandler struct{}

func (conditionalHandler) Type() string { return TypeConditional }

func (conditionalHandler) Run(_ context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	source := node.ConfigString("condition", "")
	if source == "" {
		source = node.ConfigString("expression", "")
	}

	verdict := true
	if source != "" {
		program, err := compileCondition(source)
		if err != nil {
			return nil, newNodeError(node.ID, CodeInvalidWorkflow, "condition does not compile", err)
		}
		score, _ := inputFloat(input, "score")
		env := map[string]any{
			"level":     rt.Context.CurrentLanguageLevel,
			"score":     score,
			"input":     input,
			"variables": rt.Context.Variables(),
		}
		out, err := vm.Run(program, env)
		if err != nil {
			return nil, newNodeError(node.ID, CodeNodeFailed, "condition evaluation failed", err)
		}
		verdict = truthy(out)
	}

	result := &HandlerResult{Output: map[string]any{
		"condition": source,
		"result":    verdict,
	}}
	if verdict {
		result.NextNodeID = node.ConfigString("trueNodeId", "")
	} else {
		result.NextNodeID = node.ConfigString("falseNodeId", "")
	}
	return result, nil
}

func compileCondition(source string) (*vm.Program, error) {
	conditionExprCache.RLock()
	cached := conditionExprCache.programs[source]
	conditionExprCache.RUnlock()
	if cached != nil {
		return cached, nil
	}

	conditionExprCache.Lock()
	defer conditionExprCache.Unlock()
	if cached := conditionExprCache.programs[source]; cached != nil {
		return cached, nil
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	conditionExprCache.programs[source] = program
	return program, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// loopHandler advances the iteration counter carried in the node's input
// and routes to the loop body while iterations remain, then to the exit
// dependent once they are spent.
type loopHandler struct{}

func (loopHandler) Type() string { return TypeLoop }

func (loopHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	max := node.ConfigInt("maxIterations", 3)
	if max < 1 {
		max = 1
	}
	iteration, _ := inputInt(input, "_loopIteration")
	iteration++
	done := iteration >= max

	result := &HandlerResult{Output: map[string]any{
		"_loopIteration": iteration,
		"maxIterations":  max,
		"done":           done,
	}}
	if done {
		result.NextNodeID = node.ConfigString("exitTo", "")
	} else {
		result.NextNodeID = node.ConfigString("loopTo", "")
	}
	return result, nil
}

// mergeHandler combines the outputs of its dependencies. The scheduler
// has already shallow-merged them into the input map; the strategy
// decides what the join publishes downstream.
type mergeHandler struct{}

func (mergeHandler) Type() string { return TypeMerge }

func (mergeHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	strategy := node.ConfigString("strategy", MergeAggregate)

	var out map[string]any
	switch strategy {
	case MergeConcatenate:
		out = map[string]any{"content": concatenateInputs(input)}
	case MergeSelectBest:
		out = selectBestInput(input)
	default:
		strategy = MergeAggregate
		out = make(map[string]any, len(input)+1)
		for k, v := range input {
			out[k] = v
		}
	}
	out["mergeStrategy"] = strategy
	return &HandlerResult{Output: out}, nil
}

// concatenateInputs joins string-valued inputs (and the content field of
// map-valued inputs) in sorted key order so the result is stable.
func concatenateInputs(input map[string]any) string {
	keys := sortedKeys(input)
	var parts []string
	for _, k := range keys {
		switch v := input[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				parts = append(parts, v)
			}
		case map[string]any:
			if s, ok := v["content"].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// selectBestInput picks the scored candidate with the highest score. It
// looks in a results array first, then among map-valued inputs. With no
// scored candidate at all, the merged input passes through unchanged.
func selectBestInput(input map[string]any) map[string]any {
	var best map[string]any
	bestScore := math.Inf(-1)

	consider := func(m map[string]any) {
		score, ok := numberValue(m["score"])
		if !ok {
			return
		}
		if score > bestScore {
			bestScore = score
			best = m
		}
	}

	if results, ok := inputSlice(input, "results"); ok {
		for _, item := range results {
			if m, ok := item.(map[string]any); ok {
				consider(m)
			}
		}
	}
	if best == nil {
		for _, k := range sortedKeys(input) {
			if m, ok := input[k].(map[string]any); ok {
				consider(m)
			}
		}
	}

	if best == nil {
		out := make(map[string]any, len(input))
		for k, v := range input {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(best)+1)
	for k, v := range best {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parallelHandler marks a fan-out point. The scheduler already runs
// independent dependents concurrently, so the node only forwards its
// merged input for them to share.
type parallelHandler struct{}

func (parallelHandler) Type() string { return TypeParallel }

func (parallelHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out["parallelGroup"] = node.Label()
	return &HandlerResult{Output: out}, nil
}
