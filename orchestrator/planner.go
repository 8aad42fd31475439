package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relay-labs/agent-router/agents"
)

// Propagation feeds fields of an earlier step's output into a later
// step's parameters.
type Propagation struct {
	// FromStep indexes the producing step within the plan.
	FromStep int `json:"from_step"`
	// Mappings maps a parameter name to an output path on the producing
	// step, e.g. "rating" -> "results[*].rating".
	Mappings map[string]string `json:"mappings"`
}

// Step is one agent invocation within a plan.
type Step struct {
	Agent         string         `json:"agent"`
	Params        map[string]any `json:"params,omitempty"`
	DependsOn     []int          `json:"depends_on,omitempty"`
	PropagateFrom *Propagation   `json:"propagate_from,omitempty"`
}

// Plan is a DAG of steps derived from a reasoning decision.
type Plan struct {
	Steps    []Step `json:"steps"`
	Parallel bool   `json:"parallel"`
}

// Planner turns reasoning decisions into executable plans.
type Planner struct {
	registry *agents.Registry
}

func NewPlanner(registry *agents.Registry) *Planner {
	return &Planner{registry: registry}
}

// Build derives a plan from a reasoning decision. Parallel decisions
// produce independent steps; sequential decisions chain each step on its
// predecessor. Parameter values of the form "$<agent>.<path>" become
// propagation mappings resolved at execution time.
func (p *Planner) Build(res *Result) (*Plan, error) {
	if res == nil || res.Method == MethodReject || len(res.Agents) == 0 {
		return nil, fmt.Errorf("%w: nothing to plan", ErrBadRequest)
	}

	index := make(map[string]int, len(res.Agents))
	for i, name := range res.Agents {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: agent %q selected twice", ErrBadRequest, name)
		}
		index[name] = i
	}

	plan := &Plan{
		Steps:    make([]Step, 0, len(res.Agents)),
		Parallel: res.Parallel,
	}
	for i, name := range res.Agents {
		desc, ok := p.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("agent %q: %w", name, ErrNoRoute)
		}

		step := Step{Agent: name}
		var mappings map[string]string
		fromStep := -1
		for k, v := range res.Parameters[name] {
			ref, path, ok := placeholderRef(v)
			if !ok {
				if step.Params == nil {
					step.Params = make(map[string]any)
				}
				step.Params[k] = v
				continue
			}
			src, known := index[ref]
			if !known {
				return nil, fmt.Errorf("%w: step %d references unselected agent %q", ErrBadRequest, i, ref)
			}
			if src >= i {
				return nil, fmt.Errorf("%w: step %d references agent %q which runs later", ErrBadRequest, i, ref)
			}
			if fromStep != -1 && fromStep != src {
				return nil, fmt.Errorf("%w: step %d propagates from more than one step", ErrBadRequest, i)
			}
			fromStep = src
			if mappings == nil {
				mappings = make(map[string]string)
			}
			mappings[k] = path
		}
		if mappings != nil {
			step.PropagateFrom = &Propagation{FromStep: fromStep, Mappings: mappings}
			step.DependsOn = append(step.DependsOn, fromStep)
			plan.Parallel = false
		}
		if !res.Parallel && i > 0 && fromStep != i-1 {
			step.DependsOn = append(step.DependsOn, i-1)
		}

		for _, field := range desc.RequiredFields {
			if _, ok := step.Params[field]; ok {
				continue
			}
			if _, ok := mappings[field]; ok {
				continue
			}
			return nil, &MissingParamError{Step: i, Agent: name, Field: field}
		}

		plan.Steps = append(plan.Steps, step)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// placeholderRef parses a "$<agent>.<path>" parameter value.
func placeholderRef(v any) (agent, path string, ok bool) {
	s, isStr := v.(string)
	if !isStr || !strings.HasPrefix(s, "$") {
		return "", "", false
	}
	agent, path, found := strings.Cut(strings.TrimPrefix(s, "$"), ".")
	if !found || agent == "" || path == "" {
		return "", "", false
	}
	return agent, path, true
}

// Validate checks dependency indices and rejects cyclic or
// forward-referencing plans.
func (p *Plan) Validate() error {
	n := len(p.Steps)
	for i, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= n {
				return fmt.Errorf("%w: step %d depends on out-of-range step %d", ErrBadRequest, i, dep)
			}
			if dep >= i {
				return fmt.Errorf("step %d depends on step %d: %w", i, dep, ErrPlanCycle)
			}
		}
		if pf := s.PropagateFrom; pf != nil && (pf.FromStep < 0 || pf.FromStep >= n) {
			return fmt.Errorf("%w: step %d propagates from out-of-range step %d", ErrBadRequest, i, pf.FromStep)
		}
	}

	// Forward references are rejected above, so edges always point at
	// lower indices and the plan is acyclic. The explicit walk remains
	// for plans built by hand rather than through Build.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, n)
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("step %d: %w", i, ErrPlanCycle)
		case done:
			return nil
		}
		state[i] = visiting
		for _, dep := range p.Steps[i].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}
	for i := range p.Steps {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// ── propagation path extraction ──────────────────────────────────────────────

// ExtractPath walks a decoded JSON value along a dotted path. A segment
// suffixed "[*]" fans out over a list, producing a list of the remaining
// path applied to each element; "[N]" indexes a list.
func ExtractPath(value any, path string) (any, error) {
	segments := strings.Split(path, ".")
	return extractSegments(value, segments, path)
}

func extractSegments(value any, segments []string, full string) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	seg := segments[0]

	key, idx, wildcard, err := parseSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", full, err)
	}

	if key != "" {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: %q is not an object", full, seg)
		}
		value, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("path %q: missing field %q", full, key)
		}
	}

	switch {
	case wildcard:
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("path %q: %q is not a list", full, seg)
		}
		out := make([]any, 0, len(list))
		for _, el := range list {
			v, err := extractSegments(el, segments[1:], full)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case idx >= 0:
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("path %q: %q is not a list", full, seg)
		}
		if idx >= len(list) {
			return nil, fmt.Errorf("path %q: index %d out of range", full, idx)
		}
		return extractSegments(list[idx], segments[1:], full)
	default:
		return extractSegments(value, segments[1:], full)
	}
}

// parseSegment splits "key", "key[*]", or "key[N]". idx is -1 unless a
// numeric index is present.
func parseSegment(seg string) (key string, idx int, wildcard bool, err error) {
	idx = -1
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		if seg == "" {
			return "", -1, false, fmt.Errorf("empty path segment")
		}
		return seg, -1, false, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", -1, false, fmt.Errorf("malformed segment %q", seg)
	}
	key = seg[:open]
	inner := seg[open+1 : len(seg)-1]
	if inner == "*" {
		return key, -1, true, nil
	}
	n, convErr := strconv.Atoi(inner)
	if convErr != nil || n < 0 {
		return "", -1, false, fmt.Errorf("malformed index in segment %q", seg)
	}
	return key, n, false, nil
}
