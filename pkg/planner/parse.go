package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// opNames is the closed set of step operation names, used both to
// recognize a proto-style step (the operation name appears as a
// top-level key on the step) and to validate a unified step's kind.
var opNames = []string{"fetch", "applySelector", "resolve", "filter", "join", "project", "assert"}

// Parse accepts a plan JSON object under either the "unified" shape
// (each step's operation lives under an "op" object carrying "kind") or
// the "proto-style" shape (the operation name is itself a key on the
// step), with field names tolerated in camelCase or snake_case, and
// decodes it into an rmvmproto.Plan. It does not validate the plan
// against a manifest — call Validate for that.
func Parse(raw string) (rmvmproto.Plan, error) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: invalid plan JSON: %w", err)
	}

	normalized, _ := normalizeKeys(generic).(map[string]any)
	if _, ok := normalized["outputs"].([]any); !ok {
		return rmvmproto.Plan{}, fmt.Errorf("planner: plan outputs must be an array")
	}
	unified, err := unifyPlanShape(normalized)
	if err != nil {
		return rmvmproto.Plan{}, err
	}

	data, err := json.Marshal(unified)
	if err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: remarshal normalized plan: %w", err)
	}

	var plan rmvmproto.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: decode normalized plan: %w", err)
	}
	return plan, nil
}

// normalizeKeys recursively rewrites snake_case map keys as camelCase,
// leaving already-camelCase keys untouched. Arrays and scalars pass
// through unchanged except for their nested maps.
func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[toCamelCase(k)] = normalizeKeys(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeKeys(child)
		}
		return out
	default:
		return v
	}
}

func toCamelCase(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// unifyPlanShape rewrites a normalized-keys plan so every step's
// operation is expressed under the unified {"op": {"kind": ..., ...}}
// shape, accepting proto-style steps where the operation name is itself
// a key on the step.
func unifyPlanShape(plan map[string]any) (map[string]any, error) {
	stepsRaw, ok := plan["steps"]
	if !ok {
		return plan, nil
	}
	steps, ok := stepsRaw.([]any)
	if !ok {
		return nil, fmt.Errorf("planner: plan steps must be an array")
	}
	unifiedSteps := make([]any, len(steps))
	for i, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("planner: step %d is not an object", i)
		}
		unified, err := unifyStepShape(step)
		if err != nil {
			return nil, fmt.Errorf("planner: step %d: %w", i, err)
		}
		unifiedSteps[i] = unified
	}
	plan["steps"] = unifiedSteps
	return plan, nil
}

func unifyStepShape(step map[string]any) (map[string]any, error) {
	if opRaw, hasOp := step["op"]; hasOp {
		op, ok := opRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("planner: step op must be an object")
		}
		kind, _ := op["kind"].(string)
		if kind == "" {
			return nil, fmt.Errorf("planner: step op missing kind")
		}
		if _, nested := op[kind]; !nested {
			// Flattened unified shape: the variant's fields sit directly on
			// the op object; move them under the kind key.
			body := make(map[string]any, len(op))
			for k, v := range op {
				if k == "kind" {
					continue
				}
				body[k] = v
			}
			step["op"] = map[string]any{"kind": kind, kind: body}
		}
		return step, nil
	}
	for _, name := range opNames {
		body, ok := step[name]
		if !ok {
			continue
		}
		opBody, _ := body.(map[string]any)
		if opBody == nil {
			opBody = map[string]any{}
		}
		return map[string]any{
			"out": step["out"],
			"op":  map[string]any{"kind": name, name: opBody},
		}, nil
	}
	return nil, fmt.Errorf("planner: step has no recognized operation")
}
