package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

var (
	schemaOnce    sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr     error
)

func planSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := renderPlanSchema()
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan.json", strings.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("planner: add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("plan.json")
	})
	return compiledSchema, schemaErr
}

// ValidateRaw checks raw plan JSON (already extracted from any
// surrounding text) against the closed-enum JSON Schema before any
// hand-written decoding happens, so malformed input is rejected with a
// precise JSON-pointer path rather than an opaque decode error. Keys are
// first rewritten from snake_case to camelCase, as Parse does, so both
// spellings are checked alike.
func ValidateRaw(raw string) error {
	schema, err := planSchema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return fmt.Errorf("planner: invalid plan JSON: %w", err)
	}
	instance = normalizeKeys(instance)
	if err := schema.Validate(instance); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("planner: plan schema violation at %s: %s", verr.InstanceLocation, verr.Message)
		}
		return fmt.Errorf("planner: plan schema violation: %w", err)
	}
	return nil
}

// Validate checks a parsed plan's structural rules against a manifest:
// unique non-empty step outputs, handle/selector references that exist
// in the manifest, and register references (inReg/leftReg/rightReg/reg)
// that name a step defined earlier in source order. It does not check
// budget, cost, or semantic admissibility — those are the kernel's
// responsibility.
func Validate(plan rmvmproto.Plan, manifest rmvmproto.Manifest) error {
	handleRefs := make(map[string]bool, len(manifest.Handles))
	for _, h := range manifest.Handles {
		handleRefs[h.Ref] = true
	}
	selectorRefs := make(map[string]bool, len(manifest.Selectors))
	for _, s := range manifest.Selectors {
		selectorRefs[s.Sel] = true
	}

	defined := make(map[string]bool, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.Out == "" {
			return fmt.Errorf("planner: step %d has an empty out name", i)
		}
		if defined[step.Out] {
			return fmt.Errorf("planner: duplicate out name %q", step.Out)
		}

		if err := validateStepRefs(step, handleRefs, selectorRefs, defined); err != nil {
			return fmt.Errorf("planner: step %d (%s): %w", i, step.Out, err)
		}

		defined[step.Out] = true
	}
	return nil
}

func validateStepRefs(step rmvmproto.Step, handleRefs, selectorRefs, defined map[string]bool) error {
	op := step.Op
	switch op.Kind {
	case rmvmproto.OpKindFetch:
		if !handleRefs[op.Fetch.HandleRef] {
			return fmt.Errorf("handleRef %q not present in manifest", op.Fetch.HandleRef)
		}
	case rmvmproto.OpKindApplySelector:
		if !selectorRefs[op.ApplySelector.SelectorRef] {
			return fmt.Errorf("selectorRef %q not present in manifest", op.ApplySelector.SelectorRef)
		}
	case rmvmproto.OpKindResolve:
		if !defined[op.Resolve.InReg] {
			return fmt.Errorf("inReg %q referenced before definition", op.Resolve.InReg)
		}
	case rmvmproto.OpKindFilter:
		if !defined[op.Filter.InReg] {
			return fmt.Errorf("inReg %q referenced before definition", op.Filter.InReg)
		}
	case rmvmproto.OpKindProject:
		if !defined[op.Project.InReg] {
			return fmt.Errorf("inReg %q referenced before definition", op.Project.InReg)
		}
	case rmvmproto.OpKindJoin:
		if !defined[op.Join.LeftReg] {
			return fmt.Errorf("leftReg %q referenced before definition", op.Join.LeftReg)
		}
		if !defined[op.Join.RightReg] {
			return fmt.Errorf("rightReg %q referenced before definition", op.Join.RightReg)
		}
		if !rmvmproto.ValidEdgeTypes[op.Join.EdgeType] {
			return fmt.Errorf("unrecognized edgeType %q", op.Join.EdgeType)
		}
	case rmvmproto.OpKindAssert:
		if !rmvmproto.ValidAssertionTypes[op.Assert.AssertionType] {
			return fmt.Errorf("unrecognized assertionType %q", op.Assert.AssertionType)
		}
		for name, ref := range op.Assert.Bindings {
			if !defined[ref.Reg] {
				return fmt.Errorf("binding %q references undefined register %q", name, ref.Reg)
			}
		}
	default:
		return fmt.Errorf("unrecognized op kind %q", op.Kind)
	}
	return nil
}
