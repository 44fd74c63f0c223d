package planner

import (
	"errors"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// ErrNoHandleOrSelector is returned by DeterministicPlan when a manifest
// carries neither a handle nor a selector to build a plan around.
var ErrNoHandleOrSelector = errors.New("planner: manifest has no handle or selector to plan from")

// DeterministicPlan synthesizes the fallback plan used when no external
// planner is configured or reachable: prefer the manifest's first
// handle, falling back to its first selector, and always end on an
// assert step whose binding traces back to whichever was used. subject
// is the caller's resolved principal; the handle branch ignores it (the
// plan projects meta.subject from the fetched object instead) but the
// selector branch queries by it. The result always satisfies Validate
// against the same manifest — see the property test in
// synthesize_test.go.
func DeterministicPlan(manifest rmvmproto.Manifest, subject string) (rmvmproto.Plan, error) {
	switch {
	case len(manifest.Handles) > 0:
		return deterministicFromHandle(manifest), nil
	case len(manifest.Selectors) > 0:
		return deterministicFromSelector(manifest, subject), nil
	default:
		return rmvmproto.Plan{}, ErrNoHandleOrSelector
	}
}

func deterministicFromHandle(manifest rmvmproto.Manifest) rmvmproto.Plan {
	handle := manifest.Handles[0]
	return rmvmproto.Plan{
		RequestID: manifest.RequestID,
		Outputs:   []rmvmproto.OutputSpec{{Reg: "r2"}},
		Steps: []rmvmproto.Step{
			{
				Out: "r0",
				Op: rmvmproto.Op{
					Kind:  rmvmproto.OpKindFetch,
					Fetch: &rmvmproto.FetchOp{HandleRef: handle.Ref},
				},
			},
			{
				Out: "r1",
				Op: rmvmproto.Op{
					Kind:    rmvmproto.OpKindProject,
					Project: &rmvmproto.ProjectOp{InReg: "r0", FieldPaths: []string{"meta.subject"}},
				},
			},
			{
				Out: "r2",
				Op: rmvmproto.Op{
					Kind: rmvmproto.OpKindAssert,
					Assert: &rmvmproto.AssertOp{
						AssertionType: rmvmproto.AssertWorldFact,
						Bindings: map[string]rmvmproto.ValueRef{
							"subject": {Reg: "r1", FieldPath: "meta.subject"},
						},
					},
				},
			},
		},
	}
}

func deterministicFromSelector(manifest rmvmproto.Manifest, subject string) rmvmproto.Plan {
	selector := manifest.Selectors[0]
	return rmvmproto.Plan{
		RequestID: manifest.RequestID,
		Outputs:   []rmvmproto.OutputSpec{{Reg: "r2"}},
		Steps: []rmvmproto.Step{
			{
				Out: "r0",
				Op: rmvmproto.Op{
					Kind: rmvmproto.OpKindApplySelector,
					ApplySelector: &rmvmproto.ApplySelectorOp{
						SelectorRef: selector.Sel,
						Params: rmvmproto.ParamMap{
							"subject": rmvmproto.StringValue(subject),
						},
					},
				},
			},
			{
				Out: "r1",
				Op: rmvmproto.Op{
					Kind:    rmvmproto.OpKindProject,
					Project: &rmvmproto.ProjectOp{InReg: "r0", FieldPaths: []string{"set_count"}},
				},
			},
			{
				Out: "r2",
				Op: rmvmproto.Op{
					Kind: rmvmproto.OpKindAssert,
					Assert: &rmvmproto.AssertOp{
						AssertionType: rmvmproto.AssertWorldFact,
						Bindings: map[string]rmvmproto.ValueRef{
							"subject": {Reg: "r1", FieldPath: "set_count"},
						},
					},
				},
			},
		},
	}
}
