package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

func sampleManifest() rmvmproto.Manifest {
	return rmvmproto.Manifest{
		RequestID: "req-1",
		Handles: []rmvmproto.HandleRef{
			{Ref: "h1", TypeID: "fact", Availability: rmvmproto.HandleAvailabilityReady, Meta: rmvmproto.HandleMeta{Subject: "user-1", TrustTier: rmvmproto.TrustTier3Confirmed}},
		},
		Selectors: []rmvmproto.SelectorRef{
			{Sel: "s1", ReturnType: rmvmproto.SelectorReturnHandleSet, CostWeight: 1},
		},
		Budget: rmvmproto.PlanBudget{MaxOps: 8, MaxJoinDepth: 2, MaxFanout: 4, MaxTotalCost: 10},
	}
}

func TestParseUnifiedShape(t *testing.T) {
	raw := `{
		"requestId": "req-1",
		"steps": [
			{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "h1"}}},
			{"out": "r1", "op": {"kind": "assert", "assert": {"assertionType": "ASSERT_WORLD_FACT", "bindings": {"subject": {"reg": "r0", "fieldPath": "meta.subject"}}}}}
		],
		"outputs": ["r1"]
	}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, rmvmproto.OpKindFetch, plan.Steps[0].Op.Kind)
	require.Equal(t, []rmvmproto.OutputSpec{{Reg: "r1"}}, plan.Outputs)
	require.NoError(t, Validate(plan, sampleManifest()))
}

func TestParseProtoStyleShape(t *testing.T) {
	raw := `{
		"request_id": "req-1",
		"steps": [
			{"out": "r0", "fetch": {"handle_ref": "h1"}},
			{"out": "r1", "assert": {"assertion_type": "ASSERT_WORLD_FACT", "bindings": {"subject": {"reg": "r0", "field_path": "meta.subject"}}}}
		],
		"outputs": [{"reg": "r1"}]
	}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, rmvmproto.OpKindFetch, plan.Steps[0].Op.Kind)
	require.Equal(t, []rmvmproto.OutputSpec{{Reg: "r1"}}, plan.Outputs)
	require.NoError(t, Validate(plan, sampleManifest()))
}

func TestParseRequiresOutputs(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "h1"}}}]}`
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestValidateRejectsUnknownHandle(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "unknown"}}}], "outputs": ["r0"]}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	err = Validate(plan, sampleManifest())
	require.Error(t, err)
}

func TestValidateRejectsForwardReference(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [{"out": "r0", "op": {"kind": "project", "project": {"inReg": "r1", "fieldPaths": ["x"]}}}], "outputs": ["r0"]}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	err = Validate(plan, sampleManifest())
	require.Error(t, err)
}

func TestValidateRejectsDuplicateOut(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [
		{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "h1"}}},
		{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "h1"}}}
	], "outputs": ["r0"]}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	err = Validate(plan, sampleManifest())
	require.Error(t, err)
}

func TestValidateRejectsUnknownAssertionType(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [{"out": "r0", "op": {"kind": "assert", "assert": {"assertionType": "ASSERT_MADE_UP"}}}], "outputs": ["r0"]}`
	plan, err := Parse(raw)
	require.NoError(t, err)
	err = Validate(plan, sampleManifest())
	require.Error(t, err)
}

func TestValidateRawRejectsUnknownOpKind(t *testing.T) {
	raw := `{"requestId": "req-1", "steps": [{"out": "r0", "op": {"kind": "explode"}}], "outputs": ["r0"]}`
	err := ValidateRaw(raw)
	require.Error(t, err)
}

func TestExtractJSONFromFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"requestId\": \"req-1\", \"steps\": []}\n```\nThanks."
	extracted, err := ExtractJSON(text)
	require.NoError(t, err)
	require.JSONEq(t, `{"requestId": "req-1", "steps": []}`, extracted)
}

func TestExtractJSONFromBareProse(t *testing.T) {
	text := "The plan is {\"requestId\": \"req-1\", \"steps\": []} as requested."
	extracted, err := ExtractJSON(text)
	require.NoError(t, err)
	require.JSONEq(t, `{"requestId": "req-1", "steps": []}`, extracted)
}

func TestExtractJSONNoObjectFails(t *testing.T) {
	_, err := ExtractJSON("no json here")
	require.Error(t, err)
}
