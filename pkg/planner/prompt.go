// Package planner implements the Planner Guard: the manifest-bound plan
// parser, validator, and deterministic synthesizer that stands between a
// chat request and the RMVM kernel's execute RPC. No plan — whether
// synthesized in-process, supplied by the caller, or produced by an
// external language model — reaches the kernel without first passing
// Validate.
package planner

import (
	"fmt"
	"strings"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// BuildPrompt renders the instruction an external planner model is given:
// the exact handles and selectors it may reference, and the closed shape
// of a valid plan. In OpenAi planner mode it is sent verbatim as the user
// message, after a fixed system message that forbids prose.
func BuildPrompt(manifest rmvmproto.Manifest) string {
	var b strings.Builder
	b.WriteString("You are the planning stage of a memory retrieval kernel. ")
	b.WriteString("Respond with exactly one JSON object describing a plan and nothing else: ")
	b.WriteString("no prose, no markdown fence, no explanation.\n\n")

	b.WriteString("Allowed handles (use only these handleRef values with fetch):\n")
	if len(manifest.Handles) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, h := range manifest.Handles {
		fmt.Fprintf(&b, "  - %s (type=%s, trust=%s, availability=%s)\n", h.Ref, h.TypeID, h.Meta.TrustTier, h.Availability)
	}

	b.WriteString("\nAllowed selectors (use only these selectorRef values with applySelector):\n")
	if len(manifest.Selectors) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, s := range manifest.Selectors {
		fmt.Fprintf(&b, "  - %s (%s)\n", s.Sel, s.Description)
	}

	fmt.Fprintf(&b, "\nPlan budget: at most %d steps, join depth %d, fanout %d, total cost %.2f.\n",
		manifest.Budget.MaxOps, manifest.Budget.MaxJoinDepth, manifest.Budget.MaxFanout, manifest.Budget.MaxTotalCost)

	b.WriteString("\nA plan is {\"requestId\": string, \"steps\": [{\"out\": string, \"op\": {\"kind\": ...}}], \"outputs\": [string]}. ")
	b.WriteString("Every op kind is one of fetch, applySelector, resolve, filter, join, project, assert. ")
	b.WriteString("Registers named by inReg/leftReg/rightReg/reg must be defined by an earlier step. ")
	b.WriteString("The final step must be an assert step, whose assertionType is one of ")
	b.WriteString("ASSERT_USER_PREFERENCE, ASSERT_WORLD_FACT, ASSERT_DECISION, ASSERT_PROCEDURE, ")
	b.WriteString("ASSERT_CONFLICT_EXPLANATION.\n")

	return b.String()
}
