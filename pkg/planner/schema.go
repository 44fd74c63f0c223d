package planner

import (
	"bytes"
	"fmt"
	"text/template"
)

// schemaTemplate is the closed-enum JSON Schema a plan is checked
// against before the hand-written structural validator runs. It encodes
// only the closed enum sets and the top-level shape; cross-reference
// rules (register-before-use, handle/selector membership) are not
// expressible in JSON Schema and are checked separately in validate.go.
// A step's op object is optional at this layer because the proto-style
// shape keys the operation by name instead; Parse normalizes both.
const schemaTemplate = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["requestId", "steps", "outputs"],
  "properties": {
    "requestId": {"type": "string"},
    "outputs": {
      "type": "array",
      "items": {
        "anyOf": [
          {"type": "string"},
          {"type": "object", "required": ["reg"]}
        ]
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["out"],
        "properties": {
          "out": {"type": "string", "minLength": 1},
          "op": {
            "type": "object",
            "required": ["kind"],
            "properties": {
              "kind": {"enum": {{.OpKinds}}},
              "assert": {
                "type": "object",
                "properties": {
                  "assertionType": {"enum": {{.AssertionTypes}}}
                }
              },
              "join": {
                "type": "object",
                "properties": {
                  "edgeType": {"enum": {{.EdgeTypes}}}
                }
              }
            }
          }
        }
      }
    }
  }
}`

// planSchemaTmpl is parsed once at package init. Its enum sets are fixed
// (rmvmproto's closed OpKind/AssertionType/EdgeType sets), so there is
// nothing manifest-specific to recompile per call: the manifest only
// narrows which handles/selectors are referenceable, a constraint JSON
// Schema cannot express without per-request recompiles, so that check
// lives in validate.go instead.
var planSchemaTmpl = template.Must(template.New("plan-schema").Parse(schemaTemplate))

type schemaEnums struct {
	OpKinds        string
	AssertionTypes string
	EdgeTypes      string
}

func renderPlanSchema() (string, error) {
	enums := schemaEnums{
		OpKinds:        `["fetch", "applySelector", "resolve", "filter", "join", "project", "assert"]`,
		AssertionTypes: `["ASSERT_USER_PREFERENCE", "ASSERT_WORLD_FACT", "ASSERT_DECISION", "ASSERT_PROCEDURE", "ASSERT_CONFLICT_EXPLANATION"]`,
		EdgeTypes:      `["EDGE_CONFLICTS_WITH", "EDGE_SUPERSEDES", "EDGE_PROVENANCE", "EDGE_SAME_ENTITY"]`,
	}
	var buf bytes.Buffer
	if err := planSchemaTmpl.Execute(&buf, enums); err != nil {
		return "", fmt.Errorf("planner: render plan schema: %w", err)
	}
	return buf.String(), nil
}
