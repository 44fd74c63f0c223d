package rmvmproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpRoundTripFetch(t *testing.T) {
	op := Op{Kind: OpKindFetch, Fetch: &FetchOp{HandleRef: "H1"}}
	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Op
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, OpKindFetch, decoded.Kind)
	require.Equal(t, "H1", decoded.Fetch.HandleRef)
}

func TestOpRoundTripAssert(t *testing.T) {
	op := Op{
		Kind: OpKindAssert,
		Assert: &AssertOp{
			AssertionType: AssertWorldFact,
			Bindings: map[string]ValueRef{
				"subject": {Reg: "r1", FieldPath: "meta.subject"},
			},
		},
	}
	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded Op
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, OpKindAssert, decoded.Kind)
	require.Equal(t, AssertWorldFact, decoded.Assert.AssertionType)
	require.Equal(t, "r1", decoded.Assert.Bindings["subject"].Reg)
}

func TestParamMapDecodingTolerance(t *testing.T) {
	raw := `{
		"tagged_s": {"s": "hello"},
		"tagged_i": {"i64": 42},
		"tagged_e": {"e": "SCOPE_GLOBAL"},
		"bare_string": "world",
		"bare_bool": true,
		"bare_int": 7,
		"bare_float": 2.5,
		"dropped_array": [1, 2],
		"dropped_object": {"nested": "thing"}
	}`
	var params ParamMap
	require.NoError(t, json.Unmarshal([]byte(raw), &params))

	require.Equal(t, "hello", *params["tagged_s"].S)
	require.Equal(t, int64(42), *params["tagged_i"].I64)
	require.Equal(t, "SCOPE_GLOBAL", *params["tagged_e"].E)
	require.Equal(t, "world", *params["bare_string"].S)
	require.Equal(t, true, *params["bare_bool"].B)
	require.Equal(t, int64(7), *params["bare_int"].I64)
	require.Equal(t, 2.5, *params["bare_float"].F64)
	require.NotContains(t, params, "dropped_array")
	require.NotContains(t, params, "dropped_object")
}

func TestOutputSpecAcceptsStringOrObject(t *testing.T) {
	var outputs []OutputSpec
	require.NoError(t, json.Unmarshal([]byte(`["r2", {"reg": "r3"}]`), &outputs))
	require.Equal(t, []OutputSpec{{Reg: "r2"}, {Reg: "r3"}}, outputs)
}

func TestOpUnmarshalRejectsUnknownKind(t *testing.T) {
	var decoded Op
	err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &decoded)
	require.Error(t, err)
}

func TestOpUnmarshalRejectsMissingBody(t *testing.T) {
	var decoded Op
	err := json.Unmarshal([]byte(`{"kind":"fetch"}`), &decoded)
	require.Error(t, err)
}
