package rmvmproto

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON applies the parameter tolerance rule: each entry is
// decoded via decodeValue and dropped when no variant matches. A
// non-object params value decodes to an empty map rather than an error.
func (m *ParamMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*m = ParamMap{}
		return nil
	}
	out := make(ParamMap, len(raw))
	for k, v := range raw {
		if value, ok := decodeValue(v); ok {
			out[k] = value
		}
	}
	*m = out
	return nil
}

// decodeValue turns raw JSON into a tagged Value: a tagged object wins
// on the first matching discriminant in {s, b, i64, f64, e}; a bare
// scalar coerces to the matching variant; anything else reports ok=false.
func decodeValue(raw json.RawMessage) (Value, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if s, ok := decodeString(obj["s"]); ok {
			return Value{S: &s}, true
		}
		if b, ok := decodeBool(obj["b"]); ok {
			return Value{B: &b}, true
		}
		if i, ok := decodeInt(obj["i64"]); ok {
			return Value{I64: &i}, true
		}
		if f, ok := decodeFloat(obj["f64"]); ok {
			return Value{F64: &f}, true
		}
		if e, ok := decodeString(obj["e"]); ok {
			return Value{E: &e}, true
		}
		return Value{}, false
	}
	if s, ok := decodeString(raw); ok {
		return Value{S: &s}, true
	}
	if b, ok := decodeBool(raw); ok {
		return Value{B: &b}, true
	}
	if i, ok := decodeInt(raw); ok {
		return Value{I64: &i}, true
	}
	if f, ok := decodeFloat(raw); ok {
		return Value{F64: &f}, true
	}
	return Value{}, false
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if raw == nil || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if raw == nil || json.Unmarshal(raw, &b) != nil {
		return false, false
	}
	return b, true
}

func decodeInt(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if raw == nil || json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

func decodeFloat(raw json.RawMessage) (float64, bool) {
	var n json.Number
	if raw == nil || json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// UnmarshalJSON accepts an output entry as either a bare register name
// string or an object with a reg field, as external planners produce
// both.
func (o *OutputSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Reg = s
		return nil
	}
	var obj struct {
		Reg string `json:"reg"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Reg == "" {
		return fmt.Errorf("rmvmproto: plan output missing reg")
	}
	o.Reg = obj.Reg
	return nil
}

// opWire is the on-the-wire shape of Op once the Planner Guard has
// normalized a step's operation to the unified representation: a kind
// discriminator plus the one matching variant object.
type opWire struct {
	Kind          OpKind           `json:"kind"`
	Fetch         *FetchOp         `json:"fetch,omitempty"`
	ApplySelector *ApplySelectorOp `json:"applySelector,omitempty"`
	Resolve       *ResolveOp       `json:"resolve,omitempty"`
	Filter        *FilterOp        `json:"filter,omitempty"`
	Join          *JoinOp          `json:"join,omitempty"`
	Project       *ProjectOp       `json:"project,omitempty"`
	Assert        *AssertOp        `json:"assert,omitempty"`
}

// MarshalJSON emits Op in the unified kind-tagged shape used internally
// and on the wire to the RMVM kernel.
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(opWire{
		Kind:          o.Kind,
		Fetch:         o.Fetch,
		ApplySelector: o.ApplySelector,
		Resolve:       o.Resolve,
		Filter:        o.Filter,
		Join:          o.Join,
		Project:       o.Project,
		Assert:        o.Assert,
	})
}

// UnmarshalJSON decodes the unified kind-tagged shape. Looser shapes
// (fenced JSON, proto-style top-level op-name keys) are normalized into
// this form by package planner before reaching here.
func (o *Op) UnmarshalJSON(data []byte) error {
	var w opWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case OpKindFetch:
		if w.Fetch == nil {
			return fmt.Errorf("rmvmproto: op kind fetch missing fetch body")
		}
	case OpKindApplySelector:
		if w.ApplySelector == nil {
			return fmt.Errorf("rmvmproto: op kind applySelector missing body")
		}
	case OpKindResolve:
		if w.Resolve == nil {
			return fmt.Errorf("rmvmproto: op kind resolve missing body")
		}
	case OpKindFilter:
		if w.Filter == nil {
			return fmt.Errorf("rmvmproto: op kind filter missing body")
		}
	case OpKindJoin:
		if w.Join == nil {
			return fmt.Errorf("rmvmproto: op kind join missing body")
		}
	case OpKindProject:
		if w.Project == nil {
			return fmt.Errorf("rmvmproto: op kind project missing body")
		}
	case OpKindAssert:
		if w.Assert == nil {
			return fmt.Errorf("rmvmproto: op kind assert missing body")
		}
	default:
		return fmt.Errorf("rmvmproto: unrecognized op kind %q", w.Kind)
	}
	o.Kind = w.Kind
	o.Fetch = w.Fetch
	o.ApplySelector = w.ApplySelector
	o.Resolve = w.Resolve
	o.Filter = w.Filter
	o.Join = w.Join
	o.Project = w.Project
	o.Assert = w.Assert
	return nil
}
