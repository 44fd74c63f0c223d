package rmvmproto

// Manifest is the kernel's description of what a request may read: the
// handles already bound to the caller's context, the selectors available
// to discover more, and the budget the resulting plan must respect. It is
// regenerated per request and is never persisted.
type Manifest struct {
	RequestID string        `json:"requestId"`
	Handles   []HandleRef   `json:"handles"`
	Selectors []SelectorRef `json:"selectors"`
	Budget    PlanBudget    `json:"budget"`
}

// HandleRef is one addressable unit of memory the manifest exposes.
type HandleRef struct {
	Ref          string             `json:"ref"`
	TypeID       string             `json:"typeId"`
	Availability HandleAvailability `json:"availability"`
	Meta         HandleMeta         `json:"meta"`
}

// HandleMeta carries the fields a plan's project/assert steps may bind
// against without fetching the handle's full body.
type HandleMeta struct {
	Subject         string    `json:"subject"`
	PredicateLabel  string    `json:"predicateLabel,omitempty"`
	TrustTier       TrustTier `json:"trustTier"`
	SetCount        int       `json:"setCount,omitempty"`
}

// SelectorRef is a named query the plan may invoke when no handle already
// answers the request.
type SelectorRef struct {
	Sel          string         `json:"sel"`
	Description  string         `json:"description,omitempty"`
	Params       []string       `json:"params,omitempty"`
	CostWeight   float64        `json:"costWeight"`
	ReturnType   SelectorReturn `json:"returnType"`
}

// PlanBudget bounds the shape of the plan the kernel will accept.
type PlanBudget struct {
	MaxOps       int     `json:"maxOps"`
	MaxJoinDepth int     `json:"maxJoinDepth"`
	MaxFanout    int     `json:"maxFanout"`
	MaxTotalCost float64 `json:"maxTotalCost"`
}

// Plan is the DAG of steps produced by either the deterministic
// fallback planner or an external language model, validated against a
// Manifest before being sent to the kernel's execute RPC.
type Plan struct {
	RequestID string       `json:"requestId"`
	Steps     []Step       `json:"steps"`
	Outputs   []OutputSpec `json:"outputs"`
}

// OutputSpec names a register whose final value the kernel should render.
type OutputSpec struct {
	Reg string `json:"reg"`
}

// Step binds the result of one operation to a named register so later
// steps (and the final assertion) can reference it.
type Step struct {
	Out string `json:"out"`
	Op  Op     `json:"op"`
}

// OpKind discriminates which of the seven step operations Op carries.
// Exactly one of the corresponding pointer fields is non-nil.
type OpKind string

const (
	OpKindFetch         OpKind = "fetch"
	OpKindApplySelector OpKind = "applySelector"
	OpKindResolve       OpKind = "resolve"
	OpKindFilter        OpKind = "filter"
	OpKindJoin          OpKind = "join"
	OpKindProject       OpKind = "project"
	OpKindAssert        OpKind = "assert"
)

// Op is a closed tagged union over the step kinds the Planner Guard
// understands. Decoding populates Kind and exactly one of the typed
// fields; callers should switch on Kind rather than probing fields.
type Op struct {
	Kind          OpKind
	Fetch         *FetchOp
	ApplySelector *ApplySelectorOp
	Resolve       *ResolveOp
	Filter        *FilterOp
	Join          *JoinOp
	Project       *ProjectOp
	Assert        *AssertOp
}

// FetchOp retrieves the full body of a handle already present in the
// manifest.
type FetchOp struct {
	HandleRef string `json:"handleRef"`
}

// ApplySelectorOp invokes a manifest selector with the given parameters.
type ApplySelectorOp struct {
	SelectorRef string   `json:"selectorRef"`
	Params      ParamMap `json:"params,omitempty"`
}

// ResolveOp applies a conflict-resolution policy to a prior register.
type ResolveOp struct {
	InReg    string `json:"inReg"`
	PolicyID string `json:"policyId"`
}

// FilterOp narrows a prior register's result set.
type FilterOp struct {
	InReg     string   `json:"inReg"`
	FilterRef string   `json:"filterRef"`
	Params    ParamMap `json:"params,omitempty"`
}

// JoinOp combines two prior registers along a typed edge.
type JoinOp struct {
	LeftReg  string   `json:"leftReg"`
	RightReg string   `json:"rightReg"`
	EdgeType EdgeType `json:"edgeType"`
}

// ProjectOp extracts a subset of fields from a prior register.
type ProjectOp struct {
	InReg      string   `json:"inReg"`
	FieldPaths []string `json:"fieldPaths"`
}

// AssertOp is the terminal step of a plan: it declares what kind of
// claim the plan is making and binds the evidence for it.
type AssertOp struct {
	AssertionType AssertionType       `json:"assertionType"`
	Bindings      map[string]ValueRef `json:"bindings,omitempty"`
	Citations     []CitationRef       `json:"citations,omitempty"`
}

// ValueRef points at a field on a previously computed register, e.g.
// "r1.meta.subject".
type ValueRef struct {
	Reg       string `json:"reg"`
	FieldPath string `json:"fieldPath"`
}

// CitationRef names the handle or anchor an assertion's evidence traces
// back to.
type CitationRef struct {
	HandleRef string `json:"handleRef,omitempty"`
	AnchorRef string `json:"anchorRef,omitempty"`
}

// ParamMap carries selector/filter parameters. Its decoding tolerance
// is implemented in op_json.go: tagged {s|b|i64|f64|e} objects take the
// typed variant, bare JSON scalars coerce to the matching variant, and
// entries of any other shape are dropped.
type ParamMap map[string]Value

// Value is a tagged scalar, mirroring the kernel's {s|b|i64|f64|e} wire
// shape for selector and filter parameters.
type Value struct {
	S   *string  `json:"s,omitempty"`
	B   *bool    `json:"b,omitempty"`
	I64 *int64   `json:"i64,omitempty"`
	F64 *float64 `json:"f64,omitempty"`
	E   *string  `json:"e,omitempty"`
}

// StringValue builds a string-tagged Value.
func StringValue(s string) Value { return Value{S: &s} }

// BoolValue builds a bool-tagged Value.
func BoolValue(b bool) Value { return Value{B: &b} }

// ExecuteResponse is the kernel's verdict for a submitted plan.
type ExecuteResponse struct {
	Status   ExecutionStatus  `json:"status"`
	Proof    *ProofRoots      `json:"proof,omitempty"`
	Rendered *RenderedOutput  `json:"rendered,omitempty"`
	Stall    *StallInfo       `json:"stall,omitempty"`
	Error    *ExecutionError  `json:"error,omitempty"`
}

// ProofRoots carries the two Merkle roots a caller can use to
// independently verify a successful execution.
type ProofRoots struct {
	SemanticRoot string `json:"semanticRoot"`
	TraceRoot    string `json:"traceRoot"`
}

// RenderedOutput holds the assertion text the kernel was willing to
// vouch for.
type RenderedOutput struct {
	VerifiedBlocks []string `json:"verifiedBlocks"`
}

// StallInfo identifies the handle a plan is blocked on and whether it is
// expected to become available.
type StallInfo struct {
	HandleRef    string             `json:"handleRef"`
	Availability HandleAvailability `json:"availability"`
}

// ExecutionError is the kernel's structured explanation for a rejected,
// auth-denied, or range-exceeded response.
type ExecutionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// AppendEventRequest registers a new fact with the kernel so future
// manifests can surface it as a handle.
type AppendEventRequest struct {
	RequestID      string    `json:"requestId"`
	Subject        string    `json:"subject"`
	PredicateLabel string    `json:"predicateLabel,omitempty"`
	Text           string    `json:"text"`
	TrustTier      TrustTier `json:"trustTier,omitempty"`
	Scope          Scope     `json:"scope"`
}

// AppendEventResponse reports the handle assigned to a newly appended
// event.
type AppendEventResponse struct {
	HandleRef string `json:"handleRef"`
}

// GetManifestRequest asks the kernel for the manifest visible to a given
// subject.
type GetManifestRequest struct {
	Subject   string `json:"subject"`
	RequestID string `json:"requestId"`
}

// ExecuteRequest submits a validated Plan, together with the manifest it
// was validated against, for kernel execution.
type ExecuteRequest struct {
	Manifest Manifest `json:"manifest"`
	Plan     Plan     `json:"plan"`
}

// ForgetRequest instructs the kernel to suppress a handle from future
// manifests without erasing its underlying event.
type ForgetRequest struct {
	HandleRef string `json:"handleRef"`
	Reason    string `json:"reason,omitempty"`
}

// ForgetResponse acknowledges a suppression.
type ForgetResponse struct {
	Suppressed bool `json:"suppressed"`
}
