// Package rmvmproto defines the wire types exchanged with the RMVM kernel:
// the per-request Manifest of handles and selectors, the Plan DAG the
// kernel executes, and the ExecuteResponse carrying proof roots and
// rendered content. These are kernel-authoritative shapes, distinct from
// the signed, persisted Brain Manifest in package brain.
package rmvmproto

// HandleAvailability describes whether a handle's backing memory is ready
// to be fetched.
type HandleAvailability string

const (
	HandleAvailabilityUnspecified HandleAvailability = "AVAILABILITY_UNSPECIFIED"
	HandleAvailabilityReady       HandleAvailability = "READY"
	HandleAvailabilityPending     HandleAvailability = "PENDING"
)

// TrustTier is the kernel's confidence classification for a handle.
type TrustTier string

const (
	TrustTierUnspecified    TrustTier = "TRUST_TIER_UNSPECIFIED"
	TrustTier1Unconfirmed   TrustTier = "TIER_1_UNCONFIRMED"
	TrustTier2SelfReported  TrustTier = "TIER_2_SELF_REPORTED"
	TrustTier3Confirmed     TrustTier = "TIER_3_CONFIRMED"
)

// Scope is the visibility domain of an appended event, handle, or
// suppression.
type Scope string

const (
	ScopeUnspecified Scope = "SCOPE_UNSPECIFIED"
	ScopeGlobal      Scope = "SCOPE_GLOBAL"
	ScopeSession     Scope = "SCOPE_SESSION"
)

// SelectorReturn is the shape a selector's output takes.
type SelectorReturn string

const (
	SelectorReturnUnspecified SelectorReturn = "RETURN_UNSPECIFIED"
	SelectorReturnHandleSet   SelectorReturn = "RETURN_HANDLE_SET"
	SelectorReturnScalar      SelectorReturn = "RETURN_SCALAR"
)

// AssertionType is the closed set of assertion kinds a plan's assert step
// may produce.
type AssertionType string

const (
	AssertionUnspecified          AssertionType = "ASSERTION_UNSPECIFIED"
	AssertUserPreference          AssertionType = "ASSERT_USER_PREFERENCE"
	AssertWorldFact               AssertionType = "ASSERT_WORLD_FACT"
	AssertDecision                AssertionType = "ASSERT_DECISION"
	AssertProcedure               AssertionType = "ASSERT_PROCEDURE"
	AssertConflictExplanation     AssertionType = "ASSERT_CONFLICT_EXPLANATION"
)

// ValidAssertionTypes is the closed set accepted by the Planner Guard.
var ValidAssertionTypes = map[AssertionType]bool{
	AssertUserPreference:      true,
	AssertWorldFact:           true,
	AssertDecision:            true,
	AssertProcedure:           true,
	AssertConflictExplanation: true,
}

// EdgeType is the closed set of relationship kinds a join step may express.
type EdgeType string

const (
	EdgeUnspecified     EdgeType = "EDGE_UNSPECIFIED"
	EdgeConflictsWith   EdgeType = "EDGE_CONFLICTS_WITH"
	EdgeSupersedes      EdgeType = "EDGE_SUPERSEDES"
	EdgeProvenance      EdgeType = "EDGE_PROVENANCE"
	EdgeSameEntity      EdgeType = "EDGE_SAME_ENTITY"
)

// ValidEdgeTypes is the closed set accepted by the Planner Guard.
var ValidEdgeTypes = map[EdgeType]bool{
	EdgeConflictsWith: true,
	EdgeSupersedes:    true,
	EdgeProvenance:    true,
	EdgeSameEntity:    true,
}

// ExecutionStatus is the kernel's verdict on an execute() call.
type ExecutionStatus string

const (
	ExecutionUnspecified    ExecutionStatus = "UNSPECIFIED"
	ExecutionOk             ExecutionStatus = "OK"
	ExecutionRejected       ExecutionStatus = "REJECTED"
	ExecutionStall          ExecutionStatus = "STALL"
	ExecutionAuthDenied     ExecutionStatus = "AUTH_DENIED"
	ExecutionRangeExceeded  ExecutionStatus = "RANGE_EXCEEDED"
)

// ErrorCode is the kernel's structured error classification, surfaced
// verbatim to callers in both the response body and the
// X-Cortex-Error-Code header.
type ErrorCode string

const (
	ErrorCodeUnspecified ErrorCode = "UNSPECIFIED"
)
