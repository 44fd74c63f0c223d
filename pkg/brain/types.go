// Package brain implements the signed, encrypted-at-rest brain store: the
// durable record of a user's memory state, independent of any single
// RMVM kernel deployment. Each brain is a directory holding a signed
// manifest and an encrypted state blob, mutated only through
// BrainStore.mutate, which runs the full decrypt-apply-reseal-resign-rename
// cycle. BrainStore takes no lock; concurrent mutations of one brain may
// lose updates.
package brain

import (
	"encoding/json"
	"time"
)

// FormatVersion is the brain package/manifest format this store reads
// and writes. ImportBrain rejects a package whose package_version is any
// other value; a manifest's format_version is recorded but not checked.
const FormatVersion = "brain/v1"

// KernelProtocolVersion is the RMVM wire protocol this brain's manifests
// declare themselves compatible with.
const KernelProtocolVersion = "cortex_rmvm_v3_1"

// DefaultSecretEnvVar is the environment variable name a brain's
// passphrase is read from when CreateBrainRequest.PassphraseEnv is empty.
const DefaultSecretEnvVar = "CORTEX_BRAIN_SECRET"

// DefaultBranch is the name of the single branch a freshly created brain
// starts with.
const DefaultBranch = "main"

// MergeStrategy chooses how BrainStore.Merge reconciles a colliding
// memory object id between the source and target branches.
type MergeStrategy string

const (
	MergeOurs   MergeStrategy = "Ours"
	MergeTheirs MergeStrategy = "Theirs"
	MergeManual MergeStrategy = "Manual"
)

// BrainManifest is the signed header of a brain: everything needed to
// locate, authenticate, and decrypt its state without exposing the
// state itself. Field order here IS the signing payload shape (see
// manifestSigningPayload in signing.go) — do not reorder casually.
type BrainManifest struct {
	FormatVersion         string    `json:"format_version"`
	BrainID               string    `json:"brain_id"`
	Name                  string    `json:"name"`
	TenantID              string    `json:"tenant_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	KernelProtocolVersion string    `json:"kernel_protocol_version"`
	SchemaMigrations      []string  `json:"schema_migrations"`
	ActiveBranch          string    `json:"active_branch"`
	KdfSaltB64            string    `json:"kdf_salt_b64"`
	SigningPublicKeyB64   string    `json:"signing_public_key_b64"`
	StateSha256           string    `json:"state_sha256"`
	SecretEnvVar          string    `json:"secret_env_var"`
	SignatureB64          string    `json:"signature_b64"`
}

// EncryptedBlob mirrors cryptoutil.EncryptedBlob with brain-store-facing
// field names so the manifest JSON shape matches the on-disk format.
type EncryptedBlob struct {
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// BrainSummary is the directory-listing projection of a manifest: enough
// to pick a brain without decrypting anything.
type BrainSummary struct {
	BrainID      string    `json:"brain_id"`
	Name         string    `json:"name"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ActiveBranch string    `json:"active_branch"`
}

// BrainState is the decrypted body of a brain: the mutable memory graph
// plus the running audit trail of mutations applied to it.
type BrainState struct {
	Branches    map[string]BranchState `json:"branches"`
	Attachments []AttachmentGrant      `json:"attachments"`
	Audit       []AuditEntry           `json:"audit"`
}

// NewBrainState returns an empty state with its map initialized.
func NewBrainState() BrainState {
	return BrainState{
		Branches:    make(map[string]BranchState),
		Attachments: nil,
		Audit:       nil,
	}
}

// BranchState is one named branch of memory objects, standing rules,
// raw ledger events, and suppressions within a brain.
type BranchState struct {
	Name          string                  `json:"name"`
	MemoryObjects map[string]MemoryObject `json:"memory_objects"`
	Rules         []RuleEntry             `json:"rules"`
	Ledger        []LedgerEvent           `json:"ledger"`
	Suppressions  []SuppressionRecord     `json:"suppressions"`
}

// NewBranchState returns an empty branch with the given name.
func NewBranchState(name string) BranchState {
	return BranchState{
		Name:          name,
		MemoryObjects: make(map[string]MemoryObject),
	}
}

// clone returns a deep copy of b so callers can mutate the result without
// aliasing the original's maps and slices.
func (b BranchState) clone() BranchState {
	out := BranchState{
		Name:          b.Name,
		MemoryObjects: make(map[string]MemoryObject, len(b.MemoryObjects)),
		Rules:         append([]RuleEntry(nil), b.Rules...),
		Ledger:        append([]LedgerEvent(nil), b.Ledger...),
		Suppressions:  append([]SuppressionRecord(nil), b.Suppressions...),
	}
	for k, v := range b.MemoryObjects {
		out.MemoryObjects[k] = v
	}
	return out
}

// MemoryObject is one piece of durable memory: a fact, preference, or
// event the owner has recorded. Value is arbitrary JSON, opaque to the
// store itself.
type MemoryObject struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	Predicate  string          `json:"predicate"`
	Value      json.RawMessage `json:"value"`
	MemoryType string          `json:"memory_type"`
	Suppressed bool            `json:"suppressed"`
}

// RuleEntry is a standing instruction (a procedure or preference rule)
// attached to a branch.
type RuleEntry struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	AllowedSinks []string `json:"allowed_sinks,omitempty"`
}

// LedgerEvent is one raw append-only entry recording an operation applied
// to a branch's memory, independent of the derived MemoryObject it may
// have produced.
type LedgerEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SuppressionRecord marks a subject/predicate pair as forgotten within a
// branch: the matching objects remain on disk with Suppressed=true, never
// erased.
type SuppressionRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"ts"`
	Subject         string    `json:"subject"`
	Predicate       string    `json:"predicate"`
	Scope           string    `json:"scope"`
	Reason          string    `json:"reason"`
	SuppressedCount int       `json:"suppressed_count"`
}

// AttachmentGrant records that an external agent/model pair has been
// granted visibility into (and write access over) classes of this
// brain's memory.
type AttachmentGrant struct {
	AgentID      string     `json:"agent_id"`
	ModelID      string     `json:"model_id"`
	ReadClasses  []string   `json:"read_classes,omitempty"`
	WriteClasses []string   `json:"write_classes,omitempty"`
	Sinks        []string   `json:"sinks,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// AuditEntry is one row of the brain's own internal mutation log,
// distinct from the external audit export sink (pkg/brainaudit): it
// lives inside the encrypted state and records every mutate call applied
// to this brain.
type AuditEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// AuditQuery filters BrainStore.AuditTrace results by time range and a
// trailing-entry limit. Bounds are inclusive; an unparsable bound is
// rejected at the CLI layer, never silently ignored.
type AuditQuery struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// CreateBrainRequest is the input to BrainStore.CreateBrain.
type CreateBrainRequest struct {
	Name          string
	TenantID      string
	PassphraseEnv string
}

// MergeReport summarizes the outcome of a BrainStore.Merge: how many
// source objects were inserted or overwritten into target. A merge that
// finds conflicts returns a report with Merged 0 and the conflicting ids
// in Conflicts, together with ErrMergeConflicts wrapped in
// *MergeConflictsError, and no mutation is persisted.
type MergeReport struct {
	Merged    int      `json:"merged"`
	Conflicts []string `json:"conflicts"`
}

// BrainPackage is the self-contained export produced by ExportBrain and
// consumed by ImportBrain: the manifest plus the still-encrypted state
// and signing-key bytes, never the plaintext.
type BrainPackage struct {
	PackageVersion string        `json:"package_version"`
	Manifest       BrainManifest `json:"manifest"`
	State          EncryptedBlob `json:"state"`
	SigningKey     EncryptedBlob `json:"signing_key"`
}

// ApiKeyMapping binds the SHA-256 hash of a plaintext API key to the
// tenant, brain, and subject it authenticates.
type ApiKeyMapping struct {
	KeyHash  string `json:"key_hash"`
	TenantID string `json:"tenant_id"`
	BrainID  string `json:"brain_id"`
	Subject  string `json:"subject"`
}

// apiKeyMappings is the on-disk shape of auth/api_keys.json.
type apiKeyMappings struct {
	Mappings []ApiKeyMapping `json:"mappings"`
}

// appConfig is the on-disk shape of config.json.
type appConfig struct {
	ActiveBrain string `json:"active_brain,omitempty"`
}
