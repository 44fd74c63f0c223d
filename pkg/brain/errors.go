package brain

import "errors"

var (
	// ErrBrainNotFound is returned when a brain ref has no corresponding
	// directory under the store root.
	ErrBrainNotFound = errors.New("brain: brain not found")
	// ErrNoActiveBrain is returned when ResolveBrainOrActive is called
	// with no ref, no CORTEX_BRAIN, and no active brain set in config.
	ErrNoActiveBrain = errors.New("brain: no active brain set")
	// ErrSignatureInvalid is returned when a loaded manifest's signature
	// does not verify against its own published public key.
	ErrSignatureInvalid = errors.New("brain: manifest signature invalid")
	// ErrStateChecksumMismatch is returned when an encrypted state blob's
	// hash (checked before decryption, on load, export, or import) does
	// not match the manifest's recorded state_sha256.
	ErrStateChecksumMismatch = errors.New("brain: state checksum mismatch")
	// ErrApiKeyNotFound names the unmapped-bearer-token condition.
	// ResolveApiKey itself reports an unmapped key as found=false with a
	// nil error and does not return this sentinel.
	ErrApiKeyNotFound = errors.New("brain: api key not mapped")
	// ErrBranchNotFound is returned when an operation names a branch that
	// does not exist in the target brain's state.
	ErrBranchNotFound = errors.New("brain: branch not found")
	// ErrBranchExists is returned by Branch when the requested new branch
	// name already exists.
	ErrBranchExists = errors.New("brain: branch already exists")
	// ErrMergeConflicts is returned (wrapped in *MergeConflictsError) when
	// a Manual-strategy merge finds unresolved key collisions; no
	// mutation is applied.
	ErrMergeConflicts = errors.New("brain: merge has unresolved conflicts")
	// ErrInvalidSecret is returned when the derived key fails to open
	// either the state or signing-key blob, i.e. a wrong owner secret.
	ErrInvalidSecret = errors.New("brain: secret does not unlock this brain")
	// ErrSecretMissing is returned when the environment variable a
	// brain's manifest names as its secret source is unset. Mutation
	// functions must surface this rather than prompting.
	ErrSecretMissing = errors.New("brain: passphrase environment variable not set")
	// ErrInvalidPackageVersion is returned when an imported BrainPackage
	// declares a package_version this store does not understand.
	ErrInvalidPackageVersion = errors.New("brain: unsupported package version")
)

// MergeConflictsError wraps ErrMergeConflicts with the set of memory
// object ids a Manual-strategy merge could not resolve.
type MergeConflictsError struct {
	Conflicts []string
}

func (e *MergeConflictsError) Error() string {
	return ErrMergeConflicts.Error()
}

func (e *MergeConflictsError) Unwrap() error {
	return ErrMergeConflicts
}
