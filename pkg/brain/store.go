package brain

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexbrain/cortex/pkg/blobstore"
	"github.com/cortexbrain/cortex/pkg/cryptoutil"
)

// BrainStore owns the on-disk brain directory, the active-brain config
// file, and the API-key mapping file rooted at a single home directory.
// Every public method is a single operation that either fully succeeds
// or leaves disk state unchanged — see the mutation protocol in mutate.
type BrainStore struct {
	homeDir  string
	blobs    blobstore.Store
	observer MutationObserver
}

// MutationObserver is notified with the audit action of each entry a
// successful mutation appended, after the mutation is durably written.
type MutationObserver func(action string)

// SetObserver installs obs; pass nil to remove. Not safe to call
// concurrently with mutations.
func (s *BrainStore) SetObserver(obs MutationObserver) { s.observer = obs }

// NewBrainStore opens (creating if necessary) the brain store rooted at
// homeDir, ensuring the brains/ and auth/ subdirectories exist.
func NewBrainStore(homeDir string) (*BrainStore, error) {
	if homeDir == "" {
		return nil, fmt.Errorf("brain: home dir must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(homeDir, "brains"), 0o750); err != nil {
		return nil, fmt.Errorf("brain: create brains dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(homeDir, "auth"), 0o750); err != nil {
		return nil, fmt.Errorf("brain: create auth dir: %w", err)
	}
	return &BrainStore{homeDir: homeDir, blobs: blobstore.Default()}, nil
}

// HomeDir returns the store's root directory.
func (s *BrainStore) HomeDir() string { return s.homeDir }

func (s *BrainStore) brainsDir() string        { return filepath.Join(s.homeDir, "brains") }
func (s *BrainStore) brainDir(id string) string { return filepath.Join(s.brainsDir(), id) }
func (s *BrainStore) configPath() string       { return filepath.Join(s.homeDir, "config.json") }
func (s *BrainStore) apiKeysPath() string      { return filepath.Join(s.homeDir, "auth", "api_keys.json") }

// CreateBrain generates a fresh key pair and salt, initializes state with
// a single empty "main" branch, and atomically writes brain.json,
// state.enc, and keys/signing_key.enc under a new brain directory. The
// three files are staged in a temporary directory and published with a
// single directory rename so a crash mid-write never leaves a partial
// brain visible under brains/.
func (s *BrainStore) CreateBrain(req CreateBrainRequest) (BrainSummary, error) {
	secretEnv := req.PassphraseEnv
	if secretEnv == "" {
		secretEnv = DefaultSecretEnvVar
	}
	secret, ok := os.LookupEnv(secretEnv)
	if !ok {
		return BrainSummary{}, fmt.Errorf("%w: %s", ErrSecretMissing, secretEnv)
	}

	brainID := fmt.Sprintf("%s-%s", slugify(req.Name), uuid.NewString()[:8])

	salt := make([]byte, cryptoutil.SaltSize)
	if _, err := cryptorand.Read(salt); err != nil {
		return BrainSummary{}, fmt.Errorf("brain: generate salt: %w", err)
	}
	key, err := cryptoutil.DeriveKey([]byte(secret), salt)
	if err != nil {
		return BrainSummary{}, fmt.Errorf("brain: derive key: %w", err)
	}

	seed, err := cryptoutil.GenerateSigningSeed()
	if err != nil {
		return BrainSummary{}, fmt.Errorf("brain: generate signing key: %w", err)
	}
	pub := cryptoutil.PublicKeyFromSeed(seed)
	signingKeyBlob, err := sealSigningKey(key, brainID, seed)
	if err != nil {
		return BrainSummary{}, err
	}

	now := time.Now().UTC()
	state := NewBrainState()
	state.Branches[DefaultBranch] = NewBranchState(DefaultBranch)
	state.Audit = append(state.Audit, newAuditEntry("system", "brain.create", map[string]any{
		"brain_id":  brainID,
		"tenant_id": req.TenantID,
	}))

	stateBlob, stateHash, err := sealState(key, brainID, state)
	if err != nil {
		return BrainSummary{}, err
	}

	manifest := BrainManifest{
		FormatVersion:         FormatVersion,
		BrainID:               brainID,
		Name:                  req.Name,
		TenantID:              req.TenantID,
		CreatedAt:             now,
		UpdatedAt:             now,
		KernelProtocolVersion: KernelProtocolVersion,
		SchemaMigrations:      []string{initialMigration},
		ActiveBranch:          DefaultBranch,
		KdfSaltB64:            base64.StdEncoding.EncodeToString(salt),
		SigningPublicKeyB64:   base64.StdEncoding.EncodeToString(pub),
		StateSha256:           stateHash,
		SecretEnvVar:          secretEnv,
	}
	if err := signManifest(&manifest, seed); err != nil {
		return BrainSummary{}, err
	}

	staging, err := os.MkdirTemp(s.brainsDir(), ".staging-*")
	if err != nil {
		return BrainSummary{}, fmt.Errorf("brain: create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()
	if err := os.MkdirAll(filepath.Join(staging, "keys"), 0o750); err != nil {
		return BrainSummary{}, err
	}
	if err := writeJSON(filepath.Join(staging, "brain.json"), manifest); err != nil {
		return BrainSummary{}, err
	}
	if err := writeJSON(filepath.Join(staging, "state.enc"), stateBlob); err != nil {
		return BrainSummary{}, err
	}
	if err := writeJSON(filepath.Join(staging, "keys", "signing_key.enc"), signingKeyBlob); err != nil {
		return BrainSummary{}, err
	}
	if err := os.Rename(staging, s.brainDir(brainID)); err != nil {
		return BrainSummary{}, fmt.Errorf("brain: publish brain directory: %w", err)
	}

	return summaryOf(manifest), nil
}

// ListBrains scans the brains directory and returns the summaries of
// every entry whose manifest parses, sorted by name. Manifest signatures
// are not checked here.
func (s *BrainStore) ListBrains() ([]BrainSummary, error) {
	entries, err := os.ReadDir(s.brainsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("brain: list brains: %w", err)
	}
	var out []BrainSummary
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		manifestPath := filepath.Join(s.brainsDir(), entry.Name(), "brain.json")
		var manifest BrainManifest
		if err := readJSON(manifestPath, &manifest); err != nil {
			continue
		}
		out = append(out, summaryOf(manifest))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetActiveBrain resolves ref and records it as the store's default brain
// in config.json.
func (s *BrainStore) SetActiveBrain(ref string) (BrainSummary, error) {
	summary, err := s.resolveBrain(ref)
	if err != nil {
		return BrainSummary{}, err
	}
	cfg, err := s.readConfig()
	if err != nil {
		return BrainSummary{}, err
	}
	cfg.ActiveBrain = summary.BrainID
	if err := writeJSONAtomic(s.homeDir, s.configPath(), cfg); err != nil {
		return BrainSummary{}, err
	}
	return summary, nil
}

// ResolveBrainOrActive resolves ref if non-empty; otherwise it tries the
// CORTEX_BRAIN environment variable, then the active brain recorded in
// config.json, failing with ErrNoActiveBrain if neither is set.
func (s *BrainStore) ResolveBrainOrActive(ref string) (BrainSummary, error) {
	if ref != "" {
		return s.resolveBrain(ref)
	}
	if v, ok := os.LookupEnv("CORTEX_BRAIN"); ok && strings.TrimSpace(v) != "" {
		return s.resolveBrain(strings.TrimSpace(v))
	}
	cfg, err := s.readConfig()
	if err != nil {
		return BrainSummary{}, err
	}
	if cfg.ActiveBrain == "" {
		return BrainSummary{}, ErrNoActiveBrain
	}
	return s.resolveBrain(cfg.ActiveBrain)
}

// resolveBrain finds the brain whose id or name equals ref.
func (s *BrainStore) resolveBrain(ref string) (BrainSummary, error) {
	all, err := s.ListBrains()
	if err != nil {
		return BrainSummary{}, err
	}
	for _, b := range all {
		if b.BrainID == ref || b.Name == ref {
			return b, nil
		}
	}
	return BrainSummary{}, fmt.Errorf("%w: %s", ErrBrainNotFound, ref)
}

// ExportBrain re-verifies the manifest signature, re-computes
// state_sha256 over the encrypted state exactly as persisted, and writes
// a BrainPackage to dest. dest may be a local path or an s3:// URI.
func (s *BrainStore) ExportBrain(ref, dest string) error {
	summary, err := s.resolveBrain(ref)
	if err != nil {
		return err
	}
	dir := s.brainDir(summary.BrainID)

	var manifest BrainManifest
	if err := readJSON(filepath.Join(dir, "brain.json"), &manifest); err != nil {
		return err
	}
	if err := verifyManifest(manifest); err != nil {
		return err
	}
	var stateBlob EncryptedBlob
	if err := readJSON(filepath.Join(dir, "state.enc"), &stateBlob); err != nil {
		return err
	}
	sum, err := stateChecksum(stateBlob)
	if err != nil {
		return err
	}
	if sum != manifest.StateSha256 {
		return ErrStateChecksumMismatch
	}
	var signingBlob EncryptedBlob
	if err := readJSON(filepath.Join(dir, "keys", "signing_key.enc"), &signingBlob); err != nil {
		return err
	}

	pkg := BrainPackage{
		PackageVersion: FormatVersion,
		Manifest:       manifest,
		State:          stateBlob,
		SigningKey:     signingBlob,
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("brain: marshal package: %w", err)
	}
	if err := s.blobs.Put(context.Background(), dest, data); err != nil {
		return err
	}
	return nil
}

// ImportBrain reads a BrainPackage from src (a local path or s3:// URI),
// verifies its signature and state checksum, and — unless verifyOnly —
// installs it as a new brain. If the package's brain id collides with an
// existing brain, a random suffix is appended and, per the mandatory
// re-signing rule, the signing key and state are reopened and resealed
// under the new id and the manifest is re-signed; the same happens when
// nameOverride changes the manifest. src requires no secret unless a
// collision or rename forces a reseal.
func (s *BrainStore) ImportBrain(src, nameOverride string, verifyOnly bool) (*BrainSummary, error) {
	data, err := s.blobs.Get(context.Background(), src)
	if err != nil {
		return nil, fmt.Errorf("brain: read package: %w", err)
	}
	var pkg BrainPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("brain: parse package: %w", err)
	}
	if pkg.PackageVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPackageVersion, pkg.PackageVersion)
	}
	if err := verifyManifest(pkg.Manifest); err != nil {
		return nil, err
	}
	sum, err := stateChecksum(pkg.State)
	if err != nil {
		return nil, err
	}
	if sum != pkg.Manifest.StateSha256 {
		return nil, ErrStateChecksumMismatch
	}
	if verifyOnly {
		return nil, nil
	}

	manifest := pkg.Manifest
	originalBrainID := manifest.BrainID
	stateBlob := pkg.State
	signingBlob := pkg.SigningKey
	renamed := false

	if nameOverride != "" {
		manifest.Name = nameOverride
		manifest.UpdatedAt = time.Now().UTC()
		renamed = true
	}

	target := s.brainDir(manifest.BrainID)
	collided := false
	if _, err := os.Stat(target); err == nil {
		collided = true
		manifest.BrainID = fmt.Sprintf("%s-%s", manifest.BrainID, uuid.NewString()[:6])
		target = s.brainDir(manifest.BrainID)
	}

	if collided || renamed {
		secret, ok := os.LookupEnv(manifest.SecretEnvVar)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSecretMissing, manifest.SecretEnvVar)
		}
		salt, err := base64.StdEncoding.DecodeString(manifest.KdfSaltB64)
		if err != nil {
			return nil, fmt.Errorf("brain: decode kdf salt: %w", err)
		}
		key, err := cryptoutil.DeriveKey([]byte(secret), salt)
		if err != nil {
			return nil, fmt.Errorf("brain: derive key: %w", err)
		}
		seed, err := openSigningKey(key, originalBrainID, pkg.SigningKey)
		if err != nil {
			return nil, err
		}
		plainState, err := openStateBytes(key, originalBrainID, pkg.Manifest.StateSha256, pkg.State)
		if err != nil {
			return nil, err
		}
		newStateBlob, newHash, err := sealStateBytes(key, manifest.BrainID, plainState)
		if err != nil {
			return nil, err
		}
		newSigningBlob, err := sealSigningKey(key, manifest.BrainID, seed)
		if err != nil {
			return nil, err
		}
		manifest.StateSha256 = newHash
		if err := signManifest(&manifest, seed); err != nil {
			return nil, err
		}
		stateBlob = newStateBlob
		signingBlob = newSigningBlob
	}

	if err := os.MkdirAll(filepath.Join(target, "keys"), 0o750); err != nil {
		return nil, fmt.Errorf("brain: create brain dir: %w", err)
	}
	if err := writeJSON(filepath.Join(target, "brain.json"), manifest); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(target, "state.enc"), stateBlob); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(target, "keys", "signing_key.enc"), signingBlob); err != nil {
		return nil, err
	}

	summary := summaryOf(manifest)
	return &summary, nil
}

// Branch copies the currently active branch into a new branch with the
// given name.
func (s *BrainStore) Branch(ref, newBranch string) error {
	return s.mutate(ref, func(manifest *BrainManifest, state *BrainState) error {
		if _, exists := state.Branches[newBranch]; exists {
			return fmt.Errorf("%w: %s", ErrBranchExists, newBranch)
		}
		source, ok := state.Branches[manifest.ActiveBranch]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, manifest.ActiveBranch)
		}
		cloned := source.clone()
		cloned.Name = newBranch
		state.Branches[newBranch] = cloned
		state.Audit = append(state.Audit, newAuditEntry("user", "brain.branch", map[string]any{
			"from": manifest.ActiveBranch,
			"to":   newBranch,
		}))
		return nil
	})
}

// Merge reconciles every memory object id present in source into target
// according to strategy. The dry-run pass below means no object from
// source is inserted into target unless the whole merge can succeed:
// conflicts are detected before any write to target.MemoryObjects.
func (s *BrainStore) Merge(ref, source, target string, strategy MergeStrategy) (MergeReport, error) {
	var report MergeReport
	err := s.mutate(ref, func(_ *BrainManifest, state *BrainState) error {
		srcBranch, ok := state.Branches[source]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, source)
		}
		tgtBranch, ok := state.Branches[target]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, target)
		}

		ids := make([]string, 0, len(srcBranch.MemoryObjects))
		for id := range srcBranch.MemoryObjects {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		planned := make(map[string]MemoryObject)
		var conflicts []string
		merged := 0
		for _, id := range ids {
			srcObj := srcBranch.MemoryObjects[id]
			dstObj, exists := tgtBranch.MemoryObjects[id]
			switch {
			case !exists:
				planned[id] = srcObj
				merged++
			case valuesEqual(dstObj.Value, srcObj.Value) && dstObj.Suppressed == srcObj.Suppressed:
				// identical, nothing to do
			default:
				switch strategy {
				case MergeOurs:
					// keep target, do nothing
				case MergeTheirs:
					planned[id] = srcObj
					merged++
				case MergeManual:
					conflicts = append(conflicts, id)
				default:
					return fmt.Errorf("brain: unknown merge strategy %q", strategy)
				}
			}
		}

		if len(conflicts) > 0 {
			return &MergeConflictsError{Conflicts: conflicts}
		}

		for id, obj := range planned {
			tgtBranch.MemoryObjects[id] = obj
		}
		state.Branches[target] = tgtBranch

		report = MergeReport{Merged: merged, Conflicts: nil}
		state.Audit = append(state.Audit, newAuditEntry("user", "brain.merge", map[string]any{
			"source": source,
			"target": target,
			"merged": merged,
		}))
		return nil
	})
	if err != nil {
		var conflictErr *MergeConflictsError
		if errors.As(err, &conflictErr) {
			return MergeReport{Merged: 0, Conflicts: conflictErr.Conflicts}, err
		}
		return MergeReport{}, err
	}
	return report, nil
}

// ForgetSuppress sets suppressed=true on every unsuppressed object in the
// active branch matching subject and predicate, records a
// SuppressionRecord, and appends an audit entry. It returns the number of
// objects whose flag actually flipped; calling it again for the same
// subject/predicate returns 0.
func (s *BrainStore) ForgetSuppress(ref, subject, predicate, scope, reason string) (int, error) {
	count := 0
	err := s.mutate(ref, func(manifest *BrainManifest, state *BrainState) error {
		branch, ok := state.Branches[manifest.ActiveBranch]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, manifest.ActiveBranch)
		}
		ids := make([]string, 0, len(branch.MemoryObjects))
		for id := range branch.MemoryObjects {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			obj := branch.MemoryObjects[id]
			if obj.Subject == subject && obj.Predicate == predicate && !obj.Suppressed {
				obj.Suppressed = true
				branch.MemoryObjects[id] = obj
				count++
			}
		}
		branch.Suppressions = append(branch.Suppressions, SuppressionRecord{
			ID:              uuid.NewString(),
			Timestamp:       time.Now().UTC(),
			Subject:         subject,
			Predicate:       predicate,
			Scope:           scope,
			Reason:          reason,
			SuppressedCount: count,
		})
		state.Branches[manifest.ActiveBranch] = branch
		state.Audit = append(state.Audit, newAuditEntry("user", "brain.forget.suppress", map[string]any{
			"subject":    subject,
			"predicate":  predicate,
			"scope":      scope,
			"suppressed": count,
		}))
		return nil
	})
	return count, err
}

// Attach replaces any existing grant for the same (agent, model) pair and
// appends grant.
func (s *BrainStore) Attach(ref string, grant AttachmentGrant) error {
	return s.mutate(ref, func(_ *BrainManifest, state *BrainState) error {
		filtered := state.Attachments[:0:0]
		for _, a := range state.Attachments {
			if a.AgentID == grant.AgentID && a.ModelID == grant.ModelID {
				continue
			}
			filtered = append(filtered, a)
		}
		state.Attachments = append(filtered, grant)
		state.Audit = append(state.Audit, newAuditEntry("user", "brain.attach", map[string]any{
			"agent": grant.AgentID,
			"model": grant.ModelID,
		}))
		return nil
	})
}

// Detach removes grants matching agent (and model, when non-empty),
// returning the number removed.
func (s *BrainStore) Detach(ref, agent, model string) (int, error) {
	removed := 0
	err := s.mutate(ref, func(_ *BrainManifest, state *BrainState) error {
		filtered := state.Attachments[:0:0]
		for _, a := range state.Attachments {
			hit := a.AgentID == agent && (model == "" || a.ModelID == model)
			if hit {
				removed++
				continue
			}
			filtered = append(filtered, a)
		}
		state.Attachments = filtered
		state.Audit = append(state.Audit, newAuditEntry("user", "brain.detach", map[string]any{
			"agent":   agent,
			"model":   model,
			"removed": removed,
		}))
		return nil
	})
	return removed, err
}

// AuditTrace returns a brain's internal audit trail, most-recent-last,
// filtered by query when Since/Until/Limit are set. An unparsable time
// bound is the caller's problem to avoid constructing; every non-nil
// bound is applied as given, so a zero Until excludes every entry.
// AuditTrace itself never silently ignores a supplied bound.
func (s *BrainStore) AuditTrace(ref string, query AuditQuery) ([]AuditEntry, error) {
	summary, err := s.resolveBrain(ref)
	if err != nil {
		return nil, err
	}
	manifest, state, err := s.loadForRead(s.brainDir(summary.BrainID))
	if err != nil {
		return nil, err
	}
	_ = manifest
	out := make([]AuditEntry, 0, len(state.Audit))
	for _, e := range state.Audit {
		if query.Since != nil && e.Timestamp.Before(*query.Since) {
			continue
		}
		if query.Until != nil && e.Timestamp.After(*query.Until) {
			continue
		}
		out = append(out, e)
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[len(out)-query.Limit:]
	}
	return out, nil
}

// MapApiKey replaces any mapping with the same key hash and appends a
// fresh one.
func (s *BrainStore) MapApiKey(plain, tenantID, brainID, subject string) error {
	mappings, err := s.readApiMappings()
	if err != nil {
		return err
	}
	hash := cryptoutil.SHA256Hex([]byte(plain))
	filtered := mappings.Mappings[:0:0]
	for _, m := range mappings.Mappings {
		if m.KeyHash == hash {
			continue
		}
		filtered = append(filtered, m)
	}
	mappings.Mappings = append(filtered, ApiKeyMapping{
		KeyHash:  hash,
		TenantID: tenantID,
		BrainID:  brainID,
		Subject:  subject,
	})
	return writeJSONAtomic(filepath.Dir(s.apiKeysPath()), s.apiKeysPath(), mappings)
}

// ResolveApiKey looks up the mapping for the SHA-256 hash of plain. found
// is false (with a nil error) when no mapping matches.
func (s *BrainStore) ResolveApiKey(plain string) (mapping ApiKeyMapping, found bool, err error) {
	mappings, err := s.readApiMappings()
	if err != nil {
		return ApiKeyMapping{}, false, err
	}
	hash := cryptoutil.SHA256Hex([]byte(plain))
	for _, m := range mappings.Mappings {
		if m.KeyHash == hash {
			return m, true, nil
		}
	}
	return ApiKeyMapping{}, false, nil
}

// --- mutation protocol ---

// mutate implements the atomic update protocol described in §4.2: load +
// verify, call the closure over (manifest, state), and on success reseal
// + rehash + resign + write-then-rename both files. If fn returns an
// error, nothing is written.
func (s *BrainStore) mutate(ref string, fn func(*BrainManifest, *BrainState) error) error {
	summary, err := s.ResolveBrainOrActive(ref)
	if err != nil {
		return err
	}
	dir := s.brainDir(summary.BrainID)

	manifest, state, seed, err := s.loadForMutate(dir)
	if err != nil {
		return err
	}

	auditLen := len(state.Audit)
	if err := fn(&manifest, &state); err != nil {
		return err
	}

	manifest.UpdatedAt = time.Now().UTC()
	secret, ok := os.LookupEnv(manifest.SecretEnvVar)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSecretMissing, manifest.SecretEnvVar)
	}
	salt, err := base64.StdEncoding.DecodeString(manifest.KdfSaltB64)
	if err != nil {
		return fmt.Errorf("brain: decode kdf salt: %w", err)
	}
	key, err := cryptoutil.DeriveKey([]byte(secret), salt)
	if err != nil {
		return fmt.Errorf("brain: derive key: %w", err)
	}
	stateBlob, stateHash, err := sealState(key, manifest.BrainID, state)
	if err != nil {
		return err
	}
	manifest.StateSha256 = stateHash
	if err := signManifest(&manifest, seed); err != nil {
		return err
	}

	if err := writeJSONAtomic(dir, filepath.Join(dir, "brain.json"), manifest); err != nil {
		return err
	}
	if err := writeJSONAtomic(dir, filepath.Join(dir, "state.enc"), stateBlob); err != nil {
		return err
	}
	if s.observer != nil {
		for _, e := range state.Audit[auditLen:] {
			s.observer(e.Action)
		}
	}
	return nil
}

// loadForMutate reads and verifies a brain directory's manifest, decrypts
// its state and signing key, and returns all three.
func (s *BrainStore) loadForMutate(dir string) (BrainManifest, BrainState, [cryptoutil.SigningSeedSize]byte, error) {
	var seed [cryptoutil.SigningSeedSize]byte
	manifest, key, err := s.loadManifestAndKey(dir)
	if err != nil {
		return BrainManifest{}, BrainState{}, seed, err
	}
	var stateBlob EncryptedBlob
	if err := readJSON(filepath.Join(dir, "state.enc"), &stateBlob); err != nil {
		return BrainManifest{}, BrainState{}, seed, err
	}
	state, err := openState(key, manifest.BrainID, manifest, stateBlob)
	if err != nil {
		return BrainManifest{}, BrainState{}, seed, err
	}
	var signingBlob EncryptedBlob
	if err := readJSON(filepath.Join(dir, "keys", "signing_key.enc"), &signingBlob); err != nil {
		return BrainManifest{}, BrainState{}, seed, err
	}
	seed, err = openSigningKey(key, manifest.BrainID, signingBlob)
	if err != nil {
		return BrainManifest{}, BrainState{}, seed, err
	}
	return manifest, state, seed, nil
}

// loadForRead reads and verifies a brain directory's manifest and
// decrypts its state, without touching the signing key.
func (s *BrainStore) loadForRead(dir string) (BrainManifest, BrainState, error) {
	manifest, key, err := s.loadManifestAndKey(dir)
	if err != nil {
		return BrainManifest{}, BrainState{}, err
	}
	var stateBlob EncryptedBlob
	if err := readJSON(filepath.Join(dir, "state.enc"), &stateBlob); err != nil {
		return BrainManifest{}, BrainState{}, err
	}
	state, err := openState(key, manifest.BrainID, manifest, stateBlob)
	if err != nil {
		return BrainManifest{}, BrainState{}, err
	}
	return manifest, state, nil
}

func (s *BrainStore) loadManifestAndKey(dir string) (BrainManifest, [cryptoutil.KeySize]byte, error) {
	var key [cryptoutil.KeySize]byte
	var manifest BrainManifest
	if err := readJSON(filepath.Join(dir, "brain.json"), &manifest); err != nil {
		return manifest, key, err
	}
	if err := verifyManifest(manifest); err != nil {
		return manifest, key, err
	}
	secret, ok := os.LookupEnv(manifest.SecretEnvVar)
	if !ok {
		return manifest, key, fmt.Errorf("%w: %s", ErrSecretMissing, manifest.SecretEnvVar)
	}
	salt, err := base64.StdEncoding.DecodeString(manifest.KdfSaltB64)
	if err != nil {
		return manifest, key, fmt.Errorf("brain: decode kdf salt: %w", err)
	}
	key, err = cryptoutil.DeriveKey([]byte(secret), salt)
	if err != nil {
		return manifest, key, fmt.Errorf("brain: derive key: %w", err)
	}
	return manifest, key, nil
}

func (s *BrainStore) readConfig() (appConfig, error) {
	var cfg appConfig
	if _, err := os.Stat(s.configPath()); os.IsNotExist(err) {
		return appConfig{}, nil
	}
	if err := readJSON(s.configPath(), &cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func (s *BrainStore) readApiMappings() (apiKeyMappings, error) {
	var m apiKeyMappings
	if _, err := os.Stat(s.apiKeysPath()); os.IsNotExist(err) {
		return apiKeyMappings{}, nil
	}
	if err := readJSON(s.apiKeysPath(), &m); err != nil {
		return apiKeyMappings{}, err
	}
	return m, nil
}

// --- helpers ---

func summaryOf(m BrainManifest) BrainSummary {
	return BrainSummary{
		BrainID:      m.BrainID,
		Name:         m.Name,
		TenantID:     m.TenantID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ActiveBranch: m.ActiveBranch,
	}
}

func newAuditEntry(actor, action string, details map[string]any) AuditEntry {
	data, _ := json.Marshal(details)
	return AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Details:   data,
	}
}

// valuesEqual compares two arbitrary JSON values for structural equality,
// independent of key order or formatting.
func valuesEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

// slugify lowercases input and collapses any run of non-alphanumeric
// characters into a single hyphen, trimming leading/trailing hyphens.
func slugify(input string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(input) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("brain: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("brain: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONAtomic writes v to path via a temp file in dir followed by a
// rename, so a crash mid-write never leaves a half-updated file in place.
func writeJSONAtomic(dir, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("brain: marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("brain: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("brain: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("brain: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("brain: rename into place: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("brain: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("brain: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
