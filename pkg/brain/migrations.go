package brain

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// initialMigration is the single migration every freshly created brain
// manifest records.
const initialMigration = "1.0.0:init"

// migrationVersion extracts and parses the semantic-version prefix of a
// "<version>:<name>" schema migration id.
func migrationVersion(id string) (*semver.Version, error) {
	v := id
	if idx := strings.IndexByte(id, ':'); idx >= 0 {
		v = id[:idx]
	}
	return semver.NewVersion(v)
}

// validateSchemaMigrations checks that a manifest's applied-migrations
// list is non-decreasing by semantic version, the order BrainStore
// expects to find on every manifest it loads.
func validateSchemaMigrations(ids []string) error {
	var prev *semver.Version
	for _, id := range ids {
		v, err := migrationVersion(id)
		if err != nil {
			return fmt.Errorf("brain: schema migration %q has non-semver version: %w", id, err)
		}
		if prev != nil && v.LessThan(prev) {
			return fmt.Errorf("brain: schema migrations out of order at %q", id)
		}
		prev = v
	}
	return nil
}
