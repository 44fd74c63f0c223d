package brain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSchemaMigrationsOrdering(t *testing.T) {
	require.NoError(t, validateSchemaMigrations(nil))
	require.NoError(t, validateSchemaMigrations([]string{"1.0.0:init", "1.1.0:add-rules", "1.1.0:backfill"}))
	require.Error(t, validateSchemaMigrations([]string{"1.1.0:add-rules", "1.0.0:init"}))
	require.Error(t, validateSchemaMigrations([]string{"not-a-version"}))
}
