package cortexconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, PlannerModeFallback, cfg.PlannerMode)
	require.Equal(t, "localhost:7443", cfg.RMVMEndpoint)
	require.Equal(t, 10, cfg.PlannerTimeoutSeconds)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CORTEX_PLANNER_MODE", "openai")
	t.Setenv("CORTEX_RMVM_ENDPOINT", "rmvm.example.com:9443")
	t.Setenv("CORTEX_RATE_LIMIT_RPS", "12.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, PlannerModeOpenAI, cfg.PlannerMode)
	require.Equal(t, "rmvm.example.com:9443", cfg.RMVMEndpoint)
	require.Equal(t, 12.5, cfg.RateLimitRPS)
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	overlayPath := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte("planner_mode: byo_header\nrate_limit_rps: 99\n"), 0o600))
	t.Setenv("CORTEX_CONFIG_FILE", overlayPath)
	t.Setenv("CORTEX_PLANNER_MODE", "openai")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, PlannerModeByoHeader, cfg.PlannerMode, "overlay must win over environment")
	require.Equal(t, 99.0, cfg.RateLimitRPS)
}
