package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexbrain/cortex/pkg/brain"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CORTEX_HOME", home)
	t.Setenv("CORTEX_BRAIN", "")
	t.Setenv("CORTEX_BRAIN_SECRET", "cli-test-secret")
	return home
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"cortex"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "explode")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "Unknown command")
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"cortex"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "Usage")
}

func TestServeDispatchesToStartServer(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()
	called := false
	startServer = func(io.Writer) int { called = true; return 0 }

	code, _, _ := runCLI(t, "serve")
	require.Equal(t, 0, code)
	require.True(t, called)
}

func TestCreateListUseFlow(t *testing.T) {
	setupHome(t)

	code, stdout, stderr := runCLI(t, "create", "--name", "demo", "--tenant", "tenant-a")
	require.Equal(t, 0, code, stderr)

	var summary brain.BrainSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	require.Equal(t, "demo", summary.Name)
	require.Equal(t, "tenant-a", summary.TenantID)
	require.Equal(t, "main", summary.ActiveBranch)

	code, stdout, _ = runCLI(t, "list")
	require.Equal(t, 0, code)
	var summaries []brain.BrainSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summaries))
	require.Len(t, summaries, 1)

	code, stdout, _ = runCLI(t, "use", "demo")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "Active brain: demo")
}

func TestCreateRequiresFlags(t *testing.T) {
	setupHome(t)
	code, _, stderr := runCLI(t, "create", "--name", "demo")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "--tenant")
}

func TestBranchForgetMergeAuditFlow(t *testing.T) {
	setupHome(t)

	code, _, stderr := runCLI(t, "create", "--name", "demo", "--tenant", "tenant-a")
	require.Equal(t, 0, code, stderr)
	code, _, _ = runCLI(t, "use", "demo")
	require.Equal(t, 0, code)

	code, stdout, stderr := runCLI(t, "branch", "exp-a")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Created branch exp-a")

	code, stdout, stderr = runCLI(t, "attach",
		"--agent", "agent-1", "--model", "gpt-test",
		"--read", "normative.preference", "--write", "normative.preference", "--sinks", "none")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Attached agent-1/gpt-test")

	code, stdout, stderr = runCLI(t, "forget",
		"--subject", "user:x", "--predicate", "prefers_beverage",
		"--scope", "SCOPE_GLOBAL", "--reason", "test")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Suppressed 0 object(s)")

	code, stdout, stderr = runCLI(t, "merge", "--source", "exp-a", "--target", "main", "--strategy", "Ours")
	require.Equal(t, 0, code, stderr)
	var report brain.MergeReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Equal(t, 0, report.Merged)
	require.Empty(t, report.Conflicts)

	code, stdout, stderr = runCLI(t, "audit")
	require.Equal(t, 0, code, stderr)
	var entries []brain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"brain.create", "brain.branch", "brain.attach", "brain.forget.suppress", "brain.merge"}, actions)
}

func TestExportImportVerifyOnly(t *testing.T) {
	home := setupHome(t)

	code, _, stderr := runCLI(t, "create", "--name", "demo", "--tenant", "tenant-a")
	require.Equal(t, 0, code, stderr)
	code, _, _ = runCLI(t, "use", "demo")
	require.Equal(t, 0, code)

	pkgPath := filepath.Join(home, "demo.cbrain")
	code, _, stderr = runCLI(t, "export", "--out", pkgPath)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := runCLI(t, "import", "--verify-only", pkgPath)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Package verified")

	code, stdout, stderr = runCLI(t, "import", "--name", "demo-copy", pkgPath)
	require.Equal(t, 0, code, stderr)
	var summary brain.BrainSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	require.Equal(t, "demo-copy", summary.Name)
}

func TestMapKeyFlow(t *testing.T) {
	setupHome(t)

	code, _, stderr := runCLI(t, "create", "--name", "demo", "--tenant", "tenant-a")
	require.Equal(t, 0, code, stderr)
	code, _, _ = runCLI(t, "use", "demo")
	require.Equal(t, 0, code)

	code, stdout, stderr := runCLI(t, "map-key",
		"--key", "sk-cli-test", "--tenant", "tenant-a", "--subject", "user:alice")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Mapped key for user:alice")
}
