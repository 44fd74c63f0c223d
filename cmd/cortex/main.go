// Command cortex is the brain owner's CLI: create, inspect, branch,
// merge, export, and attach brains; map API keys; and run the
// OpenAI-compatible proxy in front of an RMVM kernel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cortexbrain/cortex/pkg/brain"
	"github.com/cortexbrain/cortex/pkg/brainaudit"
	"github.com/cortexbrain/cortex/pkg/cortexconfig"
	"github.com/cortexbrain/cortex/pkg/proxyserver"
	"github.com/cortexbrain/cortex/pkg/telemetry"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServe

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "create":
		return runCreate(args[2:], stdout, stderr)
	case "list", "ls":
		return runList(stdout, stderr)
	case "use":
		return runUse(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "import":
		return runImport(args[2:], stdout, stderr)
	case "branch":
		return runBranch(args[2:], stdout, stderr)
	case "merge":
		return runMerge(args[2:], stdout, stderr)
	case "forget":
		return runForget(args[2:], stdout, stderr)
	case "attach":
		return runAttach(args[2:], stdout, stderr)
	case "detach":
		return runDetach(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "map-key":
		return runMapKey(args[2:], stdout, stderr)
	case "serve", "proxy":
		return startServer(stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: cortex <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Brain commands:")
	fmt.Fprintln(w, "  create    Create a new brain")
	fmt.Fprintln(w, "  list      List brains in the store")
	fmt.Fprintln(w, "  use       Set the active brain")
	fmt.Fprintln(w, "  export    Export a brain package (file path or s3:// URI)")
	fmt.Fprintln(w, "  import    Import (or verify) a brain package")
	fmt.Fprintln(w, "  branch    Copy the active branch under a new name")
	fmt.Fprintln(w, "  merge     Merge one branch into another")
	fmt.Fprintln(w, "  forget    Suppress matching memory objects")
	fmt.Fprintln(w, "  attach    Grant an agent/model access")
	fmt.Fprintln(w, "  detach    Revoke agent/model grants")
	fmt.Fprintln(w, "  audit     Print (and optionally export) the audit trail")
	fmt.Fprintln(w, "  map-key   Map a plaintext API key to a tenant/brain/subject")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Proxy commands:")
	fmt.Fprintln(w, "  serve     Run the OpenAI-compatible proxy")
}

// openStore loads config and opens the brain store it names, with
// mutation metrics attached.
func openStore() (*brain.BrainStore, cortexconfig.Config, error) {
	cfg, err := cortexconfig.Load()
	if err != nil {
		return nil, cortexconfig.Config{}, err
	}
	store, err := brain.NewBrainStore(cfg.Home)
	if err != nil {
		return nil, cortexconfig.Config{}, err
	}
	if tel, err := telemetry.Init("cortex-cli"); err == nil {
		store.SetObserver(func(action string) {
			tel.RecordMutation(context.Background(), action)
		})
	}
	return store, cfg, nil
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printJSON(stdout io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("create", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	name := cmd.String("name", "", "brain display name (required)")
	tenant := cmd.String("tenant", "", "tenant identifier (required)")
	secretEnv := cmd.String("secret-env", "", "environment variable holding the passphrase (default CORTEX_BRAIN_SECRET)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *tenant == "" {
		_, _ = fmt.Fprintln(stderr, "create requires --name and --tenant")
		return 2
	}

	store, _, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summary, err := store.CreateBrain(brain.CreateBrainRequest{
		Name: *name, TenantID: *tenant, PassphraseEnv: *secretEnv,
	})
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, summary)
	return 0
}

func runList(stdout, stderr io.Writer) int {
	store, _, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summaries, err := store.ListBrains()
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, summaries)
	return 0
}

func runUse(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: cortex use <brain-id-or-name>")
		return 2
	}
	store, _, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summary, err := store.SetActiveBrain(args[0])
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Active brain: %s (%s)\n", summary.Name, summary.BrainID)
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	out := cmd.String("out", "", "destination path or s3:// URI (required)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		_, _ = fmt.Fprintln(stderr, "export requires --out")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summary, err := store.ResolveBrainOrActive(refOr(*brainRef, cfg))
	if err != nil {
		return fail(stderr, err)
	}
	if err := store.ExportBrain(summary.BrainID, *out); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Exported %s to %s\n", summary.Name, *out)
	return 0
}

func runImport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("import", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	name := cmd.String("name", "", "override the imported brain's name")
	verifyOnly := cmd.Bool("verify-only", false, "verify signature and checksum without installing")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: cortex import [flags] <package-file-or-s3-uri>")
		return 2
	}

	store, _, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summary, err := store.ImportBrain(cmd.Arg(0), *name, *verifyOnly)
	if err != nil {
		return fail(stderr, err)
	}
	if summary == nil {
		_, _ = fmt.Fprintln(stdout, "Package verified: signature and state checksum OK")
		return 0
	}
	printJSON(stdout, summary)
	return 0
}

func runBranch(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("branch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: cortex branch [flags] <new-branch-name>")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	if err := store.Branch(refOr(*brainRef, cfg), cmd.Arg(0)); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Created branch %s\n", cmd.Arg(0))
	return 0
}

func runMerge(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("merge", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	source := cmd.String("source", "", "source branch (required)")
	target := cmd.String("target", "", "target branch (required)")
	strategy := cmd.String("strategy", "Manual", "merge strategy: Ours, Theirs, or Manual")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *source == "" || *target == "" {
		_, _ = fmt.Fprintln(stderr, "merge requires --source and --target")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	report, err := store.Merge(refOr(*brainRef, cfg), *source, *target, brain.MergeStrategy(*strategy))
	if err != nil {
		if len(report.Conflicts) > 0 {
			printJSON(stdout, report)
		}
		return fail(stderr, err)
	}
	printJSON(stdout, report)
	return 0
}

func runForget(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("forget", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	subject := cmd.String("subject", "", "memory subject to suppress (required)")
	predicate := cmd.String("predicate", "", "memory predicate to suppress (required)")
	scope := cmd.String("scope", "SCOPE_GLOBAL", "suppression scope")
	reason := cmd.String("reason", "", "reason recorded with the suppression")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *subject == "" || *predicate == "" {
		_, _ = fmt.Fprintln(stderr, "forget requires --subject and --predicate")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	count, err := store.ForgetSuppress(refOr(*brainRef, cfg), *subject, *predicate, *scope, *reason)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Suppressed %d object(s)\n", count)
	return 0
}

func runAttach(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("attach", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	agent := cmd.String("agent", "", "agent identifier (required)")
	model := cmd.String("model", "", "model identifier (required)")
	read := cmd.String("read", "", "comma-separated read classes")
	write := cmd.String("write", "", "comma-separated write classes")
	sinks := cmd.String("sinks", "none", "comma-separated allowed sinks")
	expires := cmd.String("expires", "", "RFC-3339 expiry timestamp")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *agent == "" || *model == "" {
		_, _ = fmt.Fprintln(stderr, "attach requires --agent and --model")
		return 2
	}

	grant := brain.AttachmentGrant{
		AgentID:      *agent,
		ModelID:      *model,
		ReadClasses:  splitList(*read),
		WriteClasses: splitList(*write),
		Sinks:        splitList(*sinks),
	}
	if *expires != "" {
		ts, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			return fail(stderr, fmt.Errorf("invalid --expires: %w", err))
		}
		grant.ExpiresAt = &ts
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	if err := store.Attach(refOr(*brainRef, cfg), grant); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Attached %s/%s\n", *agent, *model)
	return 0
}

func runDetach(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("detach", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	agent := cmd.String("agent", "", "agent identifier (required)")
	model := cmd.String("model", "", "model identifier (optional, narrows the match)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *agent == "" {
		_, _ = fmt.Fprintln(stderr, "detach requires --agent")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	removed, err := store.Detach(refOr(*brainRef, cfg), *agent, *model)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Removed %d grant(s)\n", removed)
	return 0
}

func runAudit(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	since := cmd.String("since", "", "RFC-3339 lower bound (inclusive)")
	until := cmd.String("until", "", "RFC-3339 upper bound (inclusive)")
	limit := cmd.Int("limit", 0, "return at most the last N entries")
	export := cmd.Bool("export", false, "also ship the entries to CORTEX_AUDIT_EXPORT_DSN")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	query := brain.AuditQuery{Limit: *limit}
	if *since != "" {
		ts, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fail(stderr, fmt.Errorf("invalid --since: %w", err))
		}
		query.Since = &ts
	}
	if *until != "" {
		ts, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			return fail(stderr, fmt.Errorf("invalid --until: %w", err))
		}
		query.Until = &ts
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	ref := refOr(*brainRef, cfg)
	summary, err := store.ResolveBrainOrActive(ref)
	if err != nil {
		return fail(stderr, err)
	}
	entries, err := store.AuditTrace(summary.BrainID, query)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, entries)

	if *export {
		sink, err := brainaudit.NewSink(cfg.AuditExportDSN)
		if err != nil {
			return fail(stderr, err)
		}
		defer func() { _ = sink.Close() }()
		if err := sink.Export(context.Background(), summary.BrainID, entries); err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintf(stderr, "Exported %d entries to %s sink\n", len(entries), brainaudit.Kind(cfg.AuditExportDSN))
	}
	return 0
}

func runMapKey(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("map-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	key := cmd.String("key", "", "plaintext API key (required)")
	tenant := cmd.String("tenant", "", "tenant identifier (required)")
	brainRef := cmd.String("brain", "", "brain id or name (default: active brain)")
	subject := cmd.String("subject", "", "subject the key authenticates (required)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *key == "" || *tenant == "" || *subject == "" {
		_, _ = fmt.Fprintln(stderr, "map-key requires --key, --tenant, and --subject")
		return 2
	}

	store, cfg, err := openStore()
	if err != nil {
		return fail(stderr, err)
	}
	summary, err := store.ResolveBrainOrActive(refOr(*brainRef, cfg))
	if err != nil {
		return fail(stderr, err)
	}
	if err := store.MapApiKey(*key, *tenant, summary.BrainID, *subject); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "Mapped key for %s on brain %s\n", *subject, summary.BrainID)
	return 0
}

// runServe builds the production proxy wiring and serves until SIGINT or
// SIGTERM; in-flight requests complete before exit.
func runServe(stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	cfg, err := cortexconfig.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}
	srv, err := proxyserver.FromConfig(cfg, logger)
	if err != nil {
		logger.Error("build proxy", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("proxy exited", "error", err)
		return 1
	}
	return 0
}

// refOr prefers the explicit flag over the configured brain ref, leaving
// the store's CORTEX_BRAIN/active-brain fallback chain to handle "".
func refOr(flagRef string, cfg cortexconfig.Config) string {
	if flagRef != "" {
		return flagRef
	}
	return cfg.Brain
}

func splitList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
