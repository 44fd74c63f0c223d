// Package proxyserver implements the OpenAI-compatible HTTP front of the
// system: it authenticates callers against the brain store's API-key
// map, drives the append_event, get_manifest and execute kernel RPCs for
// each chat completion,
// guards every plan through the Planner Guard, and maps kernel verdicts
// onto HTTP statuses and X-Cortex-* headers. Only kernel-verified
// content is ever returned as assistant text.
package proxyserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cortexbrain/cortex/pkg/brain"
	"github.com/cortexbrain/cortex/pkg/brainaudit"
	"github.com/cortexbrain/cortex/pkg/cortexconfig"
	"github.com/cortexbrain/cortex/pkg/planner"
	"github.com/cortexbrain/cortex/pkg/ratelimit"
	"github.com/cortexbrain/cortex/pkg/rmvmclient"
	"github.com/cortexbrain/cortex/pkg/rmvmproto"
	"github.com/cortexbrain/cortex/pkg/telemetry"
)

// Kernel is the subset of the RMVM adapter the chat pipeline drives.
// *rmvmclient.Client satisfies it; tests substitute an in-process fake.
type Kernel interface {
	AppendEvent(ctx context.Context, req rmvmproto.AppendEventRequest) (rmvmproto.AppendEventResponse, error)
	GetManifest(ctx context.Context, req rmvmproto.GetManifestRequest) (rmvmproto.Manifest, error)
	Execute(ctx context.Context, req rmvmproto.ExecuteRequest) (rmvmproto.ExecuteResponse, error)
}

// ExternalPlanner produces a plan for a manifest from an external model.
// *planner.OpenAIPlanner satisfies it.
type ExternalPlanner interface {
	Plan(ctx context.Context, manifest rmvmproto.Manifest) (rmvmproto.Plan, error)
}

// Server is the proxy: immutable configuration plus shared clients. All
// per-request state lives on the request goroutine.
type Server struct {
	cfg     cortexconfig.Config
	store   *brain.BrainStore
	kernel  Kernel
	planner ExternalPlanner
	limiter ratelimit.Limiter
	tel     *telemetry.Telemetry
	logger  *slog.Logger

	startedAt    time.Time
	lastAuditErr atomic.Pointer[string]
}

// Options carries the injectable collaborators for New; zero-value
// fields are built from cfg.
type Options struct {
	Planner   ExternalPlanner
	Limiter   ratelimit.Limiter
	Telemetry *telemetry.Telemetry
	Logger    *slog.Logger
}

// New assembles a Server around an opened brain store and kernel client.
func New(cfg cortexconfig.Config, store *brain.BrainStore, kernel Kernel, opts Options) (*Server, error) {
	switch cfg.PlannerMode {
	case cortexconfig.PlannerModeFallback, cortexconfig.PlannerModeOpenAI, cortexconfig.PlannerModeByoHeader:
	default:
		return nil, fmt.Errorf("proxyserver: unknown planner mode %q", cfg.PlannerMode)
	}

	ext := opts.Planner
	if ext == nil && cfg.PlannerMode == cortexconfig.PlannerModeOpenAI {
		if cfg.PlannerAPIKey == "" {
			return nil, errors.New("proxyserver: openai planner mode requires CORTEX_PLANNER_API_KEY")
		}
		ext = planner.NewOpenAIPlanner(cfg.PlannerBaseURL, cfg.PlannerAPIKey, cfg.PlannerModel, cfg.PlannerTimeout())
	}

	limiter := opts.Limiter
	if limiter == nil {
		var err error
		limiter, err = ratelimit.NewLimiter(cfg.RateLimitRedisURL, cfg.RateLimitRPS, cfg.RateLimitBurst)
		if err != nil {
			return nil, err
		}
	}

	tel := opts.Telemetry
	if tel == nil {
		var err error
		tel, err = telemetry.Init("cortex-proxy")
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		kernel:    kernel,
		planner:   ext,
		limiter:   limiter,
		tel:       tel,
		logger:    logger,
		startedAt: time.Now(),
	}
	store.SetObserver(func(action string) {
		tel.RecordMutation(context.Background(), action)
	})

	// Probe the audit export sink up front so a bad DSN shows on the
	// dashboard instead of surfacing on the first export.
	if cfg.AuditExportDSN != "" {
		if sink, err := brainaudit.NewSink(cfg.AuditExportDSN); err != nil {
			s.recordAuditError(err)
		} else {
			_ = sink.Close()
		}
	}
	return s, nil
}

// FromConfig builds the full production wiring: brain store at cfg.Home,
// HTTP kernel client at cfg.RMVMEndpoint, and collaborators derived from
// cfg.
func FromConfig(cfg cortexconfig.Config, logger *slog.Logger) (*Server, error) {
	store, err := brain.NewBrainStore(cfg.Home)
	if err != nil {
		return nil, err
	}
	kernel, err := rmvmclient.New(cfg.RMVMEndpoint)
	if err != nil {
		return nil, err
	}
	return New(cfg, store, kernel, Options{Logger: logger})
}

// Handler returns the proxy's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /dashboard", s.handleDashboard)
	mux.HandleFunc("GET /dashboard/status", s.handleDashboardStatus)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully: the
// listener closes but in-flight requests are allowed to complete.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", "addr", s.cfg.ListenAddr, "planner_mode", string(s.cfg.PlannerMode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// recordAuditError stores the most recent audit-export failure for the
// dashboard; export failures never fail the operation that hit them.
func (s *Server) recordAuditError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	s.lastAuditErr.Store(&msg)
	s.logger.Warn("audit export failed", "error", msg)
}

// auditExportKind reports the configured sink backend for the dashboard.
func (s *Server) auditExportKind() string {
	return brainaudit.Kind(s.cfg.AuditExportDSN)
}
