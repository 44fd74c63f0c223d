package proxyserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexbrain/cortex/pkg/brain"
	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

// dashboardStatus is the JSON snapshot behind GET /dashboard/status.
type dashboardStatus struct {
	Proxy       dashboardProxy       `json:"proxy"`
	Planner     dashboardPlanner     `json:"planner"`
	RMVM        dashboardRMVM        `json:"rmvm"`
	Brain       dashboardBrain       `json:"brain"`
	RateLimit   dashboardRateLimit   `json:"rate_limit"`
	AuditExport dashboardAuditExport `json:"audit_export"`
}

type dashboardProxy struct {
	ListenAddr         string `json:"listen_addr"`
	ChatCompletionsURL string `json:"chat_completions_url"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	Healthy            bool   `json:"healthy"`
}

type dashboardPlanner struct {
	Mode    string `json:"mode"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

type dashboardRMVM struct {
	Endpoint string `json:"endpoint"`
	Healthy  bool   `json:"healthy"`
}

type dashboardBrain struct {
	Selected string `json:"selected"`
}

type dashboardRateLimit struct {
	Backend   string `json:"backend"`
	Remaining *int   `json:"remaining,omitempty"`
}

type dashboardAuditExport struct {
	Kind      string  `json:"kind"`
	LastError *string `json:"last_error"`
}

func (s *Server) handleDashboardStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := dashboardStatus{
		Proxy: dashboardProxy{
			ListenAddr:         s.cfg.ListenAddr,
			ChatCompletionsURL: chatCompletionsURL(s.cfg.ListenAddr),
			UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
			Healthy:            true,
		},
		Planner: dashboardPlanner{
			Mode:    string(s.cfg.PlannerMode),
			BaseURL: s.cfg.PlannerBaseURL,
			Model:   s.cfg.PlannerModel,
		},
		RMVM: dashboardRMVM{
			Endpoint: s.cfg.RMVMEndpoint,
			Healthy:  s.probeRMVM(ctx),
		},
		Brain: dashboardBrain{
			Selected: s.selectedBrainLabel(),
		},
		RateLimit: dashboardRateLimit{
			Backend: rateLimitBackend(s.cfg.RateLimitRedisURL),
		},
		AuditExport: dashboardAuditExport{
			Kind:      s.auditExportKind(),
			LastError: s.lastAuditErr.Load(),
		},
	}

	// The caller's remaining window allowance is shown only when a bearer
	// token identifies them.
	if raw := r.Header.Get("Authorization"); raw != "" {
		if token, ok := strings.CutPrefix(raw, "Bearer "); ok {
			if mapping, found, err := s.store.ResolveApiKey(strings.TrimSpace(token)); err == nil && found {
				if remaining, err := s.limiter.Remaining(ctx, mapping.Subject); err == nil {
					status.RateLimit.Remaining = &remaining
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, nil, status)
}

// probeRMVM checks kernel reachability with a short-lived manifest call.
func (s *Server) probeRMVM(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := s.kernel.GetManifest(ctx, rmvmproto.GetManifestRequest{
		RequestID: "dash-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
	return err == nil
}

// selectedBrainLabel resolves the configured/active brain's display name,
// or "<none>" when nothing is configured.
func (s *Server) selectedBrainLabel() string {
	summary, err := s.store.ResolveBrainOrActive(s.cfg.Brain)
	if err != nil {
		if errors.Is(err, brain.ErrNoActiveBrain) {
			return "<none>"
		}
		if s.cfg.Brain != "" {
			return s.cfg.Brain
		}
		return "<none>"
	}
	return summary.Name
}

// chatCompletionsURL renders the copy-pasteable endpoint for a listen
// address, substituting localhost when the address has no host part.
func chatCompletionsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/v1/chat/completions"
}

func rateLimitBackend(redisURL string) string {
	if redisURL == "" {
		return "in-process"
	}
	return "redis"
}

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <title>Cortex Dashboard</title>
  <style>
    :root { color-scheme: light dark; }
    body { font-family: Segoe UI, Arial, sans-serif; margin: 0; padding: 24px; background: #0b1220; color: #e6eefc; }
    h1 { margin: 0 0 8px 0; font-size: 28px; }
    p.sub { margin: 0 0 18px 0; color: #b7c7e8; }
    .grid { display: grid; gap: 12px; grid-template-columns: repeat(auto-fit,minmax(260px,1fr)); }
    .card { background: rgba(255,255,255,0.06); border: 1px solid rgba(255,255,255,0.14); border-radius: 10px; padding: 14px; }
    .k { color: #9db1d9; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; }
    .v { font-size: 15px; font-weight: 600; overflow-wrap: anywhere; }
    .ok { color: #6fe3a1; }
    .bad { color: #ff7b8f; }
  </style>
</head>
<body>
  <h1>Cortex Dashboard</h1>
  <p class="sub">Use this page to confirm Cortex is up and copy your client settings.</p>
  <div class="grid">
    <div class="card"><div class="k">Chat Completions URL</div><div class="v" id="chatUrl"></div></div>
    <div class="card"><div class="k">Brain</div><div class="v" id="brain"></div></div>
    <div class="card"><div class="k">Planner Mode</div><div class="v" id="plannerMode"></div></div>
    <div class="card"><div class="k">Planner Model</div><div class="v" id="plannerModel"></div></div>
    <div class="card"><div class="k">RMVM Endpoint</div><div class="v" id="rmvmEndpoint"></div></div>
    <div class="card"><div class="k">RMVM Health</div><div class="v" id="rmvmHealth"></div></div>
    <div class="card"><div class="k">Rate Limit Backend</div><div class="v" id="rateLimit"></div></div>
    <div class="card"><div class="k">Audit Export</div><div class="v" id="auditExport"></div></div>
  </div>
  <script>
    fetch('/dashboard/status').then(r => r.json()).then(s => {
      document.getElementById('chatUrl').textContent = s.proxy.chat_completions_url;
      document.getElementById('brain').textContent = s.brain.selected;
      document.getElementById('plannerMode').textContent = s.planner.mode;
      document.getElementById('plannerModel').textContent = s.planner.model || '-';
      document.getElementById('rmvmEndpoint').textContent = s.rmvm.endpoint;
      const health = document.getElementById('rmvmHealth');
      health.textContent = s.rmvm.healthy ? 'healthy' : 'unreachable';
      health.className = 'v ' + (s.rmvm.healthy ? 'ok' : 'bad');
      document.getElementById('rateLimit').textContent = s.rate_limit.backend;
      document.getElementById('auditExport').textContent = s.audit_export.kind;
    });
  </script>
</body>
</html>
`
