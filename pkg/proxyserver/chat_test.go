package proxyserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexbrain/cortex/pkg/brain"
	"github.com/cortexbrain/cortex/pkg/cortexconfig"
	"github.com/cortexbrain/cortex/pkg/ratelimit"
	"github.com/cortexbrain/cortex/pkg/rmvmproto"
	"github.com/cortexbrain/cortex/pkg/telemetry"
)

// fakeKernel satisfies Kernel with canned responses, recording what the
// pipeline sent.
type fakeKernel struct {
	manifest rmvmproto.Manifest
	execute  rmvmproto.ExecuteResponse

	appendErr   error
	manifestErr error
	executeErr  error

	lastAppend  rmvmproto.AppendEventRequest
	lastExecute rmvmproto.ExecuteRequest
}

func (k *fakeKernel) AppendEvent(_ context.Context, req rmvmproto.AppendEventRequest) (rmvmproto.AppendEventResponse, error) {
	k.lastAppend = req
	return rmvmproto.AppendEventResponse{HandleRef: "h-new"}, k.appendErr
}

func (k *fakeKernel) GetManifest(_ context.Context, _ rmvmproto.GetManifestRequest) (rmvmproto.Manifest, error) {
	return k.manifest, k.manifestErr
}

func (k *fakeKernel) Execute(_ context.Context, req rmvmproto.ExecuteRequest) (rmvmproto.ExecuteResponse, error) {
	k.lastExecute = req
	return k.execute, k.executeErr
}

type fakePlanner struct {
	plan rmvmproto.Plan
	err  error
}

func (p *fakePlanner) Plan(context.Context, rmvmproto.Manifest) (rmvmproto.Plan, error) {
	return p.plan, p.err
}

func testManifest() rmvmproto.Manifest {
	return rmvmproto.Manifest{
		RequestID: "req-kernel",
		Handles: []rmvmproto.HandleRef{
			{Ref: "H1", TypeID: "fact", Availability: rmvmproto.HandleAvailabilityReady, Meta: rmvmproto.HandleMeta{Subject: "user:x", TrustTier: rmvmproto.TrustTier3Confirmed}},
		},
		Budget: rmvmproto.PlanBudget{MaxOps: 8, MaxJoinDepth: 2, MaxFanout: 4, MaxTotalCost: 10},
	}
}

// newTestServer stands up a Server over a fresh brain store with one
// active brain "demo" and one mapped API key "sk-test".
func newTestServer(t *testing.T, kernel Kernel, mutate func(*cortexconfig.Config, *Options)) (*Server, *brain.BrainStore) {
	t.Helper()
	t.Setenv("TEST_BRAIN_SECRET", "test-secret")
	t.Setenv("CORTEX_BRAIN", "")

	home := t.TempDir()
	store, err := brain.NewBrainStore(home)
	require.NoError(t, err)
	summary, err := store.CreateBrain(brain.CreateBrainRequest{
		Name: "demo", TenantID: "tenant-a", PassphraseEnv: "TEST_BRAIN_SECRET",
	})
	require.NoError(t, err)
	_, err = store.SetActiveBrain(summary.BrainID)
	require.NoError(t, err)
	require.NoError(t, store.MapApiKey("sk-test", "tenant-a", summary.BrainID, "user:alice"))

	cfg := cortexconfig.Config{
		Home:        home,
		PlannerMode: cortexconfig.PlannerModeFallback,
		ListenAddr:  ":0",
	}
	limiter, err := ratelimit.NewLimiter("", 1000, 1000)
	require.NoError(t, err)
	tel, err := telemetry.Init("cortex-proxy-test")
	require.NoError(t, err)
	opts := Options{
		Limiter:   limiter,
		Telemetry: tel,
		Logger:    slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}

	srv, err := New(cfg, store, kernel, opts)
	require.NoError(t, err)
	return srv, store
}

func chatRequest(t *testing.T, body string, header map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

const simpleChatBody = `{"model":"gpt-test","messages":[{"role":"user","content":"What do I prefer?"}]}`

// byoPlanJSON is the deterministic single-handle plan expressed as
// client-supplied plan JSON.
const byoPlanJSON = `{
	"requestId": "req-byo",
	"steps": [
		{"out": "r0", "op": {"kind": "fetch", "fetch": {"handleRef": "H1"}}},
		{"out": "r1", "op": {"kind": "project", "project": {"inReg": "r0", "fieldPaths": ["meta.subject"]}}},
		{"out": "r2", "op": {"kind": "assert", "assert": {"assertionType": "ASSERT_WORLD_FACT", "bindings": {"subject": {"reg": "r1", "fieldPath": "meta.subject"}}}}}
	],
	"outputs": ["r2"]
}`

func TestChatByoHeaderOk(t *testing.T) {
	kernel := &fakeKernel{
		manifest: testManifest(),
		execute: rmvmproto.ExecuteResponse{
			Status:   rmvmproto.ExecutionOk,
			Proof:    &rmvmproto.ProofRoots{SemanticRoot: "sem-root", TraceRoot: "trace-root"},
			Rendered: &rmvmproto.RenderedOutput{VerifiedBlocks: []string{"Verified: user prefers tea."}},
		},
	}
	srv, _ := newTestServer(t, kernel, nil)

	header := base64.StdEncoding.EncodeToString([]byte(byoPlanJSON))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{HeaderPlan: header}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Header().Get(HeaderStatus))
	require.Equal(t, "byo_header", rec.Header().Get(HeaderPlanSource))
	require.Equal(t, "sem-root", rec.Header().Get(HeaderSemanticRoot))
	require.Equal(t, "trace-root", rec.Header().Get(HeaderTraceRoot))

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "Verified: user prefers tea.", resp.Choices[0].Message.Content)
	require.Equal(t, "OK", resp.Cortex.Status)
	require.Nil(t, resp.Cortex.ErrorCode)
	require.NotNil(t, resp.Cortex.PlanSource)
	require.Equal(t, "byo_header", *resp.Cortex.PlanSource)

	// The kernel received the validated plan with three steps.
	require.Len(t, kernel.lastExecute.Plan.Steps, 3)
	require.Equal(t, "req-kernel", kernel.lastExecute.Manifest.RequestID)
}

func TestChatRejectedMapsTo400WithKernelCode(t *testing.T) {
	kernel := &fakeKernel{
		manifest: testManifest(),
		execute: rmvmproto.ExecuteResponse{
			Status: rmvmproto.ExecutionRejected,
			Error:  &rmvmproto.ExecutionError{Code: "TypeMismatch", Message: "selector returned scalar, expected handle set"},
		},
	}
	srv, _ := newTestServer(t, kernel, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "REJECTED", rec.Header().Get(HeaderStatus))
	require.Equal(t, "TypeMismatch", rec.Header().Get(HeaderErrorCode))

	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "TypeMismatch", body.Error.Code)
	require.Equal(t, "selector returned scalar, expected handle set", body.Error.Message)
}

func TestChatStallMapsTo503WithStallHeaders(t *testing.T) {
	kernel := &fakeKernel{
		manifest: testManifest(),
		execute: rmvmproto.ExecuteResponse{
			Status: rmvmproto.ExecutionStall,
			Stall:  &rmvmproto.StallInfo{HandleRef: "H1", Availability: rmvmproto.HandleAvailabilityPending},
		},
	}
	srv, _ := newTestServer(t, kernel, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "STALL", rec.Header().Get(HeaderStatus))
	require.Equal(t, "H1", rec.Header().Get(HeaderStallHandle))
	require.Equal(t, "PENDING", rec.Header().Get(HeaderStallAvailability))
}

func TestChatStatusTable(t *testing.T) {
	cases := []struct {
		status rmvmproto.ExecutionStatus
		code   int
	}{
		{rmvmproto.ExecutionOk, http.StatusOK},
		{rmvmproto.ExecutionRejected, http.StatusBadRequest},
		{rmvmproto.ExecutionStall, http.StatusServiceUnavailable},
		{rmvmproto.ExecutionAuthDenied, http.StatusForbidden},
		{rmvmproto.ExecutionRangeExceeded, http.StatusTooManyRequests},
		{rmvmproto.ExecutionUnspecified, http.StatusBadGateway},
	}
	for _, tc := range cases {
		kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: tc.status}}
		srv, _ := newTestServer(t, kernel, nil)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

		require.Equal(t, tc.code, rec.Code, "status %s", tc.status)
		require.Equal(t, string(tc.status), rec.Header().Get(HeaderStatus), "status %s", tc.status)
	}
}

func TestChatUnspecifiedBody(t *testing.T) {
	kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionUnspecified}}
	srv, _ := newTestServer(t, kernel, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "RMVM returned unspecified status", body.Error.Message)
}

func TestChatStreamRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	body := `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, body, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	require.Equal(t, "stream_not_supported", errBody.Error.Code)
}

func TestChatMissingUserMessage(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	body := `{"messages":[{"role":"system","content":"be nice"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, body, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatArrayContentPartsJoined(t *testing.T) {
	kernel := &fakeKernel{
		manifest: testManifest(),
		execute:  rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk},
	}
	srv, _ := newTestServer(t, kernel, nil)

	body := `{"messages":[{"role":"user","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, body, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "line one\nline two", kernel.lastAppend.Text)
}

func TestChatBearerMapsSubject(t *testing.T) {
	kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk}}
	srv, _ := newTestServer(t, kernel, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{"Authorization": "Bearer sk-test"}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user:alice", kernel.lastAppend.Subject)
}

func TestChatUnmappedBearerRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{"Authorization": "Bearer sk-wrong"}))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "auth_failed", body.Error.Code)
}

func TestChatEmptyBearerRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{"Authorization": "Bearer   "}))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatNoBearerUsesUserField(t *testing.T) {
	kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk}}
	srv, _ := newTestServer(t, kernel, nil)

	body := `{"user":"user:bob","messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, body, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user:bob", kernel.lastAppend.Subject)
}

func TestChatNoBearerNoActiveBrainRejected(t *testing.T) {
	t.Setenv("TEST_BRAIN_SECRET", "test-secret")
	t.Setenv("CORTEX_BRAIN", "")

	// A store with no brains and no active config.
	store, err := brain.NewBrainStore(t.TempDir())
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter("", 1000, 1000)
	require.NoError(t, err)
	tel, err := telemetry.Init("cortex-proxy-test")
	require.NoError(t, err)
	srv, err := New(cortexconfig.Config{Home: store.HomeDir(), PlannerMode: cortexconfig.PlannerModeFallback}, store, &fakeKernel{manifest: testManifest()}, Options{
		Limiter: limiter, Telemetry: tel, Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "auth_required", body.Error.Code)
}

func TestChatByoHeaderModeRequiresHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, func(cfg *cortexconfig.Config, _ *Options) {
		cfg.PlannerMode = cortexconfig.PlannerModeByoHeader
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "plan_header_required", body.Error.Code)
}

func TestChatInvalidPlanHeaderBase64(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{HeaderPlan: "%%%not-base64%%%"}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_plan_header", body.Error.Code)
}

func TestChatByoPlanFailingValidationRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, nil)

	// References a handle the manifest does not expose.
	bad := `{"requestId":"req-bad","steps":[{"out":"r0","op":{"kind":"fetch","fetch":{"handleRef":"H-missing"}}}],"outputs":["r0"]}`
	header := base64.StdEncoding.EncodeToString([]byte(bad))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, map[string]string{HeaderPlan: header}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_plan", body.Error.Code)
}

func TestChatFallbackPlanSource(t *testing.T) {
	kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk}}
	srv, _ := newTestServer(t, kernel, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fallback", rec.Header().Get(HeaderPlanSource))
	// Fallback plan carries the proxy's request id, not the kernel's.
	require.Contains(t, kernel.lastExecute.Plan.RequestID, "req-")
	require.NotEqual(t, "req-kernel", kernel.lastExecute.Plan.RequestID)
}

func TestChatOpenAIPlannerSource(t *testing.T) {
	kernel := &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk}}

	var plan rmvmproto.Plan
	require.NoError(t, json.Unmarshal([]byte(byoPlanJSON), &plan))
	srv, _ := newTestServer(t, kernel, func(cfg *cortexconfig.Config, opts *Options) {
		cfg.PlannerMode = cortexconfig.PlannerModeOpenAI
		opts.Planner = &fakePlanner{plan: plan}
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "openai", rec.Header().Get(HeaderPlanSource))
}

func TestChatOpenAIPlannerFailureIs502(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest()}, func(cfg *cortexconfig.Config, opts *Options) {
		cfg.PlannerMode = cortexconfig.PlannerModeOpenAI
		opts.Planner = &fakePlanner{err: context.DeadlineExceeded}
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "planner_http_failed", body.Error.Code)
}

func TestChatAppendFailureIs502(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest(), appendErr: context.DeadlineExceeded}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "append_event_failed", body.Error.Code)
}

func TestChatMissingManifestIs502(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, chatRequest(t, simpleChatBody, nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body openAIErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "manifest_missing", body.Error.Code)
}

func TestChatRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, &fakeKernel{manifest: testManifest(), execute: rmvmproto.ExecuteResponse{Status: rmvmproto.ExecutionOk}}, func(_ *cortexconfig.Config, opts *Options) {
		limiter, err := ratelimit.NewLimiter("", 1, 1)
		require.NoError(t, err)
		opts.Limiter = limiter
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, chatRequest(t, simpleChatBody, nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, chatRequest(t, simpleChatBody, nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
}
