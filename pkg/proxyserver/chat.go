package proxyserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexbrain/cortex/pkg/cortexconfig"
	"github.com/cortexbrain/cortex/pkg/planner"
	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// Header names exchanged with clients.
const (
	HeaderPlan              = "X-Cortex-Plan"
	HeaderStatus            = "X-Cortex-Status"
	HeaderPlanSource        = "X-Cortex-Plan-Source"
	HeaderSemanticRoot      = "X-Cortex-Semantic-Root"
	HeaderTraceRoot         = "X-Cortex-Trace-Root"
	HeaderErrorCode         = "X-Cortex-Error-Code"
	HeaderStallHandle       = "X-Cortex-Stall-Handle"
	HeaderStallAvailability = "X-Cortex-Stall-Availability"
)

// Plan source labels surfaced in X-Cortex-Plan-Source and the cortex
// envelope.
const (
	planSourceByoHeader = "byo_header"
	planSourceFallback  = "fallback"
	planSourceOpenAI    = "openai"
)

// handleChatCompletions runs the full pipeline: auth, rate limit, append,
// manifest, plan resolution, validation, execute, response mapping.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tel.Tracer.Start(r.Context(), "chat_completions")
	defer span.End()

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest("invalid_request_body", err.Error()).write(w)
		return
	}
	if req.Stream {
		badRequest("stream_not_supported", "stream=true is not supported; the kernel returns a single sealed response").write(w)
		return
	}

	text, ok := lastUserMessage(req.Messages)
	if !ok {
		badRequest("missing_user_message", "no user message with text content found").write(w)
		return
	}

	subject, apiErr := s.resolveSubject(r, req)
	if apiErr != nil {
		apiErr.write(w)
		return
	}

	decision, err := s.limiter.Allow(ctx, subject)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "error", err)
	} else if !decision.Allowed {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())+1))
		(&apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "rate limit exceeded for this subject"}).write(w)
		return
	}

	requestID := "req-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	if _, err := s.kernel.AppendEvent(ctx, rmvmproto.AppendEventRequest{
		RequestID: requestID,
		Subject:   subject,
		Text:      text,
		Scope:     rmvmproto.ScopeGlobal,
	}); err != nil {
		badGateway("append_event_failed", err.Error()).write(w)
		return
	}

	manifest, err := s.kernel.GetManifest(ctx, rmvmproto.GetManifestRequest{
		Subject:   subject,
		RequestID: requestID,
	})
	if err != nil {
		badGateway("get_manifest_failed", err.Error()).write(w)
		return
	}
	if manifest.RequestID == "" {
		badGateway("manifest_missing", "rmvm returned no manifest").write(w)
		return
	}

	planPrompt := planner.BuildPrompt(manifest)
	plan, planSource, apiErr := s.resolvePlan(ctx, r, manifest, requestID, subject)
	if apiErr != nil {
		apiErr.write(w)
		return
	}

	if err := planner.Validate(plan, manifest); err != nil {
		badRequest("invalid_plan", err.Error()).write(w)
		return
	}

	execute, err := s.kernel.Execute(ctx, rmvmproto.ExecuteRequest{Manifest: manifest, Plan: plan})
	if err != nil {
		badGateway("execute_failed", err.Error()).write(w)
		return
	}

	s.tel.RecordChat(ctx, planSource, statusName(execute.Status))
	s.writeExecuteResponse(w, req, execute, planPrompt, planSource)
}

// resolveSubject implements the auth rule: a bearer token must map to a
// known API key; absent a bearer, a default or active brain must exist
// and the subject comes from the request's user field.
func (s *Server) resolveSubject(r *http.Request, req ChatCompletionRequest) (string, *apiError) {
	raw := r.Header.Get("Authorization")
	if raw != "" {
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok {
			return "", unauthorized("invalid_auth_header", "Authorization must use Bearer token")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", unauthorized("invalid_auth_header", "Bearer token is empty")
		}
		mapping, found, err := s.store.ResolveApiKey(token)
		if err != nil {
			return "", badGateway("auth_lookup_failed", err.Error())
		}
		if !found {
			return "", unauthorized("auth_failed", "API key is not mapped")
		}
		return mapping.Subject, nil
	}

	if _, err := s.store.ResolveBrainOrActive(s.cfg.Brain); err != nil {
		return "", unauthorized("auth_required", "missing bearer token and no default/active brain configured")
	}
	subject := strings.TrimSpace(req.User)
	if subject == "" {
		subject = "user:local"
	}
	return subject, nil
}

// resolvePlan selects the plan source: the X-Cortex-Plan header always
// wins; otherwise the configured planner mode decides between rejecting,
// synthesizing deterministically (bound to the caller's subject), and
// asking the external planner.
func (s *Server) resolvePlan(ctx context.Context, r *http.Request, manifest rmvmproto.Manifest, requestID, subject string) (rmvmproto.Plan, string, *apiError) {
	if header := r.Header.Get(HeaderPlan); header != "" {
		plan, apiErr := parseByoPlan(header, requestID)
		if apiErr != nil {
			return rmvmproto.Plan{}, "", apiErr
		}
		return plan, planSourceByoHeader, nil
	}

	switch s.cfg.PlannerMode {
	case cortexconfig.PlannerModeByoHeader:
		return rmvmproto.Plan{}, "", badRequest("plan_header_required", "planner mode byo_header requires the X-Cortex-Plan header")
	case cortexconfig.PlannerModeFallback:
		plan, err := planner.DeterministicPlan(manifest, subject)
		if err != nil {
			return rmvmproto.Plan{}, "", badRequest("fallback_plan_failed", err.Error())
		}
		plan.RequestID = requestID
		return plan, planSourceFallback, nil
	case cortexconfig.PlannerModeOpenAI:
		plan, err := s.planner.Plan(ctx, manifest)
		if err != nil {
			return rmvmproto.Plan{}, "", badGateway("planner_http_failed", err.Error())
		}
		plan.RequestID = requestID
		return plan, planSourceOpenAI, nil
	default:
		return rmvmproto.Plan{}, "", badGateway("planner_mode_invalid", fmt.Sprintf("unknown planner mode %q", s.cfg.PlannerMode))
	}
}

// parseByoPlan decodes a base64 X-Cortex-Plan header into a plan.
func parseByoPlan(header, requestID string) (rmvmproto.Plan, *apiError) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return rmvmproto.Plan{}, badRequest("invalid_plan_header", "X-Cortex-Plan must be base64")
	}
	raw, err := planner.ExtractJSON(string(decoded))
	if err != nil {
		return rmvmproto.Plan{}, badRequest("invalid_plan_json", err.Error())
	}
	plan, err := planner.Parse(raw)
	if err != nil {
		return rmvmproto.Plan{}, badRequest("invalid_plan_json", err.Error())
	}
	if plan.RequestID == "" {
		plan.RequestID = requestID
	}
	return plan, nil
}

// cortexHeaders extracts the X-Cortex-* headers from a kernel reply.
func cortexHeaders(execute rmvmproto.ExecuteResponse, planSource string) http.Header {
	h := http.Header{}
	h.Set(HeaderStatus, statusName(execute.Status))
	h.Set(HeaderPlanSource, planSource)
	if execute.Proof != nil {
		h.Set(HeaderSemanticRoot, execute.Proof.SemanticRoot)
		h.Set(HeaderTraceRoot, execute.Proof.TraceRoot)
	}
	if execute.Error != nil {
		h.Set(HeaderErrorCode, errorCodeName(execute.Error))
	}
	if execute.Stall != nil {
		h.Set(HeaderStallHandle, execute.Stall.HandleRef)
		availability := execute.Stall.Availability
		if availability == "" {
			availability = rmvmproto.HandleAvailabilityUnspecified
		}
		h.Set(HeaderStallAvailability, string(availability))
	}
	return h
}

// writeExecuteResponse maps a kernel verdict to HTTP: OK becomes an
// OpenAI-shaped completion, every other status becomes an OpenAI error
// body still carrying the cortex headers.
func (s *Server) writeExecuteResponse(w http.ResponseWriter, req ChatCompletionRequest, execute rmvmproto.ExecuteResponse, planPrompt, planSource string) {
	headers := cortexHeaders(execute, planSource)

	switch execute.Status {
	case rmvmproto.ExecutionOk:
		var blocks []string
		if execute.Rendered != nil {
			blocks = execute.Rendered.VerifiedBlocks
		}
		content := "No verified output."
		if len(blocks) > 0 {
			content = strings.Join(blocks, "\n\n")
		}

		model := req.Model
		if model == "" {
			model = "cortex-rmvm-proxy"
		}
		envelope := CortexEnvelope{
			Status:     statusName(execute.Status),
			PlanPrompt: &planPrompt,
			PlanSource: &planSource,
		}
		if execute.Proof != nil {
			envelope.SemanticRoot = &execute.Proof.SemanticRoot
			envelope.TraceRoot = &execute.Proof.TraceRoot
		}
		if execute.Error != nil {
			name := errorCodeName(execute.Error)
			envelope.ErrorCode = &name
		}

		writeJSON(w, http.StatusOK, headers, ChatCompletionResponse{
			ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []Choice{{
				Index:        0,
				Message:      AssistantMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
			Cortex: envelope,
		})

	case rmvmproto.ExecutionRejected:
		kernelError(http.StatusBadRequest, execute, "rejected", "request rejected by RMVM").withHeaders(headers).write(w)
	case rmvmproto.ExecutionStall:
		kernelError(http.StatusServiceUnavailable, execute, "stall", "execution stalled; dependency not ready").withHeaders(headers).write(w)
	case rmvmproto.ExecutionAuthDenied:
		kernelError(http.StatusForbidden, execute, "auth_denied", "auth denied").withHeaders(headers).write(w)
	case rmvmproto.ExecutionRangeExceeded:
		kernelError(http.StatusTooManyRequests, execute, "range_exceeded", "range exceeded").withHeaders(headers).write(w)
	default:
		code := "unknown_status"
		if execute.Error != nil {
			code = errorCodeName(execute.Error)
		}
		(&apiError{Status: http.StatusBadGateway, Code: code, Message: "RMVM returned unspecified status", Headers: headers}).write(w)
	}
}

// kernelError builds an apiError from a kernel reply, preferring the
// kernel's own code and message over the fallbacks.
func kernelError(status int, execute rmvmproto.ExecuteResponse, fallbackCode, fallbackMessage string) *apiError {
	code := fallbackCode
	message := fallbackMessage
	if execute.Error != nil {
		code = errorCodeName(execute.Error)
		if execute.Error.Message != "" {
			message = execute.Error.Message
		}
	}
	return &apiError{Status: status, Code: code, Message: message}
}

func statusName(status rmvmproto.ExecutionStatus) string {
	if status == "" {
		return string(rmvmproto.ExecutionUnspecified)
	}
	return string(status)
}

func errorCodeName(err *rmvmproto.ExecutionError) string {
	if err.Code == "" {
		return string(rmvmproto.ErrorCodeUnspecified)
	}
	return string(err.Code)
}
