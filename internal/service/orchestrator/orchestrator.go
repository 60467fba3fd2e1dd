// Package orchestrator implements the Approval Orchestrator (spec §4.J):
// the per-connection session state machine and the tool_request pipeline
// that ties the permission engine, the executor registry, the durable
// pending store, the audit log, and the out-of-band messenger together.
package orchestrator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	wsgateway "github.com/TorbenWetter/agent-gate/internal/adapter/inbound/gateway"
	"github.com/TorbenWetter/agent-gate/internal/adapter/inbound/observability"
	"github.com/TorbenWetter/agent-gate/internal/domain/audit"
	"github.com/TorbenWetter/agent-gate/internal/domain/executor"
	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	"github.com/TorbenWetter/agent-gate/internal/domain/messenger"
	"github.com/TorbenWetter/agent-gate/internal/domain/pending"
	"github.com/TorbenWetter/agent-gate/internal/domain/permission"
	"github.com/TorbenWetter/agent-gate/internal/domain/ratelimit"
	"github.com/TorbenWetter/agent-gate/internal/domain/validation"
)

// authDeadline is how long a freshly accepted connection has to send a
// successful "auth" call before it is dropped (spec §4.J.1).
const authDeadline = 10 * time.Second

// sessionState is one connection's position in the UNAUTHED -> AUTHED ->
// CLOSED state machine.
type sessionState int

const (
	stateUnauthed sessionState = iota
	stateAuthed
	stateClosed
)

// session is the per-connection bookkeeping the orchestrator threads
// through dispatch.
type session struct {
	conn    *wsgateway.Conn
	agentID string

	mu    sync.Mutex
	state sessionState
}

func (s *session) setState(v sessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = v
}

func (s *session) getState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Orchestrator wires together every domain/outbound dependency the
// tool_request pipeline needs.
type Orchestrator struct {
	engine      *permission.Engine
	executor    *executor.Registry
	pendingReg  *pending.Registry
	pendingStore pending.Store
	auditStore  audit.Store
	messenger   messenger.Adapter
	rateLimiter ratelimit.RateLimiter
	pendingCap  ratelimit.PendingCapLimiter

	bearerToken     string
	approvalTimeout time.Duration
	rateLimitConfig ratelimit.RateLimitConfig

	logger  *slog.Logger
	metrics *observability.Metrics // nil is valid: every call site guards it

	mu             sync.Mutex
	activeAgentID  string // non-empty once a connection reaches AUTHED; spec §4.J's single-connection invariant
}

// Deps bundles every collaborator the orchestrator needs, so the
// constructor signature stays stable as the pipeline grows.
type Deps struct {
	Engine          *permission.Engine
	Executor        *executor.Registry
	PendingRegistry *pending.Registry
	PendingStore    pending.Store
	AuditStore      audit.Store
	Messenger       messenger.Adapter
	RateLimiter     ratelimit.RateLimiter
	PendingCap      ratelimit.PendingCapLimiter
	BearerToken     string
	ApprovalTimeout time.Duration
	RateLimit       ratelimit.RateLimitConfig
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// New builds an Orchestrator and registers its messenger callback.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		engine:          d.Engine,
		executor:        d.Executor,
		pendingReg:      d.PendingRegistry,
		pendingStore:    d.PendingStore,
		auditStore:      d.AuditStore,
		messenger:       d.Messenger,
		rateLimiter:     d.RateLimiter,
		pendingCap:      d.PendingCap,
		bearerToken:     d.BearerToken,
		approvalTimeout: d.ApprovalTimeout,
		rateLimitConfig: d.RateLimit,
		logger:          d.Logger,
		metrics:         d.Metrics,
	}
	o.messenger.SetCallback(o.onMessengerCallback)
	return o
}

// HandleConnection is the wsgateway.SessionHandler: it owns conn for its
// entire lifetime, enforcing the auth deadline, the single-AUTHED-session
// invariant, and dispatching every subsequent JSON-RPC call.
func (o *Orchestrator) HandleConnection(ctx context.Context, conn *wsgateway.Conn) {
	sess := &session{conn: conn, state: stateUnauthed}
	defer conn.Close()

	if !o.authenticate(sess) {
		return
	}
	defer o.releaseSession(sess)

	var wg sync.WaitGroup
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		req, err := decodeRequest(raw)
		if err != nil {
			o.writeResponse(sess, wsgateway.NewError(nil, gateway.CodeParseError, "parse error"))
			continue
		}

		switch req.Method {
		case "tool_request":
			wg.Add(1)
			go func(req wsgateway.Request) {
				defer wg.Done()
				o.handleToolRequest(ctx, sess, req)
			}(req)
		case "get_pending_results":
			o.handleGetPendingResults(ctx, sess, req)
		case "auth":
			o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeInvalidRequest, "already authenticated"))
		default:
			o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeMethodNotFound, "unknown method"))
		}
	}

	sess.setState(stateClosed)
	wg.Wait()
}

// authenticate blocks on the connection's first frame, enforcing the
// 10-second deadline, the constant-time bearer check, and the
// single-AUTHED-connection invariant. Returns false if the connection
// should be dropped.
func (o *Orchestrator) authenticate(sess *session) bool {
	_ = sess.conn.SetReadDeadline(time.Now().Add(authDeadline))
	raw, err := sess.conn.ReadMessage()
	if err != nil {
		return false
	}
	_ = sess.conn.SetReadDeadline(time.Time{})

	req, err := decodeRequest(raw)
	if err != nil || req.Method != "auth" {
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeInvalidRequest, "first call must be auth"))
		return false
	}

	var params wsgateway.AuthParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeInvalidRequest, "invalid auth params"))
		return false
	}

	if subtle.ConstantTimeCompare([]byte(params.BearerToken), []byte(o.bearerToken)) != 1 {
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeNotAuthenticated, "invalid bearer token"))
		return false
	}

	agentID := params.AgentID
	if agentID == "" {
		agentID = gateway.DefaultAgentID
	}

	o.mu.Lock()
	if o.activeAgentID != "" {
		o.mu.Unlock()
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeNotAuthenticated, "another session is already authenticated"))
		return false
	}
	o.activeAgentID = agentID
	o.mu.Unlock()

	sess.agentID = agentID
	sess.setState(stateAuthed)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(1)
	}
	o.writeResponse(sess, wsgateway.NewResult(req.ID, map[string]any{"status": "ok"}))
	return true
}

// releaseSession frees the single-connection slot once a session ends,
// whatever the reason.
func (o *Orchestrator) releaseSession(sess *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeAgentID == sess.agentID {
		o.activeAgentID = ""
	}
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(0)
	}
}

func (o *Orchestrator) writeResponse(sess *session, resp wsgateway.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		o.logger.Error("marshal response failed", "error", err)
		return
	}
	if err := sess.conn.WriteMessage(payload); err != nil {
		o.logger.Debug("write response failed", "agent_id", sess.agentID, "error", err)
	}
}

func decodeRequest(raw []byte) (wsgateway.Request, error) {
	var req wsgateway.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return wsgateway.Request{}, err
	}
	return req, nil
}

// handleGetPendingResults drains every queued result for this agent and
// returns them in one response.
func (o *Orchestrator) handleGetPendingResults(ctx context.Context, sess *session, req wsgateway.Request) {
	results, err := o.pendingStore.DrainResultsForAgent(ctx, sess.agentID)
	if err != nil {
		o.logger.Error("drain pending results failed", "agent_id", sess.agentID, "error", err)
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeExecutionFailed, "failed to read pending results"))
		return
	}

	wire := make([]wsgateway.ToolResultWire, 0, len(results))
	for _, r := range results {
		wire = append(wire, wsgateway.ToolResultWire{RequestID: r.RequestID, Status: string(r.Status), Data: r.Data})
	}
	o.writeResponse(sess, wsgateway.NewResult(req.ID, map[string]any{"results": wire}))
}

// handleToolRequest runs the full pipeline from spec §4.J: rate limit,
// validate + evaluate, then branch on the resulting Decision.
func (o *Orchestrator) handleToolRequest(ctx context.Context, sess *session, req wsgateway.Request) {
	start := time.Now()
	var params wsgateway.ToolRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeInvalidRequest, "invalid tool_request params"))
		return
	}

	rlResult, err := o.rateLimiter.Allow(ctx, ratelimit.FormatKey(sess.agentID), o.rateLimitConfig)
	if err != nil {
		o.logger.Error("rate limiter error", "error", err)
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeExecutionFailed, "internal error"))
		return
	}
	if !rlResult.Allowed {
		if o.metrics != nil {
			o.metrics.RateLimitRejections.Inc()
		}
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeRateLimitExceeded, "rate limit exceeded"))
		return
	}

	result, err := o.engine.Evaluate(params.ToolName, params.Arguments)
	if err != nil {
		var ve *validation.ValidationError
		if asValidationError(err, &ve) {
			o.logValidationDenial(ctx, sess, params, ve)
			o.writeResponse(sess, wsgateway.NewError(req.ID, ve.Code, ve.Message))
			return
		}
		o.logger.Error("engine evaluation failed", "tool", params.ToolName, "error", err)
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeExecutionFailed, "internal error"))
		return
	}

	toolReq := gateway.ToolRequest{
		RequestID: params.RequestID,
		ToolName:  params.ToolName,
		Arguments: params.Arguments,
		Signature: result.Signature,
		AgentID:   sess.agentID,
	}

	switch result.Decision {
	case gateway.DecisionDeny:
		o.handleDeny(ctx, sess, req, toolReq)
	case gateway.DecisionAllow:
		o.handleAllow(ctx, sess, req, toolReq)
	default:
		o.handleAsk(ctx, sess, req, toolReq)
	}

	if o.metrics != nil {
		decision := string(result.Decision)
		o.metrics.ToolRequestsTotal.WithLabelValues(decision).Inc()
		o.metrics.ToolRequestLatency.WithLabelValues(decision).Observe(time.Since(start).Seconds())
	}
}

// logValidationDenial records a request that never reached a policy
// decision because its arguments failed validation first — attributed to
// the validator rather than the policy engine in the audit trail.
func (o *Orchestrator) logValidationDenial(ctx context.Context, sess *session, params wsgateway.ToolRequestParams, ve *validation.ValidationError) {
	now := time.Now()
	resolution := gateway.ResolutionDeniedByPolicy
	resolvedBy := gateway.ResolvedByValidator
	o.logAudit(ctx, gateway.AuditEntry{
		RequestID:  params.RequestID,
		Timestamp:  now,
		ToolName:   params.ToolName,
		Arguments:  params.Arguments,
		Decision:   gateway.DecisionDeny,
		Resolution: &resolution,
		ResolvedBy: &resolvedBy,
		ResolvedAt: &now,
		AgentID:    sess.agentID,
	})
}

func asValidationError(err error, target **validation.ValidationError) bool {
	ve, ok := err.(*validation.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func (o *Orchestrator) handleDeny(ctx context.Context, sess *session, req wsgateway.Request, toolReq gateway.ToolRequest) {
	now := time.Now()
	resolution := gateway.ResolutionDeniedByPolicy
	resolvedBy := gateway.ResolvedByPolicy
	o.logAudit(ctx, gateway.AuditEntry{
		RequestID:  toolReq.RequestID,
		Timestamp:  now,
		ToolName:   toolReq.ToolName,
		Arguments:  toolReq.Arguments,
		Signature:  toolReq.Signature,
		Decision:   gateway.DecisionDeny,
		Resolution: &resolution,
		ResolvedBy: &resolvedBy,
		ResolvedAt: &now,
		AgentID:    toolReq.AgentID,
	})
	o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodePolicyDenied, "Policy denied"))
}

func (o *Orchestrator) handleAllow(ctx context.Context, sess *session, req wsgateway.Request, toolReq gateway.ToolRequest) {
	data, err := o.executor.Execute(ctx, toolReq.ToolName, toolReq.Arguments)
	now := time.Now()

	if err != nil {
		o.logger.Warn("tool execution failed", "tool", toolReq.ToolName, "request_id", toolReq.RequestID, "args", audit.Redact(toolReq.Arguments), "error", err)
		resolution := gateway.ResolutionExecuted
		resolvedBy := gateway.ResolvedByPolicy
		o.logAudit(ctx, gateway.AuditEntry{
			RequestID:       toolReq.RequestID,
			Timestamp:       now,
			ToolName:        toolReq.ToolName,
			Arguments:       toolReq.Arguments,
			Signature:       toolReq.Signature,
			Decision:        gateway.DecisionAllow,
			Resolution:      &resolution,
			ResolvedBy:      &resolvedBy,
			ResolvedAt:      &now,
			ExecutionResult: err.Error(),
			AgentID:         toolReq.AgentID,
		})
		ge, _ := gateway.AsGatewayError(err)
		code := gateway.CodeExecutionFailed
		msg := "execution failed"
		if ge != nil {
			code, msg = ge.Code, ge.Message
		}
		o.writeResponse(sess, wsgateway.NewError(req.ID, code, msg))
		return
	}

	resolution := gateway.ResolutionExecuted
	resolvedBy := gateway.ResolvedByPolicy
	o.logAudit(ctx, gateway.AuditEntry{
		RequestID:       toolReq.RequestID,
		Timestamp:       now,
		ToolName:        toolReq.ToolName,
		Arguments:       toolReq.Arguments,
		Signature:       toolReq.Signature,
		Decision:        gateway.DecisionAllow,
		Resolution:      &resolution,
		ResolvedBy:      &resolvedBy,
		ResolvedAt:      &now,
		ExecutionResult: data,
		AgentID:         toolReq.AgentID,
	})
	o.writeResponse(sess, wsgateway.NewResult(req.ID, wsgateway.ToolResultWire{
		RequestID: toolReq.RequestID,
		Status:    string(gateway.StatusExecuted),
		Data:      data,
	}))
}

// handleAsk suspends the request behind a human approval, persists it for
// crash recovery, and blocks this goroutine (not the connection's read
// loop, which runs independently) until resolve() is called by the
// messenger callback, the timeout timer, or shutdown.
func (o *Orchestrator) handleAsk(ctx context.Context, sess *session, req wsgateway.Request, toolReq gateway.ToolRequest) {
	if !o.pendingCap.Reserve() {
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeRateLimitExceeded, "too many pending approvals"))
		return
	}

	now := time.Now()
	expiresAt := now.Add(o.approvalTimeout)

	if err := o.pendingStore.Insert(ctx, toolReq.RequestID, toolReq.ToolName, toolReq.Arguments, toolReq.Signature, expiresAt); err != nil {
		o.pendingCap.Release()
		o.logger.Error("persist pending approval failed", "request_id", toolReq.RequestID, "error", err)
		o.writeResponse(sess, wsgateway.NewError(req.ID, gateway.CodeExecutionFailed, "internal error"))
		return
	}

	approval := pending.NewPendingApproval(toolReq, now, expiresAt)
	o.pendingReg.Add(approval)
	if o.metrics != nil {
		o.metrics.PendingApprovals.Inc()
	}
	approval.SetTimer(time.AfterFunc(o.approvalTimeout, func() {
		o.resolve(context.Background(), toolReq.RequestID, pending.OutcomeTimeout, gateway.ResolvedByTimeout)
	}))

	messageID, err := o.messenger.SendApproval(ctx, toolReq)
	if err != nil {
		o.logger.Warn("send approval prompt failed", "request_id", toolReq.RequestID, "error", err)
	} else {
		approval.SetMessageID(messageID)
		if err := o.pendingStore.SetMessageID(ctx, toolReq.RequestID, messageID); err != nil {
			o.logger.Warn("persist message id failed", "request_id", toolReq.RequestID, "error", err)
		}
	}

	completion := approval.Wait()
	toolResult, execErr := o.settleCompletion(ctx, toolReq, completion)

	if sess.getState() == stateAuthed {
		o.writeResponse(sess, askResponse(req.ID, completion.Outcome, toolResult, execErr))
		if err := o.pendingStore.Delete(ctx, toolReq.RequestID); err != nil {
			o.logger.Error("delete delivered pending record failed", "request_id", toolReq.RequestID, "error", err)
		}
		return
	}

	if err := o.pendingStore.SetResult(ctx, toolReq.RequestID, toolResult); err != nil {
		o.logger.Error("queue result for reconnect failed", "request_id", toolReq.RequestID, "error", err)
	}
}

// askResponse maps a settled ask-completion to the JSON-RPC reply: spec
// §6.1/§7/§8 require a typed error for every non-approved outcome
// (-32001 user denial, -32002 timeout) rather than a result payload with a
// "denied" status, and the same holds for an approved request whose
// downstream execution then failed.
func askResponse(id json.RawMessage, outcome pending.Outcome, result gateway.ToolResult, execErr error) wsgateway.Response {
	switch outcome {
	case pending.OutcomeApproved:
		if execErr != nil {
			ge, _ := gateway.AsGatewayError(execErr)
			code := gateway.CodeExecutionFailed
			msg := "execution failed"
			if ge != nil {
				code, msg = ge.Code, ge.Message
			}
			return wsgateway.NewError(id, code, msg)
		}
		return wsgateway.NewResult(id, wsgateway.ToolResultWire{
			RequestID: result.RequestID,
			Status:    string(result.Status),
			Data:      result.Data,
		})
	case pending.OutcomeTimeout:
		return wsgateway.NewError(id, gateway.CodeApprovalTimeout, "Approval timed out")
	case pending.OutcomeShutdown:
		return wsgateway.NewError(id, gateway.CodeExecutionFailed, "Gateway shutting down")
	default: // OutcomeDenied
		return wsgateway.NewError(id, gateway.CodeUserDenied, "Denied by reviewer")
	}
}

// onMessengerCallback is the messenger.CallbackFunc registered at
// construction: it translates a filtered human action into a resolve()
// call.
func (o *Orchestrator) onMessengerCallback(cb messenger.Callback) {
	outcome := pending.OutcomeDenied
	if cb.Action == messenger.ActionApprove {
		outcome = pending.OutcomeApproved
	}
	o.resolve(context.Background(), cb.RequestID, outcome, cb.UserID)
}

// resolve implements the atomic resolve(request_id, outcome, actor)
// operation (spec §4.J): it is the single place that races between the
// messenger callback, the timeout timer, and shutdown are settled, because
// pending.Registry.Resolve only delivers the completion to the first
// caller that reaches it.
func (o *Orchestrator) resolve(ctx context.Context, requestID string, outcome pending.Outcome, actor string) {
	approval, ok := o.pendingReg.Resolve(requestID, outcome, actor)
	if !ok {
		return // already resolved by a racing caller
	}
	o.pendingCap.Release()
	if o.metrics != nil {
		o.metrics.PendingApprovals.Dec()
	}

	if messageID := approval.MessageID(); messageID != nil {
		status, detail := messengerStatusFor(outcome, actor)
		if err := o.messenger.UpdateApproval(ctx, *messageID, status, detail); err != nil {
			o.logger.Warn("update approval message failed", "request_id", requestID, "error", err)
		}
	}
}

// settleCompletion turns a Completion into the audit entry and ToolResult
// for one finished ask request, plus the raw execution error (if any) so
// the caller can pick the right JSON-RPC error code. It does not touch the
// durable pending row — the caller still holds it and decides whether the
// result was delivered live (Delete) or must wait for a reconnect
// (SetResult).
func (o *Orchestrator) settleCompletion(ctx context.Context, toolReq gateway.ToolRequest, completion pending.Completion) (gateway.ToolResult, error) {
	now := time.Now()
	var (
		resolution gateway.Resolution
		result     gateway.ToolResult
		execData   any
		execErr    error
	)

	switch completion.Outcome {
	case pending.OutcomeApproved:
		data, err := o.executor.Execute(ctx, toolReq.ToolName, toolReq.Arguments)
		if err != nil {
			o.logger.Warn("approved tool execution failed", "tool", toolReq.ToolName, "request_id", toolReq.RequestID, "args", audit.Redact(toolReq.Arguments), "error", err)
			resolution = gateway.ResolutionExecuted
			execData = err.Error()
			execErr = err
			result = gateway.ToolResult{RequestID: toolReq.RequestID, Status: gateway.StatusDenied, Data: err.Error()}
		} else {
			resolution = gateway.ResolutionExecuted
			execData = data
			result = gateway.ToolResult{RequestID: toolReq.RequestID, Status: gateway.StatusExecuted, Data: data}
		}
	case pending.OutcomeTimeout:
		resolution = gateway.ResolutionTimeout
		result = gateway.ToolResult{RequestID: toolReq.RequestID, Status: gateway.StatusDenied, Data: "approval timed out"}
	case pending.OutcomeShutdown:
		resolution = gateway.ResolutionShutdown
		result = gateway.ToolResult{RequestID: toolReq.RequestID, Status: gateway.StatusDenied, Data: "gateway shutting down"}
	default: // OutcomeDenied
		resolution = gateway.ResolutionDeniedByUser
		result = gateway.ToolResult{RequestID: toolReq.RequestID, Status: gateway.StatusDenied, Data: "denied by reviewer"}
	}

	actor := completion.Actor
	o.logAudit(ctx, gateway.AuditEntry{
		RequestID:       toolReq.RequestID,
		Timestamp:       now,
		ToolName:        toolReq.ToolName,
		Arguments:       toolReq.Arguments,
		Signature:       toolReq.Signature,
		Decision:        gateway.DecisionAsk,
		Resolution:      &resolution,
		ResolvedBy:      &actor,
		ResolvedAt:      &now,
		ExecutionResult: execData,
		AgentID:         toolReq.AgentID,
	})

	return result, execErr
}

func (o *Orchestrator) logAudit(ctx context.Context, entry gateway.AuditEntry) {
	if err := o.auditStore.Log(ctx, entry); err != nil {
		o.logger.Error("audit log failed", "request_id", entry.RequestID, "error", err)
	}
}

func messengerStatusFor(outcome pending.Outcome, actor string) (status, detail string) {
	switch outcome {
	case pending.OutcomeApproved:
		return "approved", fmt.Sprintf("approved by %s", actor)
	case pending.OutcomeTimeout:
		return "timed_out", "no response before the approval window closed"
	case pending.OutcomeShutdown:
		return "cancelled", "gateway shut down while awaiting approval"
	default:
		return "denied", fmt.Sprintf("denied by %s", actor)
	}
}

// RecoverPending re-arms timers for every pending record that survived a
// restart (spec §5's crash-recovery requirement): records past their
// expiry resolve immediately as timeouts, the rest get a fresh timer sized
// to their remaining window.
func (o *Orchestrator) RecoverPending(ctx context.Context) error {
	records, err := o.pendingStore.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list pending records: %w", err)
	}

	now := time.Now()
	for _, rec := range records {
		if rec.Result != nil {
			continue // already settled, only awaiting a reconnect to drain
		}

		toolReq := gateway.ToolRequest{
			RequestID: rec.RequestID,
			ToolName:  rec.ToolName,
			Arguments: rec.Arguments,
			Signature: rec.Signature,
			AgentID:   gateway.DefaultAgentID,
		}
		approval := pending.NewPendingApproval(toolReq, rec.CreatedAt, rec.ExpiresAt)
		if rec.MessageID != nil {
			approval.SetMessageID(*rec.MessageID)
		}
		o.pendingReg.Add(approval)
		if o.metrics != nil {
			o.metrics.PendingApprovals.Inc()
		}
		// Recovered approvals were admitted before this process started, so
		// they don't claim a fresh slot from pendingCap — it bounds new
		// admissions, not pre-existing obligations. resolve()'s Release()
		// call is a guarded no-op for these (PendingCapCounter never goes
		// negative).

		remaining := rec.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0 // already lapsed: the timer fires at once
		}
		requestID := rec.RequestID
		approval.SetTimer(time.AfterFunc(remaining, func() {
			o.resolve(context.Background(), requestID, pending.OutcomeTimeout, gateway.ResolvedByTimeout)
		}))

		go func(toolReq gateway.ToolRequest) {
			completion := approval.Wait()
			ctx := context.Background()
			toolResult, _ := o.settleCompletion(ctx, toolReq, completion)
			// No live connection recovered this approval; queue the
			// result so the agent picks it up via get_pending_results.
			if err := o.pendingStore.SetResult(ctx, toolReq.RequestID, toolResult); err != nil {
				o.logger.Error("queue recovered result failed", "request_id", toolReq.RequestID, "error", err)
			}
		}(toolReq)
	}
	return nil
}

// Shutdown resolves every outstanding approval as a shutdown (spec §5) so
// no goroutine is left blocked on approval.Wait() past process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	resolved := o.pendingReg.SweepAll(pending.OutcomeShutdown, gateway.ResolvedByShutdown)
	for range resolved {
		o.pendingCap.Release()
		if o.metrics != nil {
			o.metrics.PendingApprovals.Dec()
		}
	}
}
