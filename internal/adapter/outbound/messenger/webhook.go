// Package messenger provides a reference webhook-backed implementation of
// the messenger.Adapter contract. The concrete chat-API semantics are out
// of scope for the core (spec §1) — this adapter only demonstrates the
// shape: POST a prompt to a configured URL, receive callbacks on an
// inbound HTTP handler the caller mounts, and filter them to the allowed
// user list before ever invoking the registered callback.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	"github.com/TorbenWetter/agent-gate/internal/domain/messenger"
)

// Config configures the webhook adapter.
type Config struct {
	SendURL       string
	UpdateURL     string
	AllowedUsers  []string
	RequestTimeout time.Duration
}

// WebhookAdapter implements messenger.Adapter by POSTing JSON payloads to
// operator-configured URLs and exposing HandleCallback for the inbound
// side of the round trip.
type WebhookAdapter struct {
	cfg        Config
	client     *http.Client
	logger     *slog.Logger
	allowed    map[string]bool
	mu         sync.Mutex
	callbackFn messenger.CallbackFunc
}

// NewWebhookAdapter builds an adapter from cfg. logger must not be nil.
func NewWebhookAdapter(cfg Config, logger *slog.Logger) *WebhookAdapter {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}
	return &WebhookAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		allowed: allowed,
	}
}

// SetCallback registers fn as the handler for filtered human actions.
func (a *WebhookAdapter) SetCallback(fn messenger.CallbackFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbackFn = fn
}

func (a *WebhookAdapter) Start(ctx context.Context) error { return nil }
func (a *WebhookAdapter) Stop(ctx context.Context) error  { return nil }

type sendApprovalPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Signature string `json:"signature"`
	Affordances []string `json:"affordances"`
}

type sendApprovalResponse struct {
	MessageID string `json:"message_id"`
}

// SendApproval posts a prompt showing req's signature with allow/deny
// affordances and returns the backend's opaque message id.
func (a *WebhookAdapter) SendApproval(ctx context.Context, req gateway.ToolRequest) (string, error) {
	body := sendApprovalPayload{
		RequestID:   req.RequestID,
		ToolName:    req.ToolName,
		Signature:   req.Signature,
		Affordances: []string{string(messenger.ActionApprove), string(messenger.ActionDeny)},
	}

	var resp sendApprovalResponse
	if err := a.post(ctx, a.cfg.SendURL, body, &resp); err != nil {
		return "", fmt.Errorf("send approval prompt: %w", err)
	}
	if resp.MessageID == "" {
		// The backend didn't supply a natural id; mint one so the
		// orchestrator still has something to edit later.
		resp.MessageID = uuid.NewString()
	}
	return resp.MessageID, nil
}

type updateApprovalPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

// UpdateApproval is best-effort: callers treat a returned error as
// log-and-swallow, never blocking resolution.
func (a *WebhookAdapter) UpdateApproval(ctx context.Context, messageID, status, detail string) error {
	body := updateApprovalPayload{MessageID: messageID, Status: status, Detail: detail}
	if err := a.post(ctx, a.cfg.UpdateURL, body, nil); err != nil {
		return fmt.Errorf("update approval message: %w", err)
	}
	return nil
}

func (a *WebhookAdapter) post(ctx context.Context, url string, body any, out any) error {
	if url == "" {
		return fmt.Errorf("no webhook URL configured")
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

type inboundCallback struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	UserID    string `json:"user_id"`
}

// HandleCallback is an http.HandlerFunc the caller mounts at a configured
// path to receive the backend's relayed human action. Callbacks from
// anyone outside the allowed-user list are silently discarded — per spec
// §4.I, this is the adapter's responsibility, not the orchestrator's.
func (a *WebhookAdapter) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var cb inboundCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !a.allowed[cb.UserID] {
		a.logger.Warn("discarding callback from unallowed user", "user_id", cb.UserID)
		w.WriteHeader(http.StatusOK)
		return
	}

	var action messenger.Action
	switch cb.Action {
	case string(messenger.ActionApprove):
		action = messenger.ActionApprove
	case string(messenger.ActionDeny):
		action = messenger.ActionDeny
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	fn := a.callbackFn
	a.mu.Unlock()

	if fn != nil {
		fn(messenger.Callback{
			RequestID: cb.RequestID,
			Action:    action,
			UserID:    cb.UserID,
			Timestamp: time.Now(),
		})
	}

	w.WriteHeader(http.StatusOK)
}

var _ messenger.Adapter = (*WebhookAdapter)(nil)
