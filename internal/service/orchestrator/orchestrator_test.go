package orchestrator

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	wsgateway "github.com/TorbenWetter/agent-gate/internal/adapter/inbound/gateway"
	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/memory"
	"github.com/TorbenWetter/agent-gate/internal/domain/audit"
	"github.com/TorbenWetter/agent-gate/internal/domain/executor"
	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	"github.com/TorbenWetter/agent-gate/internal/domain/messenger"
	"github.com/TorbenWetter/agent-gate/internal/domain/pending"
	"github.com/TorbenWetter/agent-gate/internal/domain/permission"
	"github.com/TorbenWetter/agent-gate/internal/domain/ratelimit"
)

// fakePendingStore is an in-memory stand-in for the sqlite-backed store, so
// these tests exercise the orchestrator's pipeline without a database.
type fakePendingStore struct {
	mu      sync.Mutex
	records map[string]*gateway.PendingRecord
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{records: make(map[string]*gateway.PendingRecord)}
}

func (s *fakePendingStore) Initialize(ctx context.Context) error { return nil }

func (s *fakePendingStore) Insert(ctx context.Context, requestID, toolName string, args map[string]any, signature string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[requestID] = &gateway.PendingRecord{
		RequestID: requestID, ToolName: toolName, Arguments: args,
		Signature: signature, CreatedAt: time.Now(), ExpiresAt: expiresAt,
	}
	return nil
}

func (s *fakePendingStore) Get(ctx context.Context, requestID string) (*gateway.PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[requestID], nil
}

func (s *fakePendingStore) SetMessageID(ctx context.Context, requestID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[requestID]; ok {
		r.MessageID = &messageID
	}
	return nil
}

func (s *fakePendingStore) SetResult(ctx context.Context, requestID string, result gateway.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[requestID]
	if !ok {
		return gateway.ErrNotPending
	}
	r.Result = &result
	return nil
}

func (s *fakePendingStore) DrainResultsForAgent(ctx context.Context, agentID string) ([]gateway.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gateway.ToolResult
	for id, r := range s.records {
		if r.Result != nil {
			out = append(out, *r.Result)
			delete(s.records, id)
		}
	}
	return out, nil
}

func (s *fakePendingStore) Delete(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, requestID)
	return nil
}

func (s *fakePendingStore) CleanupStale(ctx context.Context, now time.Time) ([]gateway.PendingRecord, error) {
	return nil, nil
}

func (s *fakePendingStore) ListAll(ctx context.Context) ([]gateway.PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gateway.PendingRecord
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakePendingStore) Close(ctx context.Context) error { return nil }

// fakeAuditStore records every entry logged, for assertions.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []gateway.AuditEntry
}

func (s *fakeAuditStore) Log(ctx context.Context, entry gateway.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}
func (s *fakeAuditStore) Query(ctx context.Context, limit int) ([]gateway.AuditEntry, error) {
	return s.entries, nil
}
func (s *fakeAuditStore) QueryFiltered(ctx context.Context, filter audit.Filter) ([]gateway.AuditEntry, error) {
	return s.entries, nil
}
func (s *fakeAuditStore) QueryStats(ctx context.Context, filter audit.Filter) (audit.Stats, error) {
	return audit.Stats{}, nil
}
func (s *fakeAuditStore) Close(ctx context.Context) error { return nil }

func (s *fakeAuditStore) last() gateway.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

// fakeMessenger never actually sends anywhere; tests drive resolution by
// calling its registered callback directly.
type fakeMessenger struct {
	mu       sync.Mutex
	cb       messenger.CallbackFunc
	messages int
}

func (m *fakeMessenger) SendApproval(ctx context.Context, req gateway.ToolRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages++
	return "msg-1", nil
}
func (m *fakeMessenger) UpdateApproval(ctx context.Context, messageID, status, detail string) error {
	return nil
}
func (m *fakeMessenger) SetCallback(fn messenger.CallbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = fn
}
func (m *fakeMessenger) Start(ctx context.Context) error { return nil }
func (m *fakeMessenger) Stop(ctx context.Context) error   { return nil }

func (m *fakeMessenger) deliver(cb messenger.Callback) {
	m.mu.Lock()
	fn := m.cb
	m.mu.Unlock()
	fn(cb)
}

// fakeServiceHandler stands in for a downstream client like the Home
// Assistant adapter.
type fakeServiceHandler struct {
	result any
	err    error
	calls  int
}

func (h *fakeServiceHandler) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	h.calls++
	return h.result, h.err
}
func (h *fakeServiceHandler) HealthCheck(ctx context.Context) bool { return true }
func (h *fakeServiceHandler) Close() error                         { return nil }

type testRig struct {
	orch         *Orchestrator
	pendingStore *fakePendingStore
	auditStore   *fakeAuditStore
	msgr         *fakeMessenger
	handler      *fakeServiceHandler
	server       *httptest.Server
}

func newTestRig(t *testing.T, perms permission.Permissions, approvalTimeout time.Duration) *testRig {
	t.Helper()

	reg := executor.NewRegistry()
	handler := &fakeServiceHandler{result: map[string]any{"state": "on"}}
	reg.Route("ha_", "homeassistant")
	reg.Register("homeassistant", handler)

	pendingStore := newFakePendingStore()
	auditStore := &fakeAuditStore{}
	msgr := &fakeMessenger{}

	orch := New(Deps{
		Engine:          permission.NewEngine(perms, nil),
		Executor:        reg,
		PendingRegistry: pending.NewRegistry(),
		PendingStore:    pendingStore,
		AuditStore:      auditStore,
		Messenger:       msgr,
		RateLimiter:     memory.NewRateLimiter(),
		PendingCap:      memory.NewPendingCapCounter(10),
		BearerToken:     "secret-token",
		ApprovalTimeout: approvalTimeout,
		RateLimit:       ratelimit.RateLimitConfig{Rate: 1000, Burst: 1000, Period: time.Minute},
		Logger:          testLogger(),
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsgateway.Upgrade(w, r)
		if err != nil {
			return
		}
		orch.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return &testRig{orch: orch, pendingStore: pendingStore, auditStore: auditStore, msgr: msgr, handler: handler, server: server}
}

// rigClient drives the orchestrator through its JSON-RPC wire protocol
// using the same frame helpers as the gateway package's own tests.
type rigClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func (r *rigClient) sendJSON(id, method string, params any) {
	r.t.Helper()
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		r.t.Fatalf("marshal params: %v", err)
	}
	req := wsgateway.Request{JSONRPC: "2.0", ID: json.RawMessage(id), Method: method, Params: paramsRaw}
	raw, err := json.Marshal(req)
	if err != nil {
		r.t.Fatalf("marshal request: %v", err)
	}
	if err := r.writeText(raw); err != nil {
		r.t.Fatalf("writeText: %v", err)
	}
}

func (r *rigClient) readResponse() wsgateway.Response {
	r.t.Helper()
	_, payload, err := r.readFrame()
	if err != nil {
		r.t.Fatalf("readFrame: %v", err)
	}
	var resp wsgateway.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		r.t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func (r *rigClient) writeText(payload []byte) error {
	header := []byte{0x81, byte(len(payload))}
	if len(payload) > 125 {
		header = []byte{0x81, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
	}
	if _, err := r.conn.Write(header); err != nil {
		return err
	}
	_, err := r.conn.Write(payload)
	return err
}

func (r *rigClient) readFrame() (byte, []byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r.br, header); err != nil {
		return 0, nil, err
	}
	opcode := header[0] & 0x0F
	length := uint64(header[1] & 0x7F)
	switch length {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r.br, ext); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r.br, ext); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return 0, nil, err
	}
	return opcode, payload, nil
}

func (r *rigClient) close() { r.conn.Close() }

func dialRig(t *testing.T, serverURL string) *rigClient {
	t.Helper()
	addr := strings.TrimPrefix(serverURL, "http://")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	keyBytes := make([]byte, 16)
	_, _ = rand.Read(keyBytes)
	key := base64.StdEncoding.EncodeToString(keyBytes)

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	return &rigClient{t: t, conn: conn, br: br}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (r *rigClient) authenticate(token string) {
	r.t.Helper()
	r.sendJSON(`1`, "auth", wsgateway.AuthParams{BearerToken: token})
	resp := r.readResponse()
	if resp.Error != nil {
		r.t.Fatalf("auth failed: %+v", resp.Error)
	}
}

func TestOrchestrator_AuthRejectsBadToken(t *testing.T) {
	rig := newTestRig(t, permission.Permissions{}, time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()

	client.sendJSON(`1`, "auth", wsgateway.AuthParams{BearerToken: "wrong"})
	resp := client.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodeNotAuthenticated {
		t.Fatalf("expected CodeNotAuthenticated, got %+v", resp.Error)
	}
}

func TestOrchestrator_SecondConnectionRejectedWhileFirstAuthed(t *testing.T) {
	rig := newTestRig(t, permission.Permissions{}, time.Second)

	first := dialRig(t, rig.server.URL)
	defer first.close()
	first.authenticate("secret-token")

	second := dialRig(t, rig.server.URL)
	defer second.close()
	second.sendJSON(`1`, "auth", wsgateway.AuthParams{BearerToken: "secret-token"})
	resp := second.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodeNotAuthenticated {
		t.Fatalf("expected the second session to be rejected, got %+v", resp.Error)
	}
}

func TestOrchestrator_DenyRuleSkipsExecutionAndAudits(t *testing.T) {
	perms := permission.Permissions{
		Rules: []permission.Rule{{Pattern: "ha_call_service(lock.*)", Action: permission.ActionDeny}},
	}
	rig := newTestRig(t, perms, time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-1", ToolName: "ha_call_service",
		Arguments: map[string]any{"domain": "lock", "service": "unlock", "entity_id": "lock.front_door"},
	})
	resp := client.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodePolicyDenied {
		t.Fatalf("expected a policy-denied error, got %+v", resp)
	}
	if rig.handler.calls != 0 {
		t.Errorf("expected the downstream service never to be called, got %d calls", rig.handler.calls)
	}

	entry := rig.auditStore.last()
	if entry.Decision != gateway.DecisionDeny || entry.Resolution == nil || *entry.Resolution != gateway.ResolutionDeniedByPolicy {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
}

func TestOrchestrator_AllowRuleExecutesTool(t *testing.T) {
	perms := permission.Permissions{
		Defaults: []permission.Rule{{Pattern: "ha_get_*", Action: permission.ActionAllow}},
	}
	rig := newTestRig(t, perms, time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-2", ToolName: "ha_get_state",
		Arguments: map[string]any{"entity_id": "sensor.temp"},
	})
	resp := client.readResponse()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result wsgateway.ToolResultWire
	_ = json.Unmarshal(raw, &result)
	if result.Status != string(gateway.StatusExecuted) {
		t.Errorf("expected executed status, got %s", result.Status)
	}
	if rig.handler.calls != 1 {
		t.Errorf("expected exactly one downstream call, got %d", rig.handler.calls)
	}
}

func TestOrchestrator_InvalidArgumentDeniedBeforePolicy(t *testing.T) {
	perms := permission.Permissions{Rules: []permission.Rule{{Pattern: "*", Action: permission.ActionAllow}}}
	rig := newTestRig(t, perms, time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-3", ToolName: "ha_get_state",
		Arguments: map[string]any{"entity_id": "light.*"},
	})
	resp := client.readResponse()
	if resp.Error == nil {
		t.Fatal("expected the malformed argument to be rejected")
	}

	entry := rig.auditStore.last()
	if entry.ResolvedBy == nil || *entry.ResolvedBy != gateway.ResolvedByValidator {
		t.Errorf("expected the audit entry to attribute the denial to the validator, got %+v", entry.ResolvedBy)
	}
}

func TestOrchestrator_AskRuleSuspendsUntilMessengerApproves(t *testing.T) {
	perms := permission.Permissions{
		Rules: []permission.Rule{{Pattern: "ha_call_service(light.*)", Action: permission.ActionAsk}},
	}
	rig := newTestRig(t, perms, 5*time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-4", ToolName: "ha_call_service",
		Arguments: map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.bedroom"},
	})

	// Give handleAsk's goroutine time to persist the pending row and send
	// the approval prompt before the human "approves" it.
	deadline := time.Now().Add(time.Second)
	for rig.msgr.messages == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rig.msgr.messages == 0 {
		t.Fatal("expected an approval prompt to have been sent")
	}

	rig.msgr.deliver(messenger.Callback{RequestID: "req-4", Action: messenger.ActionApprove, UserID: "alice", Timestamp: time.Now()})

	resp := client.readResponse()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result wsgateway.ToolResultWire
	_ = json.Unmarshal(raw, &result)
	if result.Status != string(gateway.StatusExecuted) {
		t.Errorf("expected executed status after approval, got %s", result.Status)
	}
	if rig.handler.calls != 1 {
		t.Errorf("expected exactly one downstream call, got %d", rig.handler.calls)
	}

	if rec, _ := rig.pendingStore.Get(context.Background(), "req-4"); rec != nil {
		t.Errorf("expected the pending record to be deleted once delivered live, got %+v", rec)
	}
}

func TestOrchestrator_AskRuleDeniedByReviewer(t *testing.T) {
	perms := permission.Permissions{
		Rules: []permission.Rule{{Pattern: "ha_call_service(light.*)", Action: permission.ActionAsk}},
	}
	rig := newTestRig(t, perms, 5*time.Second)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-5", ToolName: "ha_call_service",
		Arguments: map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.bedroom"},
	})

	deadline := time.Now().Add(time.Second)
	for rig.msgr.messages == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	rig.msgr.deliver(messenger.Callback{RequestID: "req-5", Action: messenger.ActionDeny, UserID: "alice", Timestamp: time.Now()})

	resp := client.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodeUserDenied {
		t.Fatalf("expected a user-denied error, got %+v", resp)
	}
	if rig.handler.calls != 0 {
		t.Errorf("expected the downstream service never to be called on denial, got %d calls", rig.handler.calls)
	}
}

func TestOrchestrator_AskRuleTimesOutWithNoReviewerResponse(t *testing.T) {
	perms := permission.Permissions{
		Rules: []permission.Rule{{Pattern: "ha_call_service(light.*)", Action: permission.ActionAsk}},
	}
	rig := newTestRig(t, perms, 50*time.Millisecond)
	client := dialRig(t, rig.server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-6", ToolName: "ha_call_service",
		Arguments: map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.bedroom"},
	})

	resp := client.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodeApprovalTimeout {
		t.Fatalf("expected an approval-timeout error, got %+v", resp)
	}
	if rig.handler.calls != 0 {
		t.Errorf("expected the downstream service never to be called on timeout, got %d calls", rig.handler.calls)
	}
}

func TestOrchestrator_RateLimitExceeded(t *testing.T) {
	reg := executor.NewRegistry()
	handler := &fakeServiceHandler{result: "ok"}
	reg.Route("ha_", "homeassistant")
	reg.Register("homeassistant", handler)

	orch := New(Deps{
		Engine:          permission.NewEngine(permission.Permissions{Defaults: []permission.Rule{{Pattern: "ha_get_*", Action: permission.ActionAllow}}}, nil),
		Executor:        reg,
		PendingRegistry: pending.NewRegistry(),
		PendingStore:    newFakePendingStore(),
		AuditStore:      &fakeAuditStore{},
		Messenger:       &fakeMessenger{},
		RateLimiter:     memory.NewRateLimiter(),
		PendingCap:      memory.NewPendingCapCounter(10),
		BearerToken:     "secret-token",
		ApprovalTimeout: time.Second,
		RateLimit:       ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Minute},
		Logger:          testLogger(),
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsgateway.Upgrade(w, r)
		if err != nil {
			return
		}
		orch.HandleConnection(r.Context(), conn)
	}))
	defer server.Close()

	client := dialRig(t, server.URL)
	defer client.close()
	client.authenticate("secret-token")

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-rl", ToolName: "ha_get_state", Arguments: map[string]any{"entity_id": "sensor.temp"},
	})
	if resp := client.readResponse(); resp.Error != nil {
		t.Fatalf("expected the first request to be allowed, got %+v", resp.Error)
	}

	client.sendJSON(`2`, "tool_request", wsgateway.ToolRequestParams{
		RequestID: "req-rl-2", ToolName: "ha_get_state", Arguments: map[string]any{"entity_id": "sensor.temp"},
	})
	resp := client.readResponse()
	if resp.Error == nil || resp.Error.Code != gateway.CodeRateLimitExceeded {
		t.Fatalf("expected CodeRateLimitExceeded, got %+v", resp.Error)
	}
}
