package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	domainmsg "github.com/TorbenWetter/agent-gate/internal/domain/messenger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookAdapter_SendApproval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-1"})
	}))
	defer server.Close()

	a := NewWebhookAdapter(Config{SendURL: server.URL}, testLogger())
	id, err := a.SendApproval(context.Background(), gateway.ToolRequest{RequestID: "r1", ToolName: "ha_call_service", Signature: "ha_call_service(light.turn_on, light.bedroom)"})
	if err != nil {
		t.Fatalf("SendApproval: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected msg-1, got %s", id)
	}
}

func TestWebhookAdapter_HandleCallback_FiltersUnallowedUsers(t *testing.T) {
	a := NewWebhookAdapter(Config{AllowedUsers: []string{"alice"}}, testLogger())

	received := false
	a.SetCallback(func(cb domainmsg.Callback) { received = true })

	body, _ := json.Marshal(map[string]string{"request_id": "r1", "action": "allow", "user_id": "mallory"})
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.HandleCallback(w, req)

	if received {
		t.Error("expected callback from an unallowed user to be discarded")
	}
}

func TestWebhookAdapter_HandleCallback_DeliversAllowedUser(t *testing.T) {
	a := NewWebhookAdapter(Config{AllowedUsers: []string{"alice"}}, testLogger())

	var got domainmsg.Callback
	a.SetCallback(func(cb domainmsg.Callback) { got = cb })

	body, _ := json.Marshal(map[string]string{"request_id": "r1", "action": "deny", "user_id": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.HandleCallback(w, req)

	if got.RequestID != "r1" || got.Action != domainmsg.ActionDeny || got.UserID != "alice" {
		t.Errorf("unexpected callback delivered: %+v", got)
	}
}
