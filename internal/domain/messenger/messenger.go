// Package messenger defines the out-of-band approval-channel boundary
// (spec §4.I). Concrete backends (chat-API specifics) are out of scope
// for the core; this package is the capability set the orchestrator
// depends on.
package messenger

import (
	"context"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// Action is what a human picked in response to an approval prompt.
type Action string

const (
	ActionApprove Action = "allow"
	ActionDeny    Action = "deny"
)

// Callback is the payload delivered when a human acts on a prompt. The
// adapter is solely responsible for filtering these to the allowed-user
// list before ever invoking the registered callback function — the
// orchestrator assumes it only ever sees filtered callbacks.
type Callback struct {
	RequestID string
	Action    Action
	UserID    string
	Timestamp time.Time
}

// CallbackFunc is invoked by the adapter when a filtered callback arrives.
type CallbackFunc func(Callback)

// Adapter is the messenger capability set: send, update, register a
// callback, and a start/stop lifecycle.
type Adapter interface {
	// SendApproval posts an approval prompt for req and returns an opaque
	// message id usable for later edits.
	SendApproval(ctx context.Context, req gateway.ToolRequest) (messageID string, err error)

	// UpdateApproval is a best-effort edit; failures are logged and
	// swallowed by the caller, never blocking resolution.
	UpdateApproval(ctx context.Context, messageID string, status string, detail string) error

	// SetCallback registers the function invoked when a filtered human
	// action arrives.
	SetCallback(fn CallbackFunc)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
