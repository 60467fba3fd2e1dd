// Package executor implements the static tool→service registry (spec
// §4.H): dispatch a tool call to the service handler that owns it.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// ServiceHandler is the capability set the executor requires of a
// downstream service client (spec §4.H). HealthCheck must never raise —
// it reports health as a bool, logged at startup as a warning only.
type ServiceHandler interface {
	Execute(ctx context.Context, toolName string, args map[string]any) (any, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

// Registry holds the static tool-name-prefix→service-key mapping and the
// service-key→handler table.
type Registry struct {
	prefixes []prefixRoute
	handlers map[string]ServiceHandler
}

type prefixRoute struct {
	prefix     string
	serviceKey string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ServiceHandler)}
}

// Route installs a tool-name prefix → service-key mapping (e.g. "ha_" →
// "homeassistant").
func (r *Registry) Route(prefix, serviceKey string) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, serviceKey: serviceKey})
}

// Register installs the handler for a service key.
func (r *Registry) Register(serviceKey string, handler ServiceHandler) {
	r.handlers[serviceKey] = handler
}

// Execute looks up the service for toolName and dispatches to its handler.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	serviceKey, ok := r.serviceFor(toolName)
	if !ok {
		return nil, gateway.NewError(gateway.KindExecution,
			fmt.Sprintf("Unknown tool: %s", toolName), gateway.ErrUnknownTool)
	}

	handler, ok := r.handlers[serviceKey]
	if !ok {
		return nil, gateway.NewError(gateway.KindExecution,
			fmt.Sprintf("Service not configured: %s", serviceKey), gateway.ErrServiceUnconfigured)
	}

	result, err := handler.Execute(ctx, toolName, args)
	if err != nil {
		return nil, gateway.NewError(gateway.KindExecution, err.Error(), err)
	}
	return result, nil
}

func (r *Registry) serviceFor(toolName string) (string, bool) {
	for _, route := range r.prefixes {
		if strings.HasPrefix(toolName, route.prefix) {
			return route.serviceKey, true
		}
	}
	return "", false
}

// HealthCheckAll runs HealthCheck on every registered handler and returns
// the service keys that reported unhealthy. Never blocks indefinitely —
// callers should wrap ctx with the 5s startup timeout (spec §5).
func (r *Registry) HealthCheckAll(ctx context.Context) []string {
	var unhealthy []string
	for key, handler := range r.handlers {
		if !handler.HealthCheck(ctx) {
			unhealthy = append(unhealthy, key)
		}
	}
	return unhealthy
}

// CloseAll closes every registered handler, collecting (not stopping on)
// errors.
func (r *Registry) CloseAll() []error {
	var errs []error
	for _, handler := range r.handlers {
		if err := handler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
