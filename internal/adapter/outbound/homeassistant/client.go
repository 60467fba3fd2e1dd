// Package homeassistant is a reference executor.ServiceHandler for the
// reference "ha_" namespace. The concrete downstream HTTP semantics are
// out of scope for the core (spec §1) — this is the one concrete handler
// that exercises the executor boundary end to end.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures a Client against one Home Assistant instance.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements executor.ServiceHandler over Home Assistant's REST
// API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Execute dispatches one of the four reference tools to the matching REST
// call.
func (c *Client) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	switch toolName {
	case "ha_call_service":
		return c.callService(ctx, args)
	case "ha_get_state":
		return c.getState(ctx, args)
	case "ha_get_states":
		return c.getStates(ctx)
	case "ha_fire_event":
		return c.fireEvent(ctx, args)
	default:
		return nil, fmt.Errorf("homeassistant: unsupported tool %q", toolName)
	}
}

func (c *Client) callService(ctx context.Context, args map[string]any) (any, error) {
	domain, _ := args["domain"].(string)
	service, _ := args["service"].(string)
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.do(ctx, http.MethodPost, path, args)
}

func (c *Client) getState(ctx context.Context, args map[string]any) (any, error) {
	entityID, _ := args["entity_id"].(string)
	path := fmt.Sprintf("/api/states/%s", entityID)
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) getStates(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, "/api/states", nil)
}

func (c *Client) fireEvent(ctx context.Context, args map[string]any) (any, error) {
	eventType, _ := args["event_type"].(string)
	path := fmt.Sprintf("/api/events/%s", eventType)
	return c.do(ctx, http.MethodPost, path, args)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("homeassistant returned status %d: %s", resp.StatusCode, string(data))
	}

	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

// HealthCheck probes /api/ and reports whether it succeeded. Never raises.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// Close releases the underlying HTTP client's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
