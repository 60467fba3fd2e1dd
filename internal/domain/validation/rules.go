package validation

// GatewayMethods is the whitelist of JSON-RPC methods the orchestrator
// recognizes from an authenticated agent. Anything else is rejected with
// ErrCodeMethodNotFound.
var GatewayMethods = map[string]bool{
	"auth":                true,
	"tool_request":        true,
	"get_pending_results": true,
}

// IsGatewayMethod reports whether method is one of the three the
// orchestrator dispatches.
func IsGatewayMethod(method string) bool {
	return GatewayMethods[method]
}
