// Package gateway puts per-permission MCP server instances behind the OAuth
// provider and dispatches each request to the right one.
package gateway

// Destination names the handler a request path belongs to.
type Destination string

const (
	// DestinationStreaming is the SSE transport.
	DestinationStreaming Destination = "streaming"
	// DestinationStandard is the streamable HTTP transport at the route path.
	DestinationStandard Destination = "standard"
	// DestinationAuth is the OAuth provider, which also owns every unknown path.
	DestinationAuth Destination = "auth"
)

// Fixed SSE transport paths.
const (
	PathSSE        = "/sse"
	PathSSEMessage = "/sse/message"
)

// Route classifies path. Matching is exact: no prefixes, no trailing-slash
// normalization.
func Route(path, routePath string) Destination {
	switch path {
	case PathSSE, PathSSEMessage:
		return DestinationStreaming
	case routePath:
		return DestinationStandard
	default:
		return DestinationAuth
	}
}
