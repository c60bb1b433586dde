package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/FlowMCP/remote-mcp-authkit/internal/oauth"
)

// Authorizer is the OAuth side of the gateway: it serves the auth endpoints
// and guards protocol endpoints with bearer tokens.
type Authorizer interface {
	http.Handler
	BearerMiddleware(resourcePath string) func(http.Handler) http.Handler
}

// Router dispatches requests by Route. Protocol requests are authenticated
// and served by the caller's pool instance; the rest go to the Authorizer
// untouched.
type Router struct {
	auth      http.Handler
	pool      *Pool
	routePath string
	opts      options

	sse      http.Handler
	standard http.Handler
}

// NewRouter wires auth and pool together.
func NewRouter(auth Authorizer, pool *Pool, routePath string, opts ...Option) *Router {
	rt := &Router{
		auth:      auth,
		pool:      pool,
		routePath: routePath,
		opts:      newOptions(opts),
	}
	rt.sse = auth.BearerMiddleware(PathSSE)(rt.protocol(DestinationStreaming))
	rt.standard = auth.BearerMiddleware(routePath)(rt.protocol(DestinationStandard))
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dest := Route(r.URL.Path, rt.routePath)
	rt.opts.metrics.Routed(string(dest))

	switch dest {
	case DestinationStreaming:
		rt.sse.ServeHTTP(w, r)
	case DestinationStandard:
		rt.standard.ServeHTTP(w, r)
	default:
		rt.auth.ServeHTTP(w, r)
	}
}

func (rt *Router) protocol(dest Destination) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		props, ok := oauth.PropsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Missing caller identity")
			return
		}

		inst, err := rt.pool.Get(r.Context(), props.Permissions)
		if err != nil {
			rt.opts.logger.Error("no server instance", "sub", props.Subject, "client_id", props.ClientID, "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_error", "MCP server unavailable")
			return
		}

		if dest == DestinationStreaming {
			inst.SSE.ServeHTTP(w, r)
			return
		}
		inst.Streamable.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
