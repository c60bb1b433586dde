// Package registry tracks the tools registered on one MCP server instance.
//
// The registry is append-only: a tool name can be added once and is never
// replaced or removed. Writes happen while the owning instance initializes;
// afterwards it is only read.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

// ErrToolCollision is returned when a tool name is already registered.
var ErrToolCollision = errors.New("tool name already registered")

// Registry records tools in insertion order and forwards them to an MCP
// server.
type Registry struct {
	mu    sync.RWMutex
	srv   *server.MCPServer
	names []string
	tools map[string]server.ServerTool
}

// New creates a registry forwarding to srv. A nil srv records tools without
// serving them, which is how the CLI previews an instance.
func New(srv *server.MCPServer) *Registry {
	return &Registry{
		srv:   srv,
		tools: make(map[string]server.ServerTool),
	}
}

// Server returns the MCP server the registry writes to.
func (r *Registry) Server() *server.MCPServer { return r.srv }

// Add registers one tool.
func (r *Registry) Add(tool server.ServerTool) error {
	return r.AddAll([]server.ServerTool{tool})
}

// AddAll registers tools as a unit: if any name collides with a registered
// tool or with another tool in the batch, nothing is added.
func (r *Registry) AddAll(tools []server.ServerTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]bool, len(tools))
	for _, t := range tools {
		name := t.Tool.Name
		if _, exists := r.tools[name]; exists || batch[name] {
			return fmt.Errorf("%w: %s", ErrToolCollision, name)
		}
		batch[name] = true
	}

	for _, t := range tools {
		r.tools[t.Tool.Name] = t
		r.names = append(r.names, t.Tool.Name)
	}
	if r.srv != nil && len(tools) > 0 {
		r.srv.AddTools(tools...)
	}
	return nil
}

// Names returns registered tool names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Tool looks up a registered tool by name.
func (r *Registry) Tool(name string) (server.ServerTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Tool(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
