// Command authkit-gateway serves FlowMCP schemas as MCP tools behind an
// OAuth 2.1 authorization server.
package main

import (
	"os"

	"github.com/FlowMCP/remote-mcp-authkit/internal/config"
)

func main() {
	if err := newRootCmd(config.Environ()).Execute(); err != nil {
		os.Exit(1)
	}
}
