// Package tools turns schemas into MCP tools and registers the gateway's
// own tools.
package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
)

// PongText is the reply of the ping tool.
const PongText = "pong - FlowMCP Server with AuthKit is running!"

// RegisterBuiltins registers the tools every instance carries.
func RegisterBuiltins(reg *registry.Registry) ([]string, error) {
	builtins := []server.ServerTool{ping(), add()}
	if err := reg.AddAll(builtins); err != nil {
		return nil, err
	}
	names := make([]string, len(builtins))
	for i, t := range builtins {
		names[i] = t.Tool.Name
	}
	return names, nil
}

func ping() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool("ping",
			mcp.WithDescription("Check that the gateway is up."),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(PongText), nil
		},
	}
}

func add() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool("add",
			mcp.WithDescription("Add two numbers the way only MCP can"),
			mcp.WithNumber("a", mcp.Required()),
			mcp.WithNumber("b", mcp.Required()),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			a, err := numberArg(args, "a")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			b, err := numberArg(args, "b")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(formatNumber(a + b)), nil
		},
	}
}

// --- Helpers ---

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func numberArg(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s is required", name)
	}
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return n, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
