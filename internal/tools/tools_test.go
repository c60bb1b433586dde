package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
)

func call(t *testing.T, reg *registry.Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool, ok := reg.Tool(name)
	require.True(t, ok, "tool %s not registered", name)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New(nil)
	names, err := RegisterBuiltins(reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "add"}, names)

	_, err = RegisterBuiltins(reg)
	assert.ErrorIs(t, err, registry.ErrToolCollision)
}

func TestPing(t *testing.T) {
	reg := registry.New(nil)
	_, err := RegisterBuiltins(reg)
	require.NoError(t, err)

	res := call(t, reg, "ping", nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "pong - FlowMCP Server with AuthKit is running!", resultText(t, res))
}

func TestAdd(t *testing.T) {
	reg := registry.New(nil)
	_, err := RegisterBuiltins(reg)
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    map[string]any
		want    string
		isError bool
	}{
		{"integers", map[string]any{"a": 2.0, "b": 3.0}, "5", false},
		{"fractions", map[string]any{"a": 1.5, "b": 0.25}, "1.75", false},
		{"negative", map[string]any{"a": -4.0, "b": 1.0}, "-3", false},
		{"missing b", map[string]any{"a": 1.0}, "", true},
		{"not a number", map[string]any{"a": "x", "b": 1.0}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, reg, "add", tt.args)
			assert.Equal(t, tt.isError, res.IsError)
			if !tt.isError {
				assert.Equal(t, tt.want, resultText(t, res))
			}
		})
	}
}

func TestStringOr(t *testing.T) {
	assert.Equal(t, "hello", stringOr("hello", "default"))
	assert.Equal(t, "default", stringOr("", "default"))
	assert.Equal(t, "default", stringOr(nil, "default"))
	assert.Equal(t, "default", stringOr(42, "default"))
}

func TestNumberArg_RejectsBool(t *testing.T) {
	_, err := numberArg(map[string]any{"a": true}, "a")
	assert.Error(t, err)

	n, err := numberArg(map[string]any{"a": "2.5"}, "a")
	require.NoError(t, err)
	assert.Equal(t, 2.5, n)
}
