package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ActivationFailures(t *testing.T) {
	r := New()
	r.ActivationFailed("broken")
	r.ActivationFailed("broken")
	r.ActivationFailed("other")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.activationFailures.WithLabelValues("broken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activationFailures.WithLabelValues("other")))
}

func TestRecorder_InstancesAndImages(t *testing.T) {
	r := New()
	r.InstanceInitialized(10*time.Millisecond, nil)
	r.InstanceInitialized(10*time.Millisecond, errors.New("boom"))
	r.ImageGenerated(nil)
	r.ImageGenerated(errors.New("backend down"))
	r.ToolsRegistered("builtin", 2)
	r.ToolsRegistered("gated", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.instances))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.imageGenerations.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.toolsRegistered.WithLabelValues("builtin")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.toolsRegistered))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ActivationFailed("x")
		r.ToolsRegistered("schema", 3)
		r.InstanceInitialized(time.Second, nil)
		r.ImageGenerated(nil)
		r.Routed("auth")
	})
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Routed("standard")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `gateway_requests_total{destination="standard"} 1`)
}

func TestRecorder_Instrument(t *testing.T) {
	r := New()
	outcomes := map[string]func() (*mcp.CallToolResult, error){
		"ok":     func() (*mcp.CallToolResult, error) { return mcp.NewToolResultText("fine"), nil },
		"failed": func() (*mcp.CallToolResult, error) { return mcp.NewToolResultError("bad input"), nil },
		"broken": func() (*mcp.CallToolResult, error) { return nil, errors.New("boom") },
	}
	for name, outcome := range outcomes {
		handler := r.Instrument()(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return outcome()
		})
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		_, _ = handler(context.Background(), req)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("ok", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("failed", "tool_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("broken", "error")))

	var nilRecorder *Recorder
	handler := nilRecorder.Instrument()(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("pass"), nil
	})
	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}
