package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/FlowMCP/remote-mcp-authkit/internal/schema"
)

// maxResponseBytes caps how much of an API response is returned to the caller.
const maxResponseBytes = 4 << 20

func (b *binding) handler(httpc *http.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		values, err := b.bind(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		httpReq, err := b.request(ctx, values)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("build request: %v", err)), nil
		}

		resp, err := httpc.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", b.name, err)), nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read response: %v", err)), nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return mcp.NewToolResultError(fmt.Sprintf("%s: HTTP %d: %s", b.name, resp.StatusCode, strings.TrimSpace(string(body)))), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// bind validates caller arguments against the route parameters, filling
// defaults and coercing values to their declared types.
func (b *binding) bind(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(b.params))
	for _, p := range b.params {
		// Parameters bound to server params are not advertised, so the
		// caller cannot override them.
		v, ok := b.defaults[p.Name]
		if !ok {
			v, ok = args[p.Name]
		}
		if !ok || v == nil {
			switch {
			case p.Default != nil:
				v = p.Default
			case p.Required:
				return nil, fmt.Errorf("missing required parameter %s", p.Name)
			default:
				continue
			}
		}

		cv, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, cast.ToString(cv)) {
			return nil, fmt.Errorf("parameter %s: %v is not one of %s", p.Name, cv, strings.Join(p.Enum, ", "))
		}
		if n, ok := toFloat(cv); ok {
			if p.Min != nil && n < *p.Min {
				return nil, fmt.Errorf("parameter %s: %v is below minimum %v", p.Name, cv, *p.Min)
			}
			if p.Max != nil && n > *p.Max {
				return nil, fmt.Errorf("parameter %s: %v is above maximum %v", p.Name, cv, *p.Max)
			}
		}
		out[p.Name] = cv
	}
	return out, nil
}

func coerce(typ string, v any) (any, error) {
	switch typ {
	case schema.TypeNumber:
		if _, isBool := v.(bool); isBool {
			return nil, fmt.Errorf("expected number")
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("expected number")
		}
		return f, nil
	case schema.TypeInteger:
		if _, isBool := v.(bool); isBool {
			return nil, fmt.Errorf("expected integer")
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer")
		}
		return int64(f), nil
	case schema.TypeBoolean:
		bv, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("expected boolean")
		}
		return bv, nil
	case schema.TypeArray:
		if _, isString := v.(string); isString {
			return nil, fmt.Errorf("expected array")
		}
		s, err := cast.ToSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("expected array")
		}
		return s, nil
	case schema.TypeObject:
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, fmt.Errorf("expected object")
		}
		return m, nil
	default:
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("expected string")
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	}
}

func (b *binding) request(ctx context.Context, values map[string]any) (*http.Request, error) {
	endpoint := b.endpoint
	query := url.Values{}
	body := map[string]any{}
	headers := http.Header{}

	for _, p := range b.params {
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		switch p.Location {
		case schema.LocationPath:
			endpoint = strings.ReplaceAll(endpoint, "{"+p.Name+"}", url.PathEscape(cast.ToString(v)))
		case schema.LocationBody:
			body[p.Name] = v
		case schema.LocationHeader:
			headers.Set(p.Name, cast.ToString(v))
		default:
			for _, s := range queryValues(v) {
				query.Add(p.Name, s)
			}
		}
	}

	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, b.method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	return req, nil
}

func queryValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, cast.ToString(item))
		}
		return out
	case map[string]any:
		data, _ := json.Marshal(t)
		return []string{string(data)}
	}
	return []string{cast.ToString(v)}
}
