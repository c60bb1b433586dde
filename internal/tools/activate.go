package tools

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FlowMCP/remote-mcp-authkit/internal/metrics"
	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
	"github.com/FlowMCP/remote-mcp-authkit/internal/schema"
)

// ActivationFailure records a schema that produced no tools.
type ActivationFailure struct {
	Namespace string
	Err       error
}

func (f ActivationFailure) Error() string {
	return fmt.Sprintf("activate %s: %v", f.Namespace, f.Err)
}

func (f ActivationFailure) Unwrap() error { return f.Err }

type activateConfig struct {
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// ActivateOption configures Activate.
type ActivateOption func(*activateConfig)

// WithHTTPClient sets the client derived tools call their APIs with.
func WithHTTPClient(c *http.Client) ActivateOption {
	return func(a *activateConfig) { a.http = c }
}

// WithLogger sets the logger failures are reported to.
func WithLogger(l *slog.Logger) ActivateOption {
	return func(a *activateConfig) { a.logger = l }
}

// WithMetrics sets the recorder failures are counted in.
func WithMetrics(m *metrics.Recorder) ActivateOption {
	return func(a *activateConfig) { a.metrics = m }
}

// Activate derives tools from each schema and adds them to reg, one schema
// at a time. A schema that fails to derive or register is skipped whole and
// reported; the rest are still activated.
func Activate(reg *registry.Registry, schemas []*schema.Schema, params map[string]string, opts ...ActivateOption) []ActivationFailure {
	cfg := activateConfig{
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var failures []ActivationFailure
	for _, s := range schemas {
		derived, err := Derive(s, params, cfg.http)
		if err == nil {
			err = reg.AddAll(derived)
		}
		if err != nil {
			cfg.logger.Error("schema activation failed", "namespace", s.Namespace, "err", err)
			cfg.metrics.ActivationFailed(s.Namespace)
			failures = append(failures, ActivationFailure{Namespace: s.Namespace, Err: err})
			continue
		}
		cfg.metrics.ToolsRegistered("schema", len(derived))
		cfg.logger.Debug("schema activated", "namespace", s.Namespace, "routes", s.RouteNames(), "tools", len(derived))
	}
	return failures
}

// ToolName is the registered name of a schema route.
func ToolName(route, namespace string) string {
	return route + "_" + namespace
}

var (
	serverParamRef = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
	pathParamRef   = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
)

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

var validTypes = map[string]bool{
	schema.TypeString:  true,
	schema.TypeNumber:  true,
	schema.TypeInteger: true,
	schema.TypeBoolean: true,
	schema.TypeArray:   true,
	schema.TypeObject:  true,
}

var validLocations = map[string]bool{
	schema.LocationQuery:  true,
	schema.LocationPath:   true,
	schema.LocationBody:   true,
	schema.LocationHeader: true,
}

// Derive builds one tool per route of s without registering anything.
func Derive(s *schema.Schema, params map[string]string, httpc *http.Client) ([]server.ServerTool, error) {
	for _, key := range s.RequiredServerParams {
		if params[key] == "" {
			return nil, fmt.Errorf("missing server param %s", key)
		}
	}

	root, err := url.Parse(s.Root)
	if err != nil || (root.Scheme != "http" && root.Scheme != "https") || root.Host == "" {
		return nil, fmt.Errorf("invalid root %q", s.Root)
	}

	headers := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		resolved, err := expandServerParams(v, params)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", k, err)
		}
		headers[k] = resolved
	}

	if len(s.Routes) == 0 {
		return nil, fmt.Errorf("schema has no routes")
	}

	out := make([]server.ServerTool, 0, len(s.Routes))
	for _, route := range s.Routes {
		b, err := newBinding(s, route, root, headers, params)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Name, err)
		}
		out = append(out, server.ServerTool{
			Tool:    b.tool(),
			Handler: b.handler(httpc),
		})
	}
	return out, nil
}

func expandServerParams(v string, params map[string]string) (string, error) {
	var missing string
	expanded := serverParamRef.ReplaceAllStringFunc(v, func(ref string) string {
		key := serverParamRef.FindStringSubmatch(ref)[1]
		val, ok := params[key]
		if !ok && missing == "" {
			missing = key
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("unknown server param %s", missing)
	}
	return expanded, nil
}

// binding is a validated route ready to be served as a tool.
type binding struct {
	name        string
	description string
	method      string
	endpoint    string
	headers     map[string]string
	params      []schema.Param
	defaults    map[string]any
}

func newBinding(s *schema.Schema, route schema.Route, root *url.URL, headers map[string]string, serverParams map[string]string) (*binding, error) {
	if route.Name == "" {
		return nil, fmt.Errorf("route has no name")
	}
	method := strings.ToUpper(route.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !validMethods[method] {
		return nil, fmt.Errorf("unsupported method %q", route.Method)
	}

	b := &binding{
		name:        ToolName(route.Name, s.Namespace),
		description: route.Description,
		method:      method,
		endpoint:    strings.TrimRight(root.String(), "/") + "/" + strings.TrimLeft(route.Path, "/"),
		headers:     headers,
		defaults:    make(map[string]any),
	}
	if b.description == "" {
		b.description = fmt.Sprintf("%s %s", method, route.Path)
	}
	if s.Name != "" {
		b.description += " (" + s.Name + ")"
	}

	seen := make(map[string]bool, len(route.Parameters))
	pathParams := make(map[string]bool)
	for _, p := range route.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter without name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			p.Type = schema.TypeString
		}
		if p.Location == "" {
			p.Location = schema.LocationQuery
		}
		if !validTypes[p.Type] {
			return nil, fmt.Errorf("parameter %s: unsupported type %q", p.Name, p.Type)
		}
		if !validLocations[p.Location] {
			return nil, fmt.Errorf("parameter %s: unsupported location %q", p.Name, p.Location)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return nil, fmt.Errorf("parameter %s: min above max", p.Name)
		}
		if p.Location == schema.LocationPath {
			pathParams[p.Name] = true
		}
		if def, ok := p.Default.(string); ok && serverParamRef.MatchString(def) {
			resolved, err := expandServerParams(def, serverParams)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			b.defaults[p.Name] = resolved
		}
		b.params = append(b.params, p)
	}

	for _, m := range pathParamRef.FindAllStringSubmatch(route.Path, -1) {
		if !pathParams[m[1]] {
			return nil, fmt.Errorf("path placeholder {%s} has no path parameter", m[1])
		}
		delete(pathParams, m[1])
	}
	if len(pathParams) > 0 {
		names := make([]string, 0, len(pathParams))
		for name := range pathParams {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("path parameter %s missing from path %q", names[0], route.Path)
	}
	return b, nil
}

func (b *binding) tool() mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(b.description)}
	for _, p := range b.params {
		// Server param values stay out of the input schema.
		if _, bound := b.defaults[p.Name]; bound {
			continue
		}
		popts := []mcp.PropertyOption{}
		if p.Description != "" {
			popts = append(popts, mcp.Description(p.Description))
		}
		// A parameter with a default is never required from the caller.
		if p.Required && p.Default == nil {
			popts = append(popts, mcp.Required())
		}

		switch p.Type {
		case schema.TypeNumber, schema.TypeInteger:
			if p.Min != nil {
				popts = append(popts, mcp.Min(*p.Min))
			}
			if p.Max != nil {
				popts = append(popts, mcp.Max(*p.Max))
			}
			if d, ok := toFloat(p.Default); ok {
				popts = append(popts, mcp.DefaultNumber(d))
			}
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case schema.TypeBoolean:
			if d, ok := p.Default.(bool); ok {
				popts = append(popts, mcp.DefaultBool(d))
			}
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case schema.TypeArray:
			opts = append(opts, mcp.WithArray(p.Name, popts...))
		case schema.TypeObject:
			opts = append(opts, mcp.WithObject(p.Name, popts...))
		default:
			if len(p.Enum) > 0 {
				popts = append(popts, mcp.Enum(p.Enum...))
			}
			if d, ok := p.Default.(string); ok {
				popts = append(popts, mcp.DefaultString(d))
			}
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(b.name, opts...)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
