package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/FlowMCP/remote-mcp-authkit/internal/client"
	"github.com/FlowMCP/remote-mcp-authkit/internal/mcpfilter"
	"github.com/FlowMCP/remote-mcp-authkit/internal/metrics"
	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
	"github.com/FlowMCP/remote-mcp-authkit/internal/schema"
	"github.com/FlowMCP/remote-mcp-authkit/internal/tools"
)

// Identity every instance reports to MCP clients.
const (
	ServerName    = "FlowMCP Schema Server with AuthKit"
	ServerVersion = "1.0.0"
)

// Instance is one MCP server with the tool set of a permission set.
type Instance struct {
	Permissions []string
	Registry    *registry.Registry
	Report      Report
	SSE         *server.SSEServer
	Streamable  *server.StreamableHTTPServer
}

// Shutdown closes the instance's transports.
func (i *Instance) Shutdown(ctx context.Context) error {
	return errors.Join(i.SSE.Shutdown(ctx), i.Streamable.Shutdown(ctx))
}

// Report summarizes what Populate registered.
type Report struct {
	Loaded   int
	Selected []string
	Failures []tools.ActivationFailure
	Builtins []string
	Gated    []string
}

// Builder assembles instances: load, filter, activate, builtins, gate.
type Builder struct {
	Loader       *schema.Loader
	LoadOptions  schema.LoadOptions
	Filter       mcpfilter.Options
	ServerParams map[string]string
	HTTPClient   *http.Client
	Images       client.ImageGenerator
	ImageModel   string
	RoutePath    string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// Populate registers the tools permissions entitle the caller to. Schema
// activation failures are reported, not returned; a loader failure aborts.
func (b *Builder) Populate(ctx context.Context, reg *registry.Registry, permissions []string) (Report, error) {
	logger := b.logger()

	schemas, err := b.Loader.Load(ctx, b.LoadOptions)
	if err != nil {
		return Report{}, fmt.Errorf("load schemas: %w", err)
	}
	selected := mcpfilter.Filter(schemas, b.Filter)
	logger.Info("schemas selected", "loaded", len(schemas), "selected", len(selected))

	opts := []tools.ActivateOption{tools.WithLogger(logger), tools.WithMetrics(b.Metrics)}
	if b.HTTPClient != nil {
		opts = append(opts, tools.WithHTTPClient(b.HTTPClient))
	}
	report := Report{
		Loaded:   len(schemas),
		Failures: tools.Activate(reg, selected, b.ServerParams, opts...),
	}
	for _, s := range selected {
		report.Selected = append(report.Selected, s.Namespace)
	}

	report.Builtins, err = tools.RegisterBuiltins(reg)
	if err != nil {
		return report, fmt.Errorf("register builtins: %w", err)
	}
	b.Metrics.ToolsRegistered("builtin", len(report.Builtins))

	report.Gated = tools.Gate(reg, permissions, tools.Deps{
		Images:     b.Images,
		ImageModel: b.ImageModel,
		Logger:     logger,
		Metrics:    b.Metrics,
	})
	return report, nil
}

// Build creates a served instance for permissions.
func (b *Builder) Build(ctx context.Context, permissions []string) (*Instance, error) {
	start := time.Now()
	srv := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(b.Metrics.Instrument()),
	)
	reg := registry.New(srv)

	report, err := b.Populate(ctx, reg, permissions)
	b.Metrics.InstanceInitialized(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	routePath := b.RoutePath
	if routePath == "" {
		routePath = "/mcp"
	}
	b.logger().Info("instance ready",
		"perms", permissions,
		"tools", reg.Len(),
		"failed_schemas", len(report.Failures),
		"took", time.Since(start))

	return &Instance{
		Permissions: permissions,
		Registry:    reg,
		Report:      report,
		SSE: server.NewSSEServer(srv,
			server.WithSSEEndpoint(PathSSE),
			server.WithMessageEndpoint(PathSSEMessage),
		),
		Streamable: server.NewStreamableHTTPServer(srv, server.WithEndpointPath(routePath)),
	}, nil
}
