package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/FlowMCP/remote-mcp-authkit/internal/client"
	"github.com/FlowMCP/remote-mcp-authkit/internal/metrics"
	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
)

// PermissionImageGeneration unlocks the generateImage tool.
const PermissionImageGeneration = "image_generation"

// Step bounds for generateImage.
const (
	MinImageSteps     = 4
	MaxImageSteps     = 8
	DefaultImageSteps = 4
)

// Deps are the collaborators gated tools call into.
type Deps struct {
	Images     client.ImageGenerator
	ImageModel string
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// Capability is a tool exposed only to callers holding Permission.
type Capability struct {
	Name       string
	Permission string
	Build      func(Deps) server.ServerTool
}

// Capabilities lists every permission-gated tool.
var Capabilities = []Capability{
	{Name: "generateImage", Permission: PermissionImageGeneration, Build: generateImage},
}

// Gate registers the capabilities whose permission is in permissions and
// returns their names. Capabilities without a matching permission are left
// out silently.
func Gate(reg *registry.Registry, permissions []string, deps Deps) []string {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var names []string
	for _, c := range Capabilities {
		if !slices.Contains(permissions, c.Permission) {
			continue
		}
		if err := reg.Add(c.Build(deps)); err != nil {
			logger.Warn("gated tool not registered", "tool", c.Name, "err", err)
			continue
		}
		names = append(names, c.Name)
	}
	deps.Metrics.ToolsRegistered("gated", len(names))
	return names
}

func generateImage(deps Deps) server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool("generateImage",
			mcp.WithDescription("Generate an image from a text prompt."),
			mcp.WithString("prompt",
				mcp.Description("A text description of the image you want to generate."),
				mcp.Required(),
			),
			mcp.WithNumber("steps",
				mcp.Description("The number of diffusion steps; higher values can improve quality but take longer. Must be between 4 and 8, inclusive."),
				mcp.Min(MinImageSteps),
				mcp.Max(MaxImageSteps),
				mcp.DefaultNumber(DefaultImageSteps),
			),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			prompt := stringOr(args["prompt"], "")
			if prompt == "" {
				return mcp.NewToolResultError("prompt is required"), nil
			}
			steps, err := imageSteps(args["steps"])
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if deps.Images == nil {
				return mcp.NewToolResultError("image generation is not available"), nil
			}

			image, err := deps.Images.GenerateImage(ctx, deps.ImageModel, prompt, steps)
			deps.Metrics.ImageGenerated(err)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("generate image: %v", err)), nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewImageContent(image, "image/jpeg")},
			}, nil
		},
	}
}

func imageSteps(v any) (int, error) {
	if v == nil {
		return DefaultImageSteps, nil
	}
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("steps must be an integer")
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("steps must be an integer")
	}
	if f < MinImageSteps || f > MaxImageSteps {
		return 0, fmt.Errorf("steps must be between %d and %d, got %v", MinImageSteps, MaxImageSteps, f)
	}
	return int(f), nil
}
