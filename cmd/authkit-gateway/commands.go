package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FlowMCP/remote-mcp-authkit/internal/config"
	"github.com/FlowMCP/remote-mcp-authkit/internal/logging"
	"github.com/FlowMCP/remote-mcp-authkit/internal/oauth"
	"github.com/FlowMCP/remote-mcp-authkit/internal/registry"
)

func newRootCmd(env map[string]string) *cobra.Command {
	root := &cobra.Command{
		Use:          "authkit-gateway",
		Short:        "FlowMCP schema gateway with OAuth",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Resolve(env), cmd.ErrOrStderr())
		},
	}
	root.AddCommand(newServeCmd(env), newSchemasCmd(env), newHashPasswordCmd())
	return root
}

func newServeCmd(env map[string]string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Resolve(env)
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ADDR)")
	return cmd
}

func newSchemasCmd(env map[string]string) *cobra.Command {
	var permissions []string
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Print the schemas and tools an instance would expose",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Resolve(env)
			logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return printSchemas(cmd.Context(), cmd.OutOrStdout(), cfg, logger, permissions)
		},
	}
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "caller permissions, e.g. image_generation")
	return cmd
}

func printSchemas(ctx context.Context, w io.Writer, cfg config.Config, logger *slog.Logger, permissions []string) error {
	b := newBuilder(cfg, logger, nil)
	reg := registry.New(nil)
	report, err := b.Populate(ctx, reg, permissions)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Schemas: %d loaded, %d selected\n", report.Loaded, len(report.Selected))
	for _, ns := range report.Selected {
		fmt.Fprintf(w, "  %s\n", ns)
	}
	if len(report.Failures) > 0 {
		fmt.Fprintln(w, "Failed:")
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s: %v\n", f.Namespace, f.Err)
		}
	}

	fmt.Fprintf(w, "Tools: %d\n", reg.Len())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range reg.Names() {
		tool, _ := reg.Tool(name)
		fmt.Fprintf(tw, "  %s\t%s\n", name, tool.Tool.Description)
	}
	return tw.Flush()
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for a users file entry",
		Long:  "Print a bcrypt hash for a users file entry. Without an argument the password is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := oauth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
