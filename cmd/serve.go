package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/observability"
	"github.com/xkilldash9x/checkout-inspector/internal/server"
	"github.com/xkilldash9x/checkout-inspector/internal/service"
)

// newServeCmd creates the `serve` command, which exposes scanning over HTTP.
func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the inspection API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			return runServe(ctx, observability.GetLogger(), cfg, factory)
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr).")
	return serveCmd
}

func runServe(ctx context.Context, logger *zap.Logger, cfg *config.Config, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	srv, err := server.New(cfg.Server, server.Dependencies{
		Scanner:  components.Orchestrator,
		Tabs:     components.Host,
		Registry: components.Registry,
	}, logger)
	if err != nil {
		return err
	}

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
