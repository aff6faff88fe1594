package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/observability"
	"github.com/xkilldash9x/checkout-inspector/internal/reporting"
	"github.com/xkilldash9x/checkout-inspector/internal/service"
)

// newResultCmd creates the `result` command, which prints the last stored
// result of a tab without scanning again.
func newResultCmd(factory service.ComponentFactory) *cobra.Command {
	var output, format string

	resultCmd := &cobra.Command{
		Use:   "result <tab-id>",
		Short: "Prints the stored result of a previous scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runResult(ctx, observability.GetLogger(), cfg, schemas.TabID(args[0]), format, output, factory)
		},
	}

	resultCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path for the report. Defaults to stdout.")
	resultCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatText, "Report format (text, json, sarif).")
	return resultCmd
}

func runResult(ctx context.Context, logger *zap.Logger, cfg *config.Config, tab schemas.TabID, format, output string, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	result, err := components.Orchestrator.GetStoredResult(ctx, tab)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w for tab %s", schemas.ErrResultNotFound, tab)
	}
	return writeReport(result, format, output, logger)
}
