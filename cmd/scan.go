package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/observability"
	"github.com/xkilldash9x/checkout-inspector/internal/reporting"
	"github.com/xkilldash9x/checkout-inspector/internal/service"
)

// ErrScoreBelowThreshold is returned when --fail-below is set and the page
// scored lower.
var ErrScoreBelowThreshold = errors.New("health score below threshold")

const tabCloseTimeout = 10 * time.Second

type scanOptions struct {
	Output    string
	Format    string
	FailBelow int
}

// newScanCmd creates and configures the `scan` command.
func newScanCmd(factory service.ComponentFactory) *cobra.Command {
	var opts scanOptions

	scanCmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Opens a checkout page in a browser and inspects its payment integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyScanFlagOverrides(cmd, cfg)

			result, err := runScan(ctx, observability.GetLogger(), cfg, args[0], opts, factory)
			if result != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nScan complete. Tab: %s  Score: %d (%s)\n",
					result.TabID, result.Health.Score, result.Health.Tier)
			}
			return err
		},
	}

	scanCmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file path for the report. Defaults to stdout.")
	scanCmd.Flags().StringVarP(&opts.Format, "format", "f", reporting.FormatText, "Report format (text, json, sarif).")
	scanCmd.Flags().IntVar(&opts.FailBelow, "fail-below", 0, "Exit with an error when the health score is below this value.")

	// Overrides applied on top of config file and environment.
	scanCmd.Flags().Bool("headful", false, "Show the browser window.")
	scanCmd.Flags().Duration("ready-timeout", 0, "Maximum wait for the page to finish loading.")
	scanCmd.Flags().Duration("settle-delay", 0, "Pause after load before the first extraction.")
	scanCmd.Flags().Bool("no-probe", false, "Never fetch the page again to read its response headers.")

	return scanCmd
}

// applyScanFlagOverrides copies explicitly set flags into cfg.
func applyScanFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("headful") {
		headful, _ := flags.GetBool("headful")
		cfg.Browser.Headless = !headful
	}
	if flags.Changed("ready-timeout") {
		if d, _ := flags.GetDuration("ready-timeout"); d > 0 {
			cfg.Scan.ReadyTimeout = d
		} else {
			observability.GetLogger().Warn("Ignoring non-positive --ready-timeout", zap.Duration("value", d))
		}
	}
	if flags.Changed("settle-delay") {
		if d, _ := flags.GetDuration("settle-delay"); d >= 0 {
			cfg.Scan.SettleDelay = d
		}
	}
	if flags.Changed("no-probe") {
		noProbe, _ := flags.GetBool("no-probe")
		cfg.Scan.ProbeHeaders = !noProbe
	}
}

// runScan opens target in a fresh tab, scans it and writes the report. The
// result is returned alongside ErrScoreBelowThreshold so callers can still
// show it.
func runScan(ctx context.Context, logger *zap.Logger, cfg *config.Config, target string, opts scanOptions, factory service.ComponentFactory) (*schemas.ScanResult, error) {
	target, err := normalizeTarget(target)
	if err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = reporting.FormatText
	}

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scan components: %w", err)
	}
	defer components.Shutdown()

	logger.Info("Opening checkout page.", zap.String("url", target))
	tab, err := components.Host.OpenTab(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), tabCloseTimeout)
		defer cancel()
		if err := components.Host.CloseTab(closeCtx, tab); err != nil {
			logger.Debug("Failed to close tab.", zap.String("tab_id", tab.String()), zap.Error(err))
		}
	}()

	result, err := components.Orchestrator.RunScan(ctx, tab)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Scan aborted.", zap.String("tab_id", tab.String()))
		}
		return nil, err
	}

	if err := writeReport(result, opts.Format, opts.Output, logger); err != nil {
		return result, err
	}

	if opts.FailBelow > 0 && result.Health.Score < opts.FailBelow {
		return result, fmt.Errorf("%w: %d < %d", ErrScoreBelowThreshold, result.Health.Score, opts.FailBelow)
	}
	return result, nil
}

// writeReport renders result in format to outputPath, or stdout when empty.
func writeReport(result *schemas.ScanResult, format, outputPath string, logger *zap.Logger) (err error) {
	reporter, err := reporting.New(format, outputPath, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if cerr := reporter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finalize report: %w", cerr)
		}
	}()

	if err := reporter.Write(result); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if outputPath != "" {
		logger.Info("Report written.", zap.String("path", outputPath), zap.String("format", format))
	}
	return nil
}

// normalizeTarget defaults a bare host to https and rejects anything that
// is not an http(s) URL.
func normalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("target url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid target url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: only http and https pages can be scanned", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target url %q has no host", raw)
	}
	return u.String(), nil
}
