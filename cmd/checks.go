package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/checkout-inspector/internal/analysis/checks"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

type checkListing struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// newChecksCmd creates the `checks` command, which lists every registered
// check in evaluation order.
func newChecksCmd() *cobra.Command {
	var asJSON bool

	checksCmd := &cobra.Command{
		Use:   "checks",
		Short: "Lists the checks applied to every scanned page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := checks.NewRegistry(sdk.NewProfile(cfg.SDK))
			if err != nil {
				return fmt.Errorf("failed to build check registry: %w", err)
			}
			if asJSON {
				return writeChecksJSON(cmd.OutOrStdout(), registry)
			}
			return writeChecksTable(cmd.OutOrStdout(), registry)
		},
	}
	checksCmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON.")
	return checksCmd
}

func writeChecksTable(w io.Writer, registry *core.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tDESCRIPTION")
	for _, d := range registry.Definitions() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Category, d.Description)
	}
	return tw.Flush()
}

func writeChecksJSON(w io.Writer, registry *core.Registry) error {
	defs := registry.Definitions()
	out := make([]checkListing, 0, len(defs))
	for _, d := range defs {
		out = append(out, checkListing{ID: d.ID, Category: string(d.Category), Description: d.Description})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
