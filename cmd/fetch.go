package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/agsync"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, reconcile and merge county metrics into the dataset",
	Long: "Fetches every configured metric for every region from QuickStats, reconstructs withheld county totals, " +
		"merges the metrics into one county table, adds derived columns and writes CSV or XLSX.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyFetchFlags(cmd)
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		ledger, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		metrics, _ := cmd.Flags().GetStringSlice("metrics")
		refresh, _ := cmd.Flags().GetBool("refresh")
		mergeInto, _ := cmd.Flags().GetString("merge-into")

		engine := agsync.NewEngine(cfg, initFetcher(refresh), ledger, zap.L())
		res, err := engine.Run(ctx, agsync.RunOpts{
			Metrics:   metrics,
			Refresh:   refresh,
			MergeInto: mergeInto,
		})
		if err != nil {
			return eris.Wrap(err, "fetch")
		}

		formatFetchSummary(os.Stdout, res)
		return nil
	},
}

// applyFetchFlags copies explicitly set flags over the loaded config.
func applyFetchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output.Path, _ = f.GetString("output")
	}
	if f.Changed("format") {
		format, _ := f.GetString("format")
		cfg.Output.Format = strings.ToLower(format)
	}
	if f.Changed("regions") {
		regions, _ := f.GetStringSlice("regions")
		cfg.Regions = nil
		for _, r := range regions {
			cfg.Regions = append(cfg.Regions, strings.ToUpper(strings.TrimSpace(r)))
		}
	}
	if f.Changed("year") {
		cfg.QuickStats.Year, _ = f.GetInt("year")
	}
	if f.Changed("provenance") {
		cfg.Output.IncludeProvenance, _ = f.GetBool("provenance")
	}
}

// formatFetchSummary writes the run outcome to w.
func formatFetchSummary(out io.Writer, res *agsync.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Output:\t%s\n", res.Output)
	_, _ = fmt.Fprintf(w, "Counties:\t%d\n", res.Dataset.Len())
	_, _ = fmt.Fprintf(w, "Metrics:\t%d\n", len(res.Stats)-len(res.Empty))

	reconstructed := 0
	for _, s := range res.Stats {
		reconstructed += s.Reconstructed
	}
	_, _ = fmt.Fprintf(w, "Reconstructed values:\t%d\n", reconstructed)
	if len(res.Empty) > 0 {
		_, _ = fmt.Fprintf(w, "No data:\t%s\n", strings.Join(res.Empty, ", "))
	}
	if len(res.Derived) > 0 {
		_, _ = fmt.Fprintf(w, "Derived:\t%s\n", strings.Join(res.Derived, ", "))
	}
	if len(res.Nulled) > 0 {
		cols := make([]string, 0, len(res.Nulled))
		for c := range res.Nulled {
			cols = append(cols, c)
		}
		slices.Sort(cols)
		for _, c := range cols {
			_, _ = fmt.Fprintf(w, "Nulled text values:\t%s (%d)\n", c, res.Nulled[c])
		}
	}
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", res.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}

func init() {
	addFetchFlags(fetchCmd)
	rootCmd.AddCommand(fetchCmd)
}

func addFetchFlags(c *cobra.Command) {
	c.Flags().StringSlice("metrics", nil, "only fetch these metrics (default: whole catalog)")
	c.Flags().Bool("refresh", false, "ignore cached metric tables and re-fetch")
	c.Flags().String("merge-into", "", "existing dataset CSV to merge the fetched columns into")
	c.Flags().String("output", "", "output path (default from config)")
	c.Flags().String("format", "", "output format: csv or xlsx (default from config)")
	c.Flags().StringSlice("regions", nil, "state alpha codes to fetch (default from config)")
	c.Flags().Int("year", 0, "census year (default from config)")
	c.Flags().Bool("provenance", false, "add <metric>_estimated columns")
}
