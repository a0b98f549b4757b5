package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/agcensus/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate cached metric tables",
}

// -- cache list --

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached metric tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entries, err := initCache().List()
		if err != nil {
			return eris.Wrap(err, "cache list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Cache is empty.")
			return nil
		}
		formatCacheList(os.Stdout, entries)
		return nil
	},
}

// -- cache bust --

var cacheBustCmd = &cobra.Command{
	Use:   "bust [metric...]",
	Short: "Remove cached tables so the next fetch re-queries them",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !all {
			return eris.New("cache bust: name at least one metric or pass --all")
		}
		removed, err := initCache().Bust(args...)
		if err != nil {
			return eris.Wrap(err, "cache bust")
		}
		for _, m := range removed {
			fmt.Fprintln(os.Stdout, m)
		}
		fmt.Fprintf(os.Stderr, "Removed %d cached metric(s).\n", len(removed))
		return nil
	},
}

func init() {
	cacheBustCmd.Flags().Bool("all", false, "remove every cached metric")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheBustCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheList writes a tabular list of cache entries to w.
func formatCacheList(out io.Writer, entries []cache.Manifest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tYEAR\tREGIONS\tROWS\tRECONSTRUCTED\tFETCHED")
	_, _ = fmt.Fprintln(w, "------\t----\t-------\t----\t-------------\t-------")
	for _, m := range entries {
		if m.Legacy {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\tlegacy\n", m.Metric)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			m.Metric,
			m.Year,
			len(m.Regions),
			m.Rows,
			m.Reconstructed,
			m.FetchedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
