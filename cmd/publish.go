package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/agsync"
	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/db"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Load the merged dataset into Postgres",
	Long: "Reads the merged county CSV and upserts it into ag_data.county_metrics, one row per county, year and metric. " +
		"Rows for the published years and states that the dataset no longer carries are removed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		if f.Changed("input") {
			cfg.Output.Path, _ = f.GetString("input")
		}
		if f.Changed("database-url") {
			cfg.Publish.DatabaseURL, _ = f.GetString("database-url")
		}
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		d, err := dataset.ReadCSVFile(ctx, cfg.Output.Path)
		if err != nil {
			return eris.Wrap(err, "publish: read dataset")
		}
		d.Coerce()

		pool, err := db.Connect(ctx, cfg.PublishURL())
		if err != nil {
			return eris.Wrap(err, "publish: connect")
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool, zap.L()); err != nil {
			return eris.Wrap(err, "publish: migrate")
		}

		source, _ := f.GetString("source")
		if source == "" {
			source = cfg.Output.Path
		}
		res, err := agsync.NewPublisher(pool, zap.L()).Publish(ctx, d, source)
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		fmt.Fprintf(os.Stdout, "Published %d values for %d states (upserted %d, pruned %d). Publication %s\n",
			res.Rows, len(res.Regions), res.Upserted, res.Pruned, res.ID)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("input", "", "dataset CSV to publish (default: output.path)")
	publishCmd.Flags().String("database-url", "", "Postgres URL (default: publish.database_url)")
	publishCmd.Flags().String("source", "", "label recorded with the publication (default: input path)")
	rootCmd.AddCommand(publishCmd)
}
