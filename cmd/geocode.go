package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/locations"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode a table of addresses to latitude and longitude",
	Long: "Reads a CSV or XLSX of addresses, geocodes each row through geocode.maps.co " +
		"(optionally falling back to the Census geocoder) and writes the table back with Latitude and Longitude columns.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		for flag, dst := range map[string]*string{
			"input":     &cfg.Geocode.Input,
			"output":    &cfg.Geocode.Output,
			"geojson":   &cfg.Geocode.GeoJSON,
			"shapefile": &cfg.Geocode.Shapefile,
		} {
			if f.Changed(flag) {
				*dst, _ = f.GetString(flag)
			}
		}
		if f.Changed("census-fallback") {
			cfg.Geocode.CensusFallback, _ = f.GetBool("census-fallback")
		}
		if err := cfg.Validate("geocode"); err != nil {
			return err
		}

		sum, err := locations.Run(ctx, initGeocoder(), locations.Options{
			Input:     cfg.Geocode.Input,
			Output:    cfg.Geocode.Output,
			GeoJSON:   cfg.Geocode.GeoJSON,
			Shapefile: cfg.Geocode.Shapefile,
			Columns:   cfg.Geocode.Columns,
		}, zap.L())
		if err != nil {
			return eris.Wrap(err, "geocode")
		}

		fmt.Fprintf(os.Stdout, "Geocoded %d of %d rows (%d failed, %d without an address). Results saved to %s\n",
			sum.Successful, sum.Total, sum.Failed, sum.Skipped, cfg.Geocode.Output)
		return nil
	},
}

func init() {
	geocodeCmd.Flags().String("input", "", "input CSV or XLSX (default from config)")
	geocodeCmd.Flags().String("output", "", "output CSV (default from config)")
	geocodeCmd.Flags().String("geojson", "", "also write a GeoJSON FeatureCollection")
	geocodeCmd.Flags().String("shapefile", "", "also write a point shapefile (.shp)")
	geocodeCmd.Flags().Bool("census-fallback", false, "retry unmatched addresses with the Census geocoder")
	rootCmd.AddCommand(geocodeCmd)
}
