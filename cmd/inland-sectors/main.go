package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"postcode-polygons/internal/config"
	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/pipeline"
	"postcode-polygons/internal/progress"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"
	"postcode-polygons/internal/utils"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadEnv()
	logger.Setup()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		logger.L().Error("run_failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts config.InlandOptions
	cmd := &cobra.Command{
		Use:           "inland-sectors",
		Short:         "Find the postcode sectors that never need clipping to the coastline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.OutputFile, "output-file", "o", "", "where to write the inland sectors JSON")
	f.StringVarP(&opts.RegionsFile, "regions-shapefile", "r", "", "region boundaries (.shp or .geojson) with a NAME attribute")
	f.StringVarP(&opts.Area, "area", "a", "", "only check sectors in this postcode area")
	f.IntVar(&opts.Workers, "workers", 0, "worker pool size (default: WORKERS or CPUs minus two)")
	return cmd
}

func run(ctx context.Context, opts config.InlandOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	l := logger.WithRun(uuid.NewString())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := regions.LoadFile(opts.RegionsFile)
	if err != nil {
		return err
	}
	in, sum, err := pipeline.BuildInland(ctx, opts, set, store.PostgresOpener(utils.BuildPostgresDSNFromEnv()), progress.NewLog())
	if err != nil {
		return err
	}
	if err := in.Save(opts.OutputFile); err != nil {
		return err
	}
	l.Info("inland_sectors_written", "path", opts.OutputFile, "sectors", sum.Total, "failed", sum.Failed, "regions", len(in))
	return nil
}
