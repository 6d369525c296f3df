package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postcode-polygons/internal/config"
	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/migrate"
	"postcode-polygons/internal/pipeline"
	"postcode-polygons/internal/progress"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"
	"postcode-polygons/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadEnv()
	logger.Setup()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		logger.L().Error("run_failed", "err", err, "config_error", errors.Is(err, config.ErrConfig))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts config.Options
	cmd := &cobra.Command{
		Use:           "union-postcode-regions",
		Short:         "Output postcode polygons based on the Voronoi regions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.OutputDir, "output-directory", "o", "", "directory to write the GeoJSON tree into")
	f.StringVarP(&opts.RegionsFile, "regions-shapefile", "r", "", "region boundaries (.shp or .geojson) with a NAME attribute")
	f.StringVarP(&opts.InlandSectorsFile, "inland-sectors-file", "i", "", "JSON table of sectors known not to touch the coast")
	f.StringVarP(&opts.Area, "area", "a", "", "only generate output for postcodes in this postcode area")
	f.BoolVar(&opts.SkipUnits, "skip-individual-postcodes", false, "skip the per-unit files")
	f.BoolVar(&opts.SkipHigherLevels, "skip-higher-level-areas", false, "skip areas, districts and sectors")
	f.BoolVar(&opts.SkipVerticalStreets, "skip-vertical-streets", false, "skip vertical streets")
	f.IntVar(&opts.Workers, "workers", 0, "worker pool size (default: WORKERS or CPUs minus two)")
	f.BoolVar(&opts.EnsureIndexes, "ensure-indexes", false, "create supporting indexes before listing prefixes")
	return cmd
}

func run(ctx context.Context, opts config.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	runID := uuid.NewString()
	l := logger.WithRun(runID)
	l.Info("run_start", "output", opts.OutputDir, "area", opts.Area, "workers", opts.Workers)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		serveMetrics(addr)
	}

	set, err := regions.LoadFile(opts.RegionsFile)
	if err != nil {
		return err
	}
	if opts.InlandSectorsFile != "" {
		if set.Inland, err = regions.LoadInland(opts.InlandSectorsFile); err != nil {
			return errors.Wrapf(config.ErrConfig, "inland sectors file: %v", err)
		}
		l.Info("inland_sectors_loaded", "regions", len(set.Inland))
	} else {
		l.Warn("inland_sectors_missing", "hint", "consider specifying --inland-sectors-file to speed this up a lot")
	}

	if opts.EnsureIndexes {
		db, err := utils.OpenPostgresFromEnv(ctx)
		if err != nil {
			return err
		}
		err = migrate.EnsureIndexes(ctx, db)
		_ = db.Close()
		if err != nil {
			return err
		}
	}

	rep := progress.Multi{progress.NewLog()}
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		defer rc.Close()
		rep = append(rep, progress.NewRedis(rc, runID, 24*time.Hour))
	}

	runner := pipeline.NewRunner(opts, set, store.PostgresOpener(utils.BuildPostgresDSNFromEnv()), rep)
	report, err := runner.Run(ctx)
	for phase, sum := range report {
		l.Info("phase_summary", "phase", phase, "total", sum.Total, "completed", sum.Completed, "failed", sum.Failed)
	}
	if err != nil {
		return err
	}
	l.Info("run_done")
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("metrics_server_error", "addr", addr, "err", err)
		}
	}()
	logger.L().Info("metrics_listen", "addr", addr)
}
