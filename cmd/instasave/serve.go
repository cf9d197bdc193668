package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"instasave/internal/server"
	"instasave/pkg/job"
)

const shutdownTimeout = 30 * time.Second

var (
	serveAddr       string
	serveSchedule   string
	clearStaleOnRun bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job control API",
	Long: `Run the HTTP API that starts, watches and stops scrape jobs and serves
the archived posts and media.

With a schedule (cron syntax or descriptors such as @daily) a scrape is
started on every tick; ticks that find a job running are skipped.

SIGINT or SIGTERM asks a running job to finish its current item, then the
server shuts down.`,
	Example: `  # Listen on the default address
  instasave serve

  # Scrape the last two days every night at 3am
  instasave serve --addr :9000 --schedule "0 3 * * *"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :8000)")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron schedule for automatic scrapes")
	serveCmd.Flags().BoolVar(&clearStaleOnRun, "clear-stale-lock", false, "remove a job marker left by a crashed process before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{
		"addr":     serveAddr,
		"schedule": serveSchedule,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if clearStaleOnRun {
		if _, err := a.controller.ClearStaleMarker(); err != nil {
			return err
		}
	}

	if cfg.Scrape.Schedule != "" {
		sched, err := job.NewScheduler(a.controller, cfg.Scrape.Schedule, cfg.Scrape.DefaultDateRange, a.log)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	router := server.NewRouter(&server.Deps{
		Jobs:             a.controller,
		Auth:             a.cascade,
		Posts:            a.db,
		Media:            a.media,
		LogFile:          cfg.Logging.File,
		DefaultDateRange: cfg.Scrape.DefaultDateRange,
		PostsPerPage:     cfg.Scrape.PostsPerPage,
		Gatherer:         a.registry,
		Logger:           a.log,
	})
	srv := server.New(cfg.Server.Addr, router, a.log)

	sigs, stopNotify := a.controller.NotifyStop()
	defer stopNotify()

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()
	go func() {
		select {
		case <-sigs:
			srvCancel()
		case <-srvCtx.Done():
		}
	}()

	runErr := srv.Run(srvCtx, shutdownTimeout)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	if err := a.controller.Shutdown(waitCtx); err != nil {
		a.log.WithError(err).Warn("job did not stop in time, aborting")
		cancel()
		a.controller.Wait(context.Background())
	}
	return runErr
}
