package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"instasave/pkg/job"
	"instasave/pkg/status"
	"instasave/pkg/ui/tui"
)

var (
	dateRange       string
	dryRun          bool
	clearStaleLock  bool
	pageConcurrency int
	useTUI          bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape in the foreground",
	Long: `Authenticate, walk your saved posts newest first and download every item
inside the date range. Items already on disk are skipped.

Press Ctrl+C once to stop after the item in flight; a second Ctrl+C aborts
immediately.`,
	Example: `  # Everything you ever saved
  instasave scrape

  # Only the last week, without downloading anything
  instasave scrape --date-range 7 --dry-run

  # Recover after a crash left the job marker behind
  instasave scrape --clear-stale-lock`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&dateRange, "date-range", "d", "", `"all" or a number of days (default from config)`)
	scrapeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list and count items without downloading or storing them")
	scrapeCmd.Flags().BoolVar(&clearStaleLock, "clear-stale-lock", false, "remove a job marker left by a crashed process")
	scrapeCmd.Flags().IntVar(&pageConcurrency, "concurrent", 0, "concurrent downloads per carousel (default from config)")
	scrapeCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live dashboard while the scrape runs")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{
		"concurrent-downloads": pageConcurrency,
	})
	if err != nil {
		return err
	}
	if dateRange == "" {
		dateRange = cfg.Scrape.DefaultDateRange
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if clearStaleLock {
		removed, err := a.controller.ClearStaleMarker()
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintln(cmd.ErrOrStderr(), "Removed stale job marker")
		}
	}

	sigs, stopNotify := a.controller.NotifyStop(os.Interrupt)
	defer stopNotify()
	go func() {
		<-sigs
		fmt.Fprintln(cmd.ErrOrStderr(), "\nStopping after the current item, press Ctrl+C again to abort")
		<-sigs
		cancel()
	}()

	if err := a.controller.Start(dateRange, dryRun); err != nil {
		return err
	}
	if useTUI {
		if err := tui.Run(ctx, a.controller.Status, tui.Options{
			Stop:         a.controller.RequestStop,
			ExitWhenIdle: true,
		}); err != nil {
			a.log.WithError(err).Warn("dashboard exited")
		}
	}
	if err := a.controller.Wait(context.Background()); err != nil {
		return err
	}

	rec := a.controller.Status()
	printRecord(cmd, rec)
	if a.controller.State() == job.StateFailed {
		return fmt.Errorf("scrape failed: %s", rec.Message)
	}
	return nil
}

func printRecord(cmd *cobra.Command, rec status.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, rec.Message)
	if rec.LoggedInUser != "" {
		fmt.Fprintf(out, "  Account:   %s\n", rec.LoggedInUser)
	}
	processed, skipped, errors := rec.Processed, rec.Skipped, rec.Errors
	if rec.Summary != nil {
		processed, skipped, errors = rec.Summary.Processed, rec.Summary.Skipped, rec.Summary.Errors
	}
	fmt.Fprintf(out, "  Processed: %d\n", processed)
	fmt.Fprintf(out, "  Skipped:   %d\n", skipped)
	fmt.Fprintf(out, "  Errors:    %d\n", errors)
	if rec.ElapsedTime != "" {
		fmt.Fprintf(out, "  Elapsed:   %s\n", rec.ElapsedTime)
	}
}
