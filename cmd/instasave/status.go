package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"instasave/pkg/logger"
	"instasave/pkg/status"
	"instasave/pkg/ui/tui"
)

var (
	statusJSON  bool
	logLines    int
	statusWatch bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of the current or last scrape",
	Long: `Show the status record written by the running or last scrape job,
including progress, estimated time remaining and recent history.`,
	Example: `  # Human readable
  instasave status

  # Raw record as JSON, plus the last 50 log lines
  instasave status --json --logs 50

  # Live dashboard of a job run by 'instasave serve'
  instasave status --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status record")
	statusCmd.Flags().IntVar(&logLines, "logs", 0, "also print the last N lines of the log file")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "show a live dashboard until you press q")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	store := status.NewStore(cfg.Storage.StatusPath, logger.GetLogger())
	if statusWatch {
		return tui.Run(cmd.Context(), store.Read, tui.Options{Interval: time.Second})
	}

	rec := store.Read()
	out := cmd.OutOrStdout()

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return err
		}
	} else {
		printRecord(cmd, rec)
		if rec.Running {
			fmt.Fprintf(out, "  Progress:  %d/%d", rec.Processed, rec.Total)
			if rec.ProgressPercentage != "" {
				fmt.Fprintf(out, " (%s, %s remaining)", rec.ProgressPercentage, rec.TimeRemaining)
			}
			fmt.Fprintln(out)
		}
		if len(rec.History) > 0 {
			fmt.Fprintln(out, "\nRecent:")
			for _, h := range rec.History {
				fmt.Fprintf(out, "  %s\n", h)
			}
		}
	}

	if logLines > 0 {
		lines, err := logger.TailFile(cfg.Logging.File, logLines)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
