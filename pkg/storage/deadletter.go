package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"instasave/pkg/logger"
	"instasave/pkg/models"
)

// DeadLetter collects items that could not be downloaded or persisted.
// Entries are buffered during a run and appended to the log on Flush as
// "<ISO-timestamp> - <item_id>" lines. The log is never truncated.
type DeadLetter struct {
	path   string
	logger logger.Logger

	mu      sync.Mutex
	pending []models.DeadLetterEntry
	now     func() time.Time
}

// NewDeadLetter creates a sink appending to path
func NewDeadLetter(path string, log logger.Logger) *DeadLetter {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DeadLetter{path: path, logger: log, now: time.Now}
}

// Add buffers an entry
func (d *DeadLetter) Add(itemID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, models.DeadLetterEntry{ItemID: itemID, Reason: reason, At: d.now().UTC()})
	d.logger.WarnWithFields("item dead-lettered", map[string]interface{}{
		"item_id": itemID,
		"reason":  reason,
	})
}

// Pending returns the number of buffered entries
func (d *DeadLetter) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush appends buffered entries to the log and clears the buffer. On
// failure only the entries not yet written stay buffered.
func (d *DeadLetter) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create dead letter directory: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open dead letter log: %w", err)
	}
	defer f.Close()

	written, err := d.writePending(f)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync dead letter log: %w", err)
	}

	d.logger.InfoWithFields("dead letter entries flushed", map[string]interface{}{
		"count": written,
		"path":  d.path,
	})
	return nil
}

// writePending drops each entry from the buffer as soon as its line is
// written, so a failed flush never repeats lines on retry
func (d *DeadLetter) writePending(w io.Writer) (int, error) {
	written := 0
	for len(d.pending) > 0 {
		e := d.pending[0]
		if _, err := fmt.Fprintf(w, "%s - %s\n", e.At.Format(time.RFC3339), e.ItemID); err != nil {
			return written, fmt.Errorf("failed to write dead letter entry: %w", err)
		}
		d.pending = d.pending[1:]
		written++
	}
	return written, nil
}
