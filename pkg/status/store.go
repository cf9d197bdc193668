package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"instasave/pkg/logger"
)

// MaxHistory caps the message history kept in the record
const MaxHistory = 5

// Sentinel messages returned by Read instead of an error
const (
	MsgNotInitialized = "Status not initialized."
	MsgEmpty          = "Status file is empty."
	MsgUnreadable     = "Status file is unreadable."
)

// Summary is written once a run finishes
type Summary struct {
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Errors    int  `json:"errors"`
	DryRun    bool `json:"dry_run"`
}

// Record is the single progress record. The last three fields are derived
// on every Read and never written to disk.
type Record struct {
	Message      string     `json:"message"`
	Running      bool       `json:"running"`
	State        string     `json:"state,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	DateRange    string     `json:"date_range,omitempty"`
	DryRun       bool       `json:"dry_run,omitempty"`
	Processed    int        `json:"processed"`
	Total        int        `json:"total"`
	Skipped      int        `json:"skipped"`
	Errors       int        `json:"errors"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	History      []string   `json:"history"`
	Summary      *Summary   `json:"summary,omitempty"`
	LoggedInUser string     `json:"logged_in_user,omitempty"`

	ProgressPercentage string `json:"progress_percentage,omitempty"`
	TimeRemaining      string `json:"time_remaining,omitempty"`
	ElapsedTime        string `json:"elapsed_time,omitempty"`
}

// Field is one partial update applied by Update
type Field struct {
	apply   func(r *Record)
	message *string
}

// Message sets the status message and records it in the history
func Message(msg string) Field {
	return Field{apply: func(r *Record) { r.Message = msg }, message: &msg}
}

// Running sets the running flag
func Running(running bool) Field {
	return Field{apply: func(r *Record) { r.Running = running }}
}

// State sets the job state name
func State(state string) Field {
	return Field{apply: func(r *Record) { r.State = state }}
}

// Run identifies the run and its parameters
func Run(runID, dateRange string, dryRun bool) Field {
	return Field{apply: func(r *Record) {
		r.RunID = runID
		r.DateRange = dateRange
		r.DryRun = dryRun
	}}
}

// Counts sets the progress counters
func Counts(processed, total, skipped, errs int) Field {
	return Field{apply: func(r *Record) {
		r.Processed = processed
		r.Total = total
		r.Skipped = skipped
		r.Errors = errs
	}}
}

// Total sets the expected number of items
func Total(total int) Field {
	return Field{apply: func(r *Record) { r.Total = total }}
}

// LoggedInUser records the authenticated account
func LoggedInUser(username string) Field {
	return Field{apply: func(r *Record) { r.LoggedInUser = username }}
}

// WithSummary attaches the end-of-run summary
func WithSummary(s Summary) Field {
	return Field{apply: func(r *Record) { r.Summary = &s }}
}

// Store persists the record as JSON. Writes are atomic; a single process
// writes while any number may read.
type Store struct {
	path   string
	logger logger.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore creates a store backed by path
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{path: path, logger: log, now: time.Now}
}

// Update merges fields into the record. The first write sets start_time;
// a Message field is prepended to the history.
func (s *Store) Update(fields ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		s.logger.WithError(err).Warn("status file unreadable, starting a new record")
		rec = &Record{}
	}
	if rec == nil {
		rec = &Record{}
	}
	return s.apply(rec, fields)
}

// Reset discards the stored record and starts a new one with fields
func (s *Store) Reset(fields ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(&Record{}, fields)
}

func (s *Store) apply(rec *Record, fields []Field) error {
	now := s.now().UTC()
	if rec.StartTime == nil {
		rec.StartTime = &now
	}
	for _, f := range fields {
		f.apply(rec)
		if f.message != nil {
			entry := fmt.Sprintf("%s - %s", now.Format(time.RFC3339), *f.message)
			rec.History = append([]string{entry}, rec.History...)
			if len(rec.History) > MaxHistory {
				rec.History = rec.History[:MaxHistory]
			}
		}
	}
	rec.LastUpdated = &now
	rec.ProgressPercentage, rec.TimeRemaining, rec.ElapsedTime = "", "", ""
	return s.save(rec)
}

// Read returns the record with progress, ETA and elapsed time computed
// from the stored counters. It never fails; problems are reported through
// the message field.
func (s *Store) Read() Record {
	s.mu.Lock()
	rec, err := s.load()
	s.mu.Unlock()

	switch {
	case errors.Is(err, errEmpty):
		return Record{Message: MsgEmpty, History: []string{}}
	case err != nil:
		s.logger.WithError(err).Warn("failed to read status file")
		return Record{Message: MsgUnreadable, History: []string{}}
	case rec == nil:
		return Record{Message: MsgNotInitialized, History: []string{}}
	}

	s.derive(rec)
	return *rec
}

func (s *Store) derive(rec *Record) {
	if rec.History == nil {
		rec.History = []string{}
	}
	if rec.StartTime == nil {
		return
	}
	elapsed := s.now().Sub(*rec.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	rec.ElapsedTime = formatHMS(elapsed)

	if rec.Total > 0 && rec.Processed > 0 {
		rec.ProgressPercentage = fmt.Sprintf("%.2f%%", float64(rec.Processed)/float64(rec.Total)*100)
		remaining := rec.Total - rec.Processed
		if remaining < 0 {
			remaining = 0
		}
		perItem := elapsed / time.Duration(rec.Processed)
		rec.TimeRemaining = formatHMS(perItem * time.Duration(remaining))
	}
}

func formatHMS(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

var errEmpty = errors.New("status file is empty")

// load returns nil, nil when no record exists yet
func (s *Store) load() (*Record, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, errEmpty
	}
	var rec Record
	if err := json.Unmarshal(content, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &rec, nil
}

// save writes the record atomically
func (s *Store) save(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary status file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rec); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
