package scraper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"instasave/internal/downloader"
	"instasave/pkg/auth"
	errs "instasave/pkg/errors"
	"instasave/pkg/instagram"
	"instasave/pkg/logger"
	"instasave/pkg/metrics"
	"instasave/pkg/models"
	"instasave/pkg/retry"
	"instasave/pkg/status"
)

// Remote is the authenticated client a run pages through
type Remote interface {
	auth.Session
	downloader.Fetcher
	SavedMedia(ctx context.Context, maxID string, count int) (*instagram.SavedFeedResponse, error)
}

// Authenticator produces a session and can discard the stored artefacts
// after a forced logout
type Authenticator interface {
	Authenticate(ctx context.Context) (auth.Session, string, error)
	Invalidate()
}

// ItemFetcher downloads the media of one item
type ItemFetcher interface {
	Fetch(ctx context.Context, item models.SavedItem) (*downloader.Result, error)
}

// PostStore persists post metadata
type PostStore interface {
	Upsert(ctx context.Context, post *models.Post) (int64, error)
}

// StatusWriter receives progress updates
type StatusWriter interface {
	Update(fields ...status.Field) error
}

// DeadLetterSink buffers items that could not be processed
type DeadLetterSink interface {
	Add(itemID, reason string)
}

// Deps wires a Runner
type Deps struct {
	Auth Authenticator
	// NewFetcher binds the download pipeline to the authenticated client
	NewFetcher func(downloader.Fetcher) ItemFetcher
	Posts      PostStore
	Status     StatusWriter
	DeadLetter DeadLetterSink
	Metrics    metrics.Recorder
	Logger     logger.Logger
	// PageSize is the number of items requested per listing page
	PageSize int
	// ListRetry governs listing page requests; nil means retry.DefaultConfig
	ListRetry *retry.Config
}

// Params are the per-run knobs
type Params struct {
	// DateRange is "all" or a number of days
	DateRange string
	DryRun    bool
}

// Summary is what a run did
type Summary struct {
	Processed int
	Skipped   int
	Errors    int
	DryRun    bool
	// Stopped is set when a stop request ended the run early
	Stopped bool
	// CutoffReached is set when the walk ended at an item older than the range
	CutoffReached bool
	Method        string
	Username      string
}

// Runner performs a single scrape: authenticate, walk the saved listing
// newest first, download and persist each item.
type Runner struct {
	deps Deps
	now  func() time.Time
}

// NewRunner creates a runner
func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.PageSize <= 0 || deps.PageSize > instagram.MaxSavedPageSize {
		deps.PageSize = 50
	}
	return &Runner{deps: deps, now: time.Now}
}

// Cutoff returns the oldest timestamp in scope for dateRange and whether a
// cutoff applies at all
func Cutoff(dateRange string, now time.Time) (time.Time, bool, error) {
	if dateRange == "" || dateRange == "all" {
		return time.Time{}, false, nil
	}
	days, err := strconv.Atoi(dateRange)
	if err != nil || days <= 0 {
		return time.Time{}, false, fmt.Errorf("invalid date range %q: want \"all\" or a number of days", dateRange)
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), true, nil
}

// Run executes one scrape. stop is polled before every page and every item;
// closing it ends the run after the item in flight. Per-item failures are
// dead-lettered; authentication failures, forced logouts and listing errors
// end the run with an error.
func (r *Runner) Run(ctx context.Context, params Params, stop <-chan struct{}) (Summary, error) {
	log := r.deps.Logger.WithContext(ctx)
	summary := Summary{DryRun: params.DryRun}

	cutoff, bounded, err := Cutoff(params.DateRange, r.now())
	if err != nil {
		return summary, err
	}

	r.update(log, status.Message("Authenticating with Instagram"))
	sess, method, err := r.deps.Auth.Authenticate(ctx)
	if err != nil {
		r.deps.Metrics.RecordAuth("cascade", false)
		return summary, r.runError(log, err)
	}
	r.deps.Metrics.RecordAuth(method, true)
	summary.Method = method
	summary.Username = sess.Username()

	remote, ok := sess.(Remote)
	if !ok {
		return summary, fmt.Errorf("session of type %T cannot list saved posts", sess)
	}
	r.update(log,
		status.LoggedInUser(summary.Username),
		status.Message(fmt.Sprintf("Logged in as %s via %s", summary.Username, method)),
	)

	var fetcher ItemFetcher
	if !params.DryRun {
		fetcher = r.deps.NewFetcher(remote)
	}

	listed := 0
	maxID := ""
	for page := 1; ; page++ {
		if stopRequested(stop) {
			summary.Stopped = true
			break
		}

		feed, err := r.listPage(ctx, log, remote, maxID)
		if err != nil {
			return summary, r.runError(log, err)
		}
		listed += len(feed.Items)
		r.update(log,
			status.Total(listed),
			status.Message(fmt.Sprintf("Processing page %d (%d items)", page, len(feed.Items))),
		)

		for i := range feed.Items {
			if stopRequested(stop) {
				summary.Stopped = true
				break
			}

			item, err := Normalize(&feed.Items[i].Media)
			if err != nil {
				id := feed.Items[i].Media.Identifier()
				if id == "" {
					id = "unknown"
				}
				r.deps.DeadLetter.Add(id, err.Error())
				summary.Processed++
				summary.Errors++
				r.progress(log, summary, listed)
				continue
			}

			if bounded && item.TakenAt.Before(cutoff) {
				log.InfoWithFields("reached date range cutoff", map[string]interface{}{
					"item_id":  item.ID,
					"taken_at": item.TakenAt,
					"cutoff":   cutoff,
				})
				summary.CutoffReached = true
				break
			}

			if params.DryRun {
				summary.Processed++
				r.progress(log, summary, listed)
				continue
			}

			if err := r.processItem(ctx, log, fetcher, item, &summary); err != nil {
				return summary, r.runError(log, err)
			}
			r.progress(log, summary, listed)
		}

		if summary.Stopped || summary.CutoffReached || !feed.MoreAvailable || feed.NextMaxID == "" {
			break
		}
		maxID = feed.NextMaxID
	}

	if summary.CutoffReached || summary.Stopped {
		r.update(log, status.Total(summary.Processed))
	}
	return summary, nil
}

func (r *Runner) listPage(ctx context.Context, log logger.Logger, remote Remote, maxID string) (*instagram.SavedFeedResponse, error) {
	cfg := r.deps.ListRetry
	if cfg == nil {
		cfg = retry.DefaultConfig()
		cfg.Logger = log
	}
	return retry.DoWithResult(ctx, func(ctx context.Context) (*instagram.SavedFeedResponse, error) {
		return remote.SavedMedia(ctx, maxID, r.deps.PageSize)
	}, cfg)
}

// processItem downloads and persists one item. Only a context error is
// returned; everything else is recorded against the item.
func (r *Runner) processItem(ctx context.Context, log logger.Logger, fetcher ItemFetcher, item models.SavedItem, summary *Summary) error {
	summary.Processed++

	res, err := fetcher.Fetch(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.deps.DeadLetter.Add(item.ID, err.Error())
		r.deps.Metrics.RecordItem(metrics.OutcomeFailed)
		summary.Errors++
		return nil
	}

	post := &models.Post{
		Code:          item.Code,
		URL:           item.URL,
		Caption:       item.Caption,
		Timestamp:     item.TakenAt.Unix(),
		MediaPaths:    res.Paths,
		ThumbnailPath: thumbnail(res.Paths),
	}
	if _, err := r.deps.Posts.Upsert(ctx, post); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.deps.DeadLetter.Add(item.ID, err.Error())
		r.deps.Metrics.RecordItem(metrics.OutcomeFailed)
		summary.Errors++
		return nil
	}

	if res.AllExisting() {
		summary.Skipped++
		r.deps.Metrics.RecordItem(metrics.OutcomeSkipped)
	} else {
		r.deps.Metrics.RecordItem(metrics.OutcomeProcessed)
	}
	log.DebugWithFields("item stored", map[string]interface{}{
		"item_id": item.ID,
		"post_id": post.ID,
		"media":   len(res.Paths),
		"failed":  len(res.Failed),
	})
	return nil
}

// runError invalidates the stored session when the remote service logged
// us out
func (r *Runner) runError(log logger.Logger, err error) error {
	if errors.Is(err, errs.ErrForbidden) {
		log.WithError(err).Warn("session revoked by remote service, clearing stored session")
		r.deps.Auth.Invalidate()
	}
	return err
}

func (r *Runner) progress(log logger.Logger, s Summary, total int) {
	r.update(log, status.Counts(s.Processed, total, s.Skipped, s.Errors))
}

func (r *Runner) update(log logger.Logger, fields ...status.Field) {
	if err := r.deps.Status.Update(fields...); err != nil {
		log.WithError(err).Warn("failed to update status")
	}
}

func thumbnail(paths []string) string {
	for _, p := range paths {
		if path.Ext(p) == ".jpg" {
			return p
		}
	}
	return ""
}

func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
