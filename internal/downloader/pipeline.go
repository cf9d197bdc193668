package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"instasave/pkg/config"
	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
	"instasave/pkg/metrics"
	"instasave/pkg/models"
	"instasave/pkg/retry"
	"instasave/pkg/storage"
)

// Fetcher streams a remote media file
type Fetcher interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// MediaStore is where downloaded files are written
type MediaStore interface {
	Exists(rel string) bool
	Save(rel string, write func(w io.Writer) error) error
}

// Options configures a Pipeline
type Options struct {
	// Workers caps concurrent downloads of one carousel
	Workers       int
	RetryAttempts int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	// Timeout bounds a single attempt
	Timeout time.Duration
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// OptionsFromConfig maps the download section of the config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:       cfg.Download.ConcurrentDownloads,
		RetryAttempts: cfg.Download.RetryAttempts,
		BaseDelay:     cfg.Download.BaseDelay,
		MaxDelay:      cfg.Download.MaxDelay,
		Timeout:       cfg.Download.DownloadTimeout,
	}
}

// Result lists what Fetch produced for one item
type Result struct {
	// Paths are relative media paths in item order, all durable on disk
	Paths []string
	// Existing counts paths that were already on disk before this fetch
	Existing int
	// Failed holds one error per part that could not be downloaded
	Failed []error
}

// AllExisting reports whether nothing had to be downloaded
func (r *Result) AllExisting() bool {
	return len(r.Paths) > 0 && r.Existing == len(r.Paths) && len(r.Failed) == 0
}

// Pipeline downloads the media of saved items into the media root
type Pipeline struct {
	fetcher Fetcher
	store   MediaStore
	opts    Options
	logger  logger.Logger
	metrics metrics.Recorder
	backoff retry.BackoffStrategy
}

// NewPipeline creates a pipeline. Zero options fall back to 5 workers and
// 3 attempts.
func NewPipeline(fetcher Fetcher, store MediaStore, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 5
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	var backoff retry.BackoffStrategy
	if opts.BaseDelay > 0 {
		backoff = retry.NewExponentialBackoff(opts.BaseDelay, opts.MaxDelay)
	} else {
		backoff = &retry.ConstantBackoff{}
	}

	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		logger:  log,
		metrics: rec,
		backoff: backoff,
	}
}

// Fetch downloads every media file of item. A single item maps to exactly
// one path; carousel parts are fetched concurrently and the item succeeds
// when at least one part does. errs.ErrNoMedia is returned when nothing
// could be stored.
func (p *Pipeline) Fetch(ctx context.Context, item models.SavedItem) (*Result, error) {
	log := p.logger.WithContext(ctx).WithField("item_id", item.ID)

	if len(item.Media) == 0 {
		return nil, fmt.Errorf("%w: item %s has no media", errs.ErrNoMedia, item.ID)
	}

	jobs := make([]DownloadJob, len(item.Media))
	for i, src := range item.Media {
		jobs[i] = DownloadJob{
			ItemID:  item.ID,
			Index:   i,
			Source:  src,
			RelPath: storage.RelPath(item.TakenAt, src.ID, src.Kind),
		}
	}

	var results []DownloadResult
	if item.Carousel && len(jobs) > 1 {
		results = p.fetchParallel(ctx, jobs, log)
	} else {
		results = []DownloadResult{p.download(ctx, jobs[0])}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })

	res := &Result{}
	for _, r := range results {
		if r.Error != nil {
			log.WarnWithFields("media download failed", map[string]interface{}{
				"index": r.Job.Index,
				"path":  r.Job.RelPath,
				"error": r.Error.Error(),
			})
			res.Failed = append(res.Failed, fmt.Errorf("part %d: %w", r.Job.Index, r.Error))
			continue
		}
		logger.LogDownload(log, item.ID, r.Job.RelPath, r.Existed, nil)
		res.Paths = append(res.Paths, r.Job.RelPath)
		if r.Existed {
			res.Existing++
		}
	}
	if missing := len(jobs) - len(results); missing > 0 {
		res.Failed = append(res.Failed, fmt.Errorf("%d parts abandoned: %w", missing, ctx.Err()))
	}

	if len(res.Paths) == 0 {
		return res, fmt.Errorf("%w: %w", errs.ErrNoMedia, errors.Join(res.Failed...))
	}
	return res, nil
}

// fetchParallel runs jobs on a pool sized to the carousel, capped at the
// configured worker count
func (p *Pipeline) fetchParallel(ctx context.Context, jobs []DownloadJob, log logger.Logger) []DownloadResult {
	workers := p.opts.Workers
	if len(jobs) < workers {
		workers = len(jobs)
	}

	pool := NewWorkerPool(ctx, workers, p.download, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	results := make([]DownloadResult, 0, len(jobs))
	for r := range pool.Results() {
		results = append(results, r)
	}
	return results
}

// download stores one media file, skipping files already on disk
func (p *Pipeline) download(ctx context.Context, job DownloadJob) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job}

	if p.store.Exists(job.RelPath) {
		result.Existed = true
		p.metrics.RecordDownload(metrics.OutcomeExisting, 0, 0)
		return result
	}

	url := job.Source.SourceURL()
	if url == "" {
		result.Error = errs.New(errs.ErrorTypeParsing, 0, "media has no source URL")
		p.metrics.RecordDownload(metrics.OutcomeFailed, 0, 0)
		return result
	}

	cfg := &retry.Config{
		MaxAttempts: p.opts.RetryAttempts,
		Backoff:     p.backoff,
		RetryIf:     errs.IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			p.metrics.RecordRetry()
		},
		Logger: p.logger,
	}

	result.Error = retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
			defer cancel()
		}
		return p.store.Save(job.RelPath, func(w io.Writer) error {
			n, err := p.fetcher.Download(attemptCtx, url, w)
			result.Size = n
			return err
		})
	}, cfg)

	result.Duration = time.Since(start)
	if result.Error != nil {
		result.Size = 0
		p.metrics.RecordDownload(metrics.OutcomeFailed, 0, result.Duration)
		return result
	}
	p.metrics.RecordDownload(metrics.OutcomeDownloaded, result.Size, result.Duration)
	return result
}
