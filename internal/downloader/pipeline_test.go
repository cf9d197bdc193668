package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
	"instasave/pkg/models"
	"instasave/pkg/storage"
)

// fakeFetcher serves bodies by URL; failures lists how many times a URL
// fails before succeeding, -1 meaning always
type fakeFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	failWith map[string]error
	calls    map[string]int
	delay    time.Duration
	active   int32
	peak     int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies:   map[string]string{},
		failures: map[string]int{},
		failWith: map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[url]++
	call := f.calls[url]
	remaining := f.failures[url]
	failErr := f.failWith[url]
	body, ok := f.bodies[url]
	f.mu.Unlock()

	if remaining < 0 || call <= remaining {
		if failErr == nil {
			failErr = errs.FromStatusCode(http.StatusServiceUnavailable, "unavailable")
		}
		return 0, failErr
	}
	if !ok {
		return 0, errs.FromStatusCode(http.StatusNotFound, "missing")
	}
	written, err := io.Copy(w, strings.NewReader(body))
	return written, err
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newTestPipeline(t *testing.T, f Fetcher) (*Pipeline, *storage.Manager) {
	t.Helper()
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	p := NewPipeline(f, store, Options{
		Workers:       5,
		RetryAttempts: 3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Timeout:       time.Second,
		Logger:        logger.NewNopLogger(),
	})
	return p, store
}

var takenAt = time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)

func photo(id, url string) models.MediaSource {
	return models.MediaSource{ID: id, Kind: models.KindImage, ImageURL: url}
}

func readMedia(t *testing.T, store *storage.Manager, rel string) string {
	t.Helper()
	abs, err := store.Resolve(rel)
	require.NoError(t, err)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	return string(data)
}

func TestFetchSingleImage(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["https://cdn/img1"] = "image-bytes"
	p, store := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "111", TakenAt: takenAt,
		Media: []models.MediaSource{photo("111", "https://cdn/img1")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-09/111.jpg"}, res.Paths)
	assert.Equal(t, 0, res.Existing)
	assert.Equal(t, "image-bytes", readMedia(t, store, res.Paths[0]))
}

func TestFetchVideoUsesVideoURL(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["https://cdn/video"] = "video-bytes"
	f.bodies["https://cdn/thumb"] = "thumb-bytes"
	p, store := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "222", TakenAt: takenAt,
		Media: []models.MediaSource{{
			ID: "222", Kind: models.KindVideo,
			VideoURL: "https://cdn/video", ImageURL: "https://cdn/thumb",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-09/222.mp4"}, res.Paths)
	assert.Equal(t, "video-bytes", readMedia(t, store, res.Paths[0]))
	assert.Zero(t, f.callsFor("https://cdn/thumb"))
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["https://cdn/flaky"] = "ok"
	f.failures["https://cdn/flaky"] = 2
	p, _ := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{photo("1", "https://cdn/flaky")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Paths, 1)
	assert.Equal(t, 3, f.callsFor("https://cdn/flaky"))
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeFetcher()
	f.failures["https://cdn/down"] = -1
	p, store := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{photo("1", "https://cdn/down")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoMedia)
	assert.Empty(t, res.Paths)
	assert.Equal(t, 3, f.callsFor("https://cdn/down"))
	assert.False(t, store.Exists("2024-03-09/1.jpg"))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	f := newFakeFetcher()
	f.failures["https://cdn/gone"] = -1
	f.failWith["https://cdn/gone"] = errs.FromStatusCode(http.StatusNotFound, "gone")
	p, _ := newTestPipeline(t, f)

	_, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{photo("1", "https://cdn/gone")},
	})
	assert.ErrorIs(t, err, errs.ErrNoMedia)
	assert.Equal(t, 1, f.callsFor("https://cdn/gone"))
}

func TestFetchSkipsExistingFiles(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["https://cdn/img"] = "new"
	p, store := newTestPipeline(t, f)

	require.NoError(t, store.Save("2024-03-09/1.jpg", func(w io.Writer) error {
		_, err := w.Write([]byte("old"))
		return err
	}))

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{photo("1", "https://cdn/img")},
	})
	require.NoError(t, err)
	assert.True(t, res.AllExisting())
	assert.Zero(t, f.callsFor("https://cdn/img"))
	assert.Equal(t, "old", readMedia(t, store, "2024-03-09/1.jpg"))
}

func TestFetchCarouselPartialFailure(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["https://cdn/a"] = "a"
	f.failures["https://cdn/b"] = -1
	f.failWith["https://cdn/b"] = errs.FromStatusCode(http.StatusForbidden, "denied")
	p, store := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "parent", TakenAt: takenAt, Carousel: true,
		Media: []models.MediaSource{photo("c1", "https://cdn/a"), photo("c2", "https://cdn/b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-09/c1.jpg"}, res.Paths)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error(), "part 1")
	assert.True(t, store.Exists("2024-03-09/c1.jpg"))
	assert.False(t, store.Exists("2024-03-09/c2.jpg"))
}

func TestFetchCarouselAllFail(t *testing.T) {
	f := newFakeFetcher()
	f.failures["https://cdn/a"] = -1
	f.failures["https://cdn/b"] = -1
	p, _ := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "parent", TakenAt: takenAt, Carousel: true,
		Media: []models.MediaSource{photo("c1", "https://cdn/a"), photo("c2", "https://cdn/b")},
	})
	assert.ErrorIs(t, err, errs.ErrNoMedia)
	assert.Len(t, res.Failed, 2)
}

func TestFetchCarouselKeepsOrderAndBoundsConcurrency(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 10 * time.Millisecond
	var media []models.MediaSource
	for i := 0; i < 12; i++ {
		url := fmt.Sprintf("https://cdn/%d", i)
		f.bodies[url] = url
		media = append(media, photo(fmt.Sprintf("c%02d", i), url))
	}
	p, _ := newTestPipeline(t, f)

	res, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "parent", TakenAt: takenAt, Carousel: true, Media: media,
	})
	require.NoError(t, err)
	require.Len(t, res.Paths, 12)
	for i, path := range res.Paths {
		assert.Equal(t, fmt.Sprintf("2024-03-09/c%02d.jpg", i), path)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&f.peak), int32(5))
	assert.Greater(t, atomic.LoadInt32(&f.peak), int32(1))
}

func TestFetchItemWithoutMedia(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeFetcher())
	_, err := p.Fetch(context.Background(), models.SavedItem{ID: "empty"})
	assert.ErrorIs(t, err, errs.ErrNoMedia)
}

func TestFetchMissingSourceURL(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeFetcher())
	_, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{{ID: "1", Kind: models.KindImage}},
	})
	assert.ErrorIs(t, err, errs.ErrNoMedia)
}

func TestFailedDownloadLeavesNoPartialFile(t *testing.T) {
	p, store := newTestPipeline(t, fetcherFunc(func(ctx context.Context, url string, w io.Writer) (int64, error) {
		n, _ := io.Copy(w, bytes.NewBufferString("partial"))
		return n, errs.FromStatusCode(http.StatusBadRequest, "truncated")
	}))

	_, err := p.Fetch(context.Background(), models.SavedItem{
		ID: "1", TakenAt: takenAt,
		Media: []models.MediaSource{photo("1", "https://cdn/x")},
	})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(store.Root(), "2024-03-09"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type fetcherFunc func(ctx context.Context, url string, w io.Writer) (int64, error)

func (f fetcherFunc) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	return f(ctx, url, w)
}
