package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"instasave/pkg/config"
	"instasave/pkg/database"
	errs "instasave/pkg/errors"
	"instasave/pkg/logger"
)

const (
	defaultLogLines = 200
	maxLogLines     = 2000
)

type handler struct {
	deps   *Deps
	logger logger.Logger
}

type scrapeRequest struct {
	DateRange string `json:"date_range"`
	DryRun    bool   `json:"dry_run"`
}

type scrapeResponse struct {
	Started   bool   `json:"started"`
	RunID     string `json:"run_id"`
	DateRange string `json:"date_range"`
	DryRun    bool   `json:"dry_run"`
}

type summaryResponse struct {
	LoggedInUser string     `json:"logged_in_user,omitempty"`
	Processed    int        `json:"processed"`
	Skipped      int        `json:"skipped"`
	Errors       int        `json:"errors"`
	DryRun       bool       `json:"dry_run"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"sessionid"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"job":    string(h.deps.Jobs.State()),
	})
}

// startScrape launches a job.
// POST /scrape accepts JSON or form fields date_range and dry_run.
func (h *handler) startScrape(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScrapeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.DateRange == "" {
		req.DateRange = h.deps.DefaultDateRange
	}
	if req.DateRange == "" {
		req.DateRange = "all"
	}
	if !config.ValidDateRange(req.DateRange) {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_RANGE", `date_range must be "all" or a positive number of days`)
		return
	}

	err = h.deps.Jobs.Start(req.DateRange, req.DryRun)
	switch {
	case errors.Is(err, errs.ErrJobRunning):
		writeError(w, http.StatusConflict, "JOB_RUNNING", "a scrape is already in progress")
		return
	case errors.Is(err, errs.ErrUncleanShutdown):
		writeError(w, http.StatusConflict, "UNCLEAN_SHUTDOWN", "a job marker from an earlier run is still present; clear it before starting")
		return
	case err != nil:
		h.logger.WithError(err).Error("failed to start scrape")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to start scrape")
		return
	}

	writeJSON(w, http.StatusAccepted, scrapeResponse{
		Started:   true,
		RunID:     h.deps.Jobs.RunID(),
		DateRange: req.DateRange,
		DryRun:    req.DryRun,
	})
}

func decodeScrapeRequest(r *http.Request) (scrapeRequest, error) {
	var req scrapeRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.DateRange = strings.TrimSpace(r.FormValue("date_range"))
	switch strings.ToLower(r.FormValue("dry_run")) {
	case "on", "true", "1", "yes":
		req.DryRun = true
	}
	return req, nil
}

// scrapeStatus returns the progress record.
// GET /scrape/status
func (h *handler) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Jobs.Status())
}

// scrapeSummary returns the counters of the current or last run.
// GET /scrape/summary
func (h *handler) scrapeSummary(w http.ResponseWriter, r *http.Request) {
	rec := h.deps.Jobs.Status()
	out := summaryResponse{
		LoggedInUser: rec.LoggedInUser,
		Processed:    rec.Processed,
		Skipped:      rec.Skipped,
		Errors:       rec.Errors,
		DryRun:       rec.DryRun,
		StartTime:    rec.StartTime,
		LastUpdated:  rec.LastUpdated,
	}
	if rec.Summary != nil {
		out.Processed = rec.Summary.Processed
		out.Skipped = rec.Summary.Skipped
		out.Errors = rec.Summary.Errors
		out.DryRun = rec.Summary.DryRun
	}
	writeJSON(w, http.StatusOK, out)
}

// stopScrape asks the running job to stop after the current item.
// POST /scrape/stop
func (h *handler) stopScrape(w http.ResponseWriter, r *http.Request) {
	stopping := h.deps.Jobs.RequestStop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopping": stopping})
}

// scrapeLogs returns the tail of the operator log as plain text.
// GET /scrape/logs?lines=N
func (h *handler) scrapeLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_LINES", "lines must be an integer")
			return
		}
		n = parsed
	}
	if n < 1 {
		n = 1
	} else if n > maxLogLines {
		n = maxLogLines
	}

	lines, err := logger.TailFile(h.deps.LogFile, n)
	if err != nil {
		h.logger.WithError(err).Error("failed to read log file")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read log file")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		io.WriteString(w, line+"\n")
	}
}

// setSession stores a session id for the next authentication.
// POST /auth/session
func (h *handler) setSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	} else {
		req.SessionID = r.FormValue("sessionid")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "SESSION_ID_REQUIRED", "sessionid is required")
		return
	}

	path, err := h.deps.Auth.SaveSessionID(req.SessionID)
	if err != nil {
		h.logger.WithError(err).Error("failed to save session id")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to save session id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"saved": true, "path": path})
}

// testLogin runs the authentication cascade once.
// POST /auth/test
func (h *handler) testLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Auth.TestLogin(r.Context()))
}

// listPosts pages through stored posts.
// GET /posts?q=&page=&limit=&sort_order=asc|desc
func (h *handler) listPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := database.ListOptions{
		Query: strings.TrimSpace(q.Get("q")),
		Page:  1,
		Limit: h.deps.PostsPerPage,
	}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_PAGE", "page must be a positive integer")
			return
		}
		opts.Page = page
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		opts.Limit = limit
	}
	switch strings.ToLower(q.Get("sort_order")) {
	case "", "desc":
	case "asc":
		opts.Ascending = true
	default:
		writeError(w, http.StatusBadRequest, "INVALID_SORT_ORDER", "sort_order must be asc or desc")
		return
	}

	page, err := h.deps.Posts.ListPosts(r.Context(), opts)
	if err != nil {
		h.logger.WithError(err).Error("failed to list posts")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// serveMedia streams the idx-th media file of a post.
// GET /m/{code}/{idx}
func (h *handler) serveMedia(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if code == "" || err != nil || idx < 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "media not found")
		return
	}

	rel, err := h.deps.Posts.MediaPath(r.Context(), code, idx)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "media not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to look up media")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to look up media")
		return
	}

	abs, err := h.deps.Media.Resolve(rel)
	if err != nil {
		h.logger.WithError(err).WithField("path", rel).Warn("refusing media path")
		writeError(w, http.StatusNotFound, "INVALID_MEDIA_PATH", "invalid media path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "MEDIA_MISSING", "media file missing")
		return
	}
	http.ServeFile(w, r, abs)
}
