package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"instasave/pkg/database"
	"instasave/pkg/job"
	"instasave/pkg/logger"
	"instasave/pkg/metrics"
	"instasave/pkg/models"
	"instasave/pkg/status"
)

// JobControl is the job controller surface exposed over HTTP
type JobControl interface {
	Start(dateRange string, dryRun bool) error
	RequestStop() bool
	Status() status.Record
	State() job.State
	RunID() string
}

// Authenticator tests credentials and stores an operator supplied session id
type Authenticator interface {
	TestLogin(ctx context.Context) models.LoginResult
	SaveSessionID(sessionID string) (string, error)
}

// PostStore lists stored posts and resolves their media
type PostStore interface {
	ListPosts(ctx context.Context, opts database.ListOptions) (*models.PostPage, error)
	MediaPath(ctx context.Context, code string, idx int) (string, error)
}

// MediaResolver maps a relative media path to a file under the media root
type MediaResolver interface {
	Resolve(rel string) (string, error)
}

// Deps are the collaborators of the router
type Deps struct {
	Jobs  JobControl
	Auth  Authenticator
	Posts PostStore
	Media MediaResolver
	// LogFile is tailed by /scrape/logs
	LogFile          string
	DefaultDateRange string
	PostsPerPage     int
	Gatherer         prometheus.Gatherer
	Logger           logger.Logger
}

// NewRouter builds the JSON job control API
func NewRouter(deps *Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	h := &handler{deps: deps, logger: log.WithField("component", "http")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/scrape", func(r chi.Router) {
		r.Post("/", h.startScrape)
		r.Get("/status", h.scrapeStatus)
		r.Get("/summary", h.scrapeSummary)
		r.Post("/stop", h.stopScrape)
		r.Get("/logs", h.scrapeLogs)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/session", h.setSession)
		r.Post("/test", h.testLogin)
	})

	r.Get("/posts", h.listPosts)
	r.Get("/m/{code}/{idx}", h.serveMedia)

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
