package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pinstrategy/internal/http/handlers"
	"pinstrategy/internal/middleware"
)

// Options configures the router beyond the handler set.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	StaticDir          string
	Gatherer           prometheus.Gatherer
	Observer           middleware.HTTPObserver
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(app.Logger))
	if opts.Observer != nil {
		r.Use(middleware.Metrics(opts.Observer))
	}
	r.Use(middleware.CORS(opts.CORSAllowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.SessionsCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.SessionGet)
			r.Post("/reset", app.SessionReset)
			r.Get("/events", app.SessionEvents)
			r.Get("/bundle.zip", app.SessionBundle)
			r.Get("/runs", app.SessionRuns)
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/runs", app.RunsStart)
		})
	})
	r.Get("/v1/runs/{run_id}", app.RunGet)

	if opts.Gatherer != nil {
		r.Method(stdhttp.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Handle("/static/*", fs)
	}

	return r
}
