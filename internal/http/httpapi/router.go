package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storyforge/internal/http/handlers"
	"storyforge/internal/infra"
	"storyforge/internal/middleware"
)

// RouterOptions carries the request-scoped policy knobs the middleware chain
// needs.
type RouterOptions struct {
	Logger          infra.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLanguage string
	Languages       []string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Language(opts.DefaultLanguage, opts.Languages),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/stories", func(r chi.Router) {
		r.Post("/", app.StoriesCreate)
		r.Get("/{job_id}", app.StoriesGet)
		r.Post("/{job_id}/approve", app.StoriesApprove)
		r.Post("/{job_id}/reject", app.StoriesReject)
		r.Get("/{job_id}/audio", app.StoriesAudio)
	})

	return r
}
