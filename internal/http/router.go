package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/http/handlers"
	"github.com/iago/storybook-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         logrus.FieldLogger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Context bounds background work owned by the router, such as rate
	// limiter cleanup.
	Context context.Context
}

func NewRouter(deps RouterDependencies) http.Handler {
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recovery(deps.Logger),
		middleware.Trace(deps.Logger),
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}),
		middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst),
		middleware.Auth(deps.AuthToken),
	)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", deps.API.Health)

	r.Route("/storybook", func(r chi.Router) {
		r.Post("/start", deps.API.StartStorybook)
		r.Get("/status", deps.API.StorybookStatus)
		r.Get("/download/{jobID}.pdf", deps.API.DownloadStorybook)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/storybooks", deps.API.ListStorybooks)
	})

	return r
}
