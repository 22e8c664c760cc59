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

func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS([]string{"http://localhost:3000", "http://localhost:5173"}),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/projects", func(r chi.Router) {
		r.Post("/", app.ProjectCreate)
		r.Get("/", app.ProjectList)
		r.Route("/{project_id}", func(r chi.Router) {
			r.Get("/", app.ProjectGet)
			r.Put("/", app.ProjectUpdate)
			r.Delete("/", app.ProjectDelete)
			r.Post("/open", app.ProjectOpen)
			r.Post("/save", app.ProjectSave)
			r.Post("/close", app.ProjectClose)
			r.Get("/export", app.ProjectExport)
			r.Post("/batch", app.BatchGenerate)

			r.Route("/shots/{shot_id}", func(r chi.Router) {
				r.Post("/keyframe", app.KeyframeGenerate)
				r.Post("/interval", app.IntervalGenerate)
				r.Post("/panels/describe", app.PanelsDescribe)
				r.Post("/panels", app.PanelsGenerate)
			})
			r.Post("/characters/{character_id}/variations", app.VariationGenerate)
		})
	})

	r.Route("/v1/credentials", func(r chi.Router) {
		r.Put("/{provider}", app.CredentialSet)
		r.Delete("/{provider}", app.CredentialDelete)
	})

	return r
}
