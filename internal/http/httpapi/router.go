package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Log),
		middleware.CORS(app.Cfg.CORSAllowedOrigins),
		middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/static/*", app.StaticFile)

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(app.Cfg.JWTSecret),
			middleware.I18N(),
		)

		r.Post("/tts", app.TTSGenerate)
		r.Post("/speech-to-speech", app.VoiceConvert)
		r.Post("/sound-effects", app.SoundEffectGenerate)
		r.Post("/images", app.ImagesGenerate)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.JobList)
			r.Get("/{jobID}", app.JobStatus)
			r.Get("/{jobID}/download", app.JobDownload)
		})

		r.Route("/voices", func(r chi.Router) {
			r.Get("/", app.VoiceList)
			r.Post("/", app.VoiceUpload)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", app.CreditBalance)
			r.Get("/history", app.CreditHistory)
		})
	})

	return r
}
