package http

import (
	"net/http"

	"praxis/internal/auth"
	"praxis/internal/config"
	"praxis/internal/content"
	"praxis/internal/http/handler"
	mw "praxis/internal/http/middleware"
	"praxis/internal/mailer"
	"praxis/internal/publication"
	"praxis/internal/subscriber"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	JWT      *auth.JWT
	PubRepo  *publication.Repo
	Articles *content.Store
	Subs     *subscriber.Store
	Logs     *mailer.Repo
	Engine   *mailer.Engine
	Registry *prometheus.Registry
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if d.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)
	r.With(auth.RequireAuth(d.JWT)).Get("/auth/me", ah.Me)

	pubH := &handler.PublicationHandler{Repo: d.PubRepo, Articles: d.Articles}
	delH := &handler.DeliveryHandler{
		Articles:    d.Articles,
		Subscribers: d.Subs,
		Logs:        d.Logs,
		Engine:      d.Engine,
	}

	r.Route("/publications", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Post("/", pubH.Create)
		r.Get("/", pubH.List)
		r.Post("/{id}/retry", pubH.Retry)
	})

	r.Route("/articles", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/{id}/delivery", delH.Summary)
		r.Post("/{id}/send", delH.Send)
	})

	return r
}
