package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opina/server/internal/http/handlers"
	"github.com/opina/server/internal/middleware"
)

const (
	// AuthRateWindow and AuthRateMax bound login and registration attempts per IP
	AuthRateWindow = 10 * time.Minute
	AuthRateMax    = 20
	// VoteRateWindow and VoteRateMax bound code validation attempts per user
	VoteRateWindow = 10 * time.Minute
	VoteRateMax    = 10
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Auth       *handlers.AuthHandler
	Polls      *handlers.PollHandler
	Votes      *handlers.VoteHandler
	Stats      *handlers.StatsHandler
	Categories *handlers.CategoryHandler
	Health     *handlers.HealthHandler
}

// Options configures the cross-cutting parts of the router
type Options struct {
	APIPrefix   string
	FrontendURL string
	DevMode     bool
	Tokens      middleware.TokenVerifier
	AuthLimiter middleware.Limiter
	VoteLimiter middleware.Limiter
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(opts))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	authenticate := middleware.Authenticate(opts.Tokens)
	authLimit := middleware.RateLimit(opts.AuthLimiter, middleware.IPKey)
	voteLimit := middleware.RateLimit(opts.VoteLimiter, middleware.UserKey)

	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = "/api"
	}

	r.Route(prefix, func(r chi.Router) {
		r.NotFound(notFound)
		r.Get("/health", h.Health.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/inscription", h.Auth.Register)
			r.With(authLimit).Post("/connexion", h.Auth.Login)
			r.With(authenticate).Get("/verifier", h.Auth.Me)
		})

		r.Route("/utilisateurs", func(r chi.Router) {
			r.Use(authenticate, middleware.RequireSuperAdmin)
			r.Get("/", h.Auth.ListUsers)
			r.Put("/{id}/roles", h.Auth.SetRole)
		})

		r.Route("/sondages", func(r chi.Router) {
			r.Get("/ouverts", h.Polls.ListOpen)
			r.With(middleware.OptionalAuthenticate(opts.Tokens)).Get("/{id}", h.Polls.Get)

			r.Group(func(r chi.Router) {
				r.Use(authenticate, middleware.RequireAdmin)
				r.Get("/", h.Polls.ListAll)
				r.Post("/", h.Polls.Create)
				r.Put("/{id}", h.Polls.Update)
				r.Delete("/{id}", h.Polls.Delete)
			})
		})

		r.Route("/votes", func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/", h.Votes.Cast)
			r.With(voteLimit).Post("/valider", h.Votes.Confirm)
			r.Get("/historique", h.Votes.History)
			r.Post("/{id}/renvoyer", h.Votes.Resend)
		})

		r.With(authenticate).Get("/statistiques/{id_sondage}", h.Stats.Get)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.Categories.List)
			r.Get("/{id}", h.Categories.Get)
			r.With(authenticate, middleware.RequireAdmin).Post("/", h.Categories.Create)
			r.With(authenticate, middleware.RequireAdmin).Put("/{id}", h.Categories.Update)
			r.With(authenticate, middleware.RequireSuperAdmin).Delete("/{id}", h.Categories.Delete)
		})
	})

	return r
}

// corsHandler allows the web and mobile clients. Any origin is accepted in dev mode.
func corsHandler(opts Options) func(http.Handler) http.Handler {
	origins := []string{
		"http://localhost:5173",
		"http://localhost:5174",
		"capacitor://localhost",
		"ionic://localhost",
		"http://localhost",
	}
	if opts.FrontendURL != "" {
		origins = append(origins, opts.FrontendURL)
	}

	c := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if opts.DevMode {
		c.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	}
	return cors.Handler(c)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"erreur":"Route non trouvée"}` + "\n"))
}
