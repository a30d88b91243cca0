// Package webserver provides the JSON HTTP surface of isktreon.
package webserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/authservice"
)

// Auth manages the SSO session.
type Auth interface {
	CompleteLogin(ctx context.Context, cb authservice.Callback) (app.AuthSession, error)
	Credentials() (int32, string, error)
	Logout(ctx context.Context) error
	RefreshProfile(ctx context.Context) (app.AuthSession, error)
	Snapshot() app.AuthSession
	StartLogin(ctx context.Context) (string, error)
}

// Patronage manages patronage intents and subscriptions.
type Patronage interface {
	Creators() []app.Creator
	Discard(code string) error
	Intent(code string) (app.PatronageIntent, app.VerificationStatus, error)
	IssueForCreator(creatorID int32, tierIndex int) (app.PatronageIntent, error)
	List() []app.PatronageIntent
	Rescan(ctx context.Context, code string) (app.VerificationResult, error)
	Subscriptions() []app.Subscription
}

// Journal reconciles the wallet journal.
type Journal interface {
	ReconcileThrottled(ctx context.Context, characterID int32, accessToken string) (app.Reconciliation, error)
}

// Server serves the JSON API.
type Server struct {
	auth      Auth
	journal   Journal
	patronage Patronage
	router    chi.Router
}

type Params struct {
	Auth      Auth
	Journal   Journal
	Patronage Patronage
	// optional
	AllowedOrigins []string
}

// New returns a new server.
func New(arg Params) *Server {
	if arg.Auth == nil || arg.Journal == nil || arg.Patronage == nil {
		panic("webserver: missing parameters")
	}
	s := &Server{
		auth:      arg.Auth,
		journal:   arg.Journal,
		patronage: arg.Patronage,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	if len(arg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   arg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Post("/logout", s.handleLogout)
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleGetSession)
		r.Post("/session/profile", s.handleRefreshProfile)
		r.Get("/journal", s.handleGetJournal)
		r.Get("/creators", s.handleGetCreators)
		r.Get("/intents", s.handleListIntents)
		r.Post("/intents", s.handleIssueIntent)
		r.Get("/intents/{code}", s.handleGetIntent)
		r.Delete("/intents/{code}", s.handleDiscardIntent)
		r.Post("/intents/{code}/verify", s.handleVerifyIntent)
		r.Get("/subscriptions", s.handleListSubscriptions)
	})
	s.router = r
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
