package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/config"
	"github.com/jimclydegm/logotoanythingapp/internal/handlers"
	"github.com/jimclydegm/logotoanythingapp/internal/middleware"
	"github.com/jimclydegm/logotoanythingapp/internal/realtime"
)

// Authenticator resolves callers and guards the private routes.
type Authenticator interface {
	handlers.Authenticator
	Require(next http.Handler) http.Handler
}

// Deps are the services the routes are built from.
type Deps struct {
	Log       *zap.Logger
	DB        handlers.Pinger
	Auth      Authenticator
	Sessions  handlers.SessionClient
	Profiles  handlers.ProfileEnsurer
	Accounts  handlers.AccountStore
	Billing   handlers.Billing
	Webhooks  handlers.EventVerifier
	Events    handlers.EventHandler
	Objects   handlers.ObjectStore
	Generator handlers.Generator
	Realtime  *realtime.Hub
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New constructs an HTTP server using the provided configuration and services.
func New(cfg config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger(log))
	router.Use(chimw.Recoverer)
	router.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	router.Use(middleware.CORS(cfg.AppURL))

	router.Get("/healthz", handlers.Health(deps.DB))

	// Stripe posts here; other methods get a 405 from the handler itself.
	router.Handle("/api/webhook", handlers.Webhook(deps.Webhooks, deps.Events, log))

	router.Get("/auth/callback", handlers.AuthCallback(deps.Sessions, deps.Profiles, cfg.AppURL, log))
	router.Get("/api/verify-session", handlers.VerifySession(deps.Auth))
	router.Post("/api/auth/signout", handlers.SignOut(deps.Sessions, cfg.AppURL, log))

	router.Group(func(r chi.Router) {
		r.Use(deps.Auth.Require)

		r.Post("/api/payment", handlers.Checkout(deps.Billing, log))
		r.Post("/api/verify-payment", handlers.VerifyPayment(deps.Billing, log))
		r.Post("/api/customer-portal", handlers.CustomerPortal(deps.Billing, log))

		r.Post("/api/upload-images", handlers.UploadImage(deps.Objects, log))
		r.Post("/api/put-logo-to-anything", handlers.Generate(deps.Generator, log))

		r.Get("/api/profile", handlers.Profile(deps.Accounts, log))
		r.Get("/api/payments", handlers.Payments(deps.Accounts, log))
		r.Get("/api/generations", handlers.Generations(deps.Accounts, log))
		r.Get("/api/subscription", handlers.Subscription(deps.Accounts, log))

		if deps.Realtime != nil {
			r.Get("/api/profile/events", deps.Realtime.StreamHandler(realtime.DefaultHeartbeat))
		}
	})

	// No WriteTimeout: generation requests poll for minutes and the profile
	// stream stays open.
	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Shutdown only waits for idle connections; profile streams never go idle.
	if deps.Realtime != nil {
		srv.RegisterOnShutdown(deps.Realtime.Close)
	}

	return &Server{httpServer: srv, log: log}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, grace)
}

// Serve accepts connections on ln until ctx is done, then stops accepting and
// waits up to grace for in-flight requests to complete. It returns only after
// the drain has finished or grace has elapsed.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))

	served := make(chan error, 1)
	go func() { served <- s.httpServer.Serve(ln) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	s.log.Info("http server shutting down", zap.Duration("grace", grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if serveErr := <-served; !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
