// File: internal/infra/web/server.go
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/config"
	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/infra/payment"
	"telegram-paywall-bot/internal/usecase"
)

// Server hosts the provider webhooks, the health/metrics endpoints and the
// small admin API.
type Server struct {
	cfg      *config.Config
	payUC    usecase.PaymentUseCase
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	signer   *payment.RobokassaSigner
	verifier *payment.CryptoCloudVerifier
	auth     *AuthManager
	log      *zerolog.Logger
	server   *http.Server
}

func NewServer(
	cfg *config.Config,
	payUC usecase.PaymentUseCase,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	signer *payment.RobokassaSigner,
	verifier *payment.CryptoCloudVerifier,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		cfg:      cfg,
		payUC:    payUC,
		payments: payments,
		subs:     subs,
		signer:   signer,
		verifier: verifier,
		auth:     NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, 30*time.Minute),
		log:      &l,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Providers call these; no auth beyond the signatures themselves.
	r.Get("/robokassa-webhook", s.handleRobokassaResult)
	r.Post("/robokassa-webhook", s.handleRobokassaResult)
	r.Post("/robokassa-recurring", s.handleRobokassaRecurring)
	r.Post("/cryptocloud-webhook", s.handleCryptoCloudPostback)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/stats", s.handleStats)
			r.Get("/users/{id}", s.handleUserLookup)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Admin.Port),
		Handler: s.routes(),
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireAdmin gates the admin API behind a valid session token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
