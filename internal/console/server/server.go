package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/console/handler"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// authn - middleware защищенного периметра (RS256 или Anonymous в режиме без авторизации)
	authn func(http.Handler) http.Handler

	authHandler    *handler.AuthHandler    // /auth/token, nil — логин отключен
	sessionHandler *handler.SessionHandler // /v1/sessions, /v1/analytics
	agentHandler   *handler.AgentHandler   // /v1/agents
}

// NewConsoleServer собирает роутер консоли. authH может быть nil, если авторизация выключена.
func NewConsoleServer(
	logger *zap.Logger,
	authn func(http.Handler) http.Handler,
	authH *handler.AuthHandler,
	sessionH *handler.SessionHandler,
	agentH *handler.AgentHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		authn:          authn,
		authHandler:    authH,
		sessionHandler: sessionH,
		agentHandler:   agentH,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Публичные роуты
	r.Group(func(r chi.Router) {
		if s.authHandler != nil {
			r.Post("/auth/token", s.authHandler.Login)
		}
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// Защищенный периметр
	r.Group(func(r chi.Router) {
		r.Use(s.authn)

		r.Route("/v1/sessions", func(r chi.Router) {
			r.Get("/", s.sessionHandler.List)
			r.With(auth.RequireScope(domain.ScopeSessions)).Post("/", s.sessionHandler.Start)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.sessionHandler.Get)
				r.With(auth.RequireScope(domain.ScopeSessions)).Post("/cancel", s.sessionHandler.Cancel)
			})
		})

		r.Route("/v1/analytics", func(r chi.Router) {
			r.Get("/steps", s.sessionHandler.StepMetrics)
			r.Get("/handoffs", s.sessionHandler.HandoffAnalytics)
		})

		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Get("/health", s.agentHandler.Health)
			r.With(auth.RequireScope(domain.ScopeAgentsOps)).Post("/test", s.agentHandler.Test)
		})
	})
}

func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
