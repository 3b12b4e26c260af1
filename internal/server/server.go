package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/config"
	"github.com/todoauth/apiserver/internal/auth"
	"github.com/todoauth/apiserver/internal/db"
	"github.com/todoauth/apiserver/internal/handlers"
	"github.com/todoauth/apiserver/internal/logging"
	"github.com/todoauth/apiserver/internal/metrics"
	"github.com/todoauth/apiserver/internal/mq"
	"github.com/todoauth/apiserver/internal/services"
	"github.com/todoauth/apiserver/internal/store"
	"github.com/todoauth/apiserver/types"
)

const (
	defaultPort    = 3000
	requestTimeout = 60 * time.Second
)

// Options adjusts how New assembles the server.
type Options struct {
	// InMemory replaces Postgres with process-local repositories.
	InMemory bool
}

// Deps are the collaborators NewRouter mounts.
type Deps struct {
	AuthService *services.AuthService
	TodoService *services.TodoService
	Tokens      *auth.TokenManager
	// DB is pinged by /healthz when non-nil.
	DB        handlers.Pinger
	Metrics   *metrics.Metrics
	Logger    logrus.FieldLogger
	RateLimit config.RateLimitConfig
	// TrustProxyHeaders derives the client address from forwarding headers.
	// Left false, RemoteAddr is the connection peer and cannot be spoofed.
	TrustProxyHeaders bool
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     logrus.FieldLogger
	cancel     context.CancelFunc
}

// New constructs a Server from cfg. Storage and messaging connections are
// opened here and released by Shutdown.
func New(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, opts Options) (*Server, error) {
	tokens, err := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	var (
		dbConn *sql.DB
		users  services.UserRepository
		todos  services.TodoRepository
	)
	if opts.InMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		users = store.NewMemoryUserRepository()
		todos = store.NewMemoryTodoRepository()
	} else {
		dbConn, err = db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		users = store.NewUserRepository(dbConn)
		todos = store.NewTodoRepository(dbConn)
	}

	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		closeDB(dbConn)
		return nil, err
	}

	m := metrics.New()
	events := mq.NewPublisher(broker, m.EventsPublishedTotal)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)

	authService := services.NewAuthService(users, hasher, tokens, events, logger.WithField("component", "auth"))
	todoService := services.NewTodoService(todos, events, logger.WithField("component", "todos"))

	if cfg.Auth.AdminEmail != "" {
		created, err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		if err != nil {
			closeDB(dbConn)
			closeMQ(broker)
			return nil, fmt.Errorf("seed admin: %w", err)
		}
		if created {
			logger.WithField("email", cfg.Auth.AdminEmail).Info("admin account created")
		}
	}

	deps := Deps{
		AuthService: authService,
		TodoService: todoService,
		Tokens:      tokens,
		Metrics:     m,
		Logger:      logger,
		RateLimit:   cfg.RateLimit,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
	if dbConn != nil {
		deps.DB = dbConn
	}

	routerCtx, cancel := context.WithCancel(context.Background())
	router := NewRouter(routerCtx, deps)

	port := cfg.ServerPort
	if port == 0 {
		port = defaultPort
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         broker,
		logger:     logger,
		cancel:     cancel,
	}, nil
}

// NewRouter mounts every route on a fresh chi router. Background work it
// starts stops when ctx is done.
func NewRouter(ctx context.Context, deps Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if deps.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(
		logging.RequestLogger(deps.Logger),
		deps.Metrics.Middleware,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	router.Get("/healthz", handlers.Healthz(deps.DB, deps.Logger))
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	requireAuth := handlers.RequireAuth(deps.Tokens, deps.Logger, deps.Metrics)
	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.Tokens.TTL(), deps.Logger, deps.Metrics)
	todoHandler := handlers.NewTodoHandler(deps.TodoService, deps.Logger)

	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// RATE_LIMIT_RPS <= 0 disables limiting.
			if deps.RateLimit.RPS > 0 {
				limiter := handlers.NewRateLimiter(ctx, deps.RateLimit.RPS, deps.RateLimit.Burst, deps.Metrics.RateLimitedTotal.Inc)
				r.Use(limiter.Middleware)
			}
			handlers.AuthRouter(r, authHandler, requireAuth)
		})
		r.Route("/todos", func(r chi.Router) {
			r.Use(requireAuth)
			handlers.TodoRouter(r, todoHandler)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, handlers.RequireRole(types.RoleAdmin))
			handlers.AdminRouter(r, todoHandler)
		})
	})

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	closeMQ(s.mq)
	closeDB(s.db)
	return err
}

func closeDB(conn *sql.DB) {
	if conn != nil {
		_ = conn.Close()
	}
}

func closeMQ(broker *mq.MQ) {
	if broker != nil {
		_ = broker.Close()
	}
}
