package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
	"github.com/staffhub/staffhub/internal/storage"
	"github.com/staffhub/staffhub/internal/web/handlers"
	"github.com/staffhub/staffhub/internal/web/middleware"
	"github.com/staffhub/staffhub/internal/web/sse"
)

// Server represents the web server
type Server struct {
	cfg           *config.Config
	db            *database.DB
	router        *chi.Mux
	procedures    *rpc.Router
	authenticator *auth.Authenticator
	sseBroker     *sse.Broker
	handlers      *handlers.Handlers
}

// NewServer wires the procedure router, event stream and static client
// behind the shared middleware stack
func NewServer(cfg *config.Config, db *database.DB, tokens *auth.TokenIssuer, store storage.ObjectStore, notifier *notification.Manager, broker *sse.Broker) (*Server, error) {
	authenticator := auth.NewAuthenticator(db, tokens)
	s := &Server{
		cfg:           cfg,
		db:            db,
		router:        chi.NewRouter(),
		procedures:    rpc.NewRouter(authenticator),
		authenticator: authenticator,
		sseBroker:     broker,
		handlers:      handlers.New(db, tokens, store, notifier, cfg.PublicURL),
	}
	s.handlers.Register(s.procedures)

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() error {
	rpcLimit, err := middleware.NewIPRateLimiter(s.cfg.Rate.RPC)
	if err != nil {
		return fmt.Errorf("invalid rpc rate %q: %w", s.cfg.Rate.RPC, err)
	}
	loginLimit, err := middleware.NewProcedureRateLimiter(s.cfg.Rate.Login, "auth.login", "auth.forgotPassword", "auth.resetPassword")
	if err != nil {
		return fmt.Errorf("invalid login rate %q: %w", s.cfg.Rate.Login, err)
	}

	requestTimeout := s.cfg.Timeouts.Request
	if requestTimeout <= 0 {
		requestTimeout = config.DefaultTimeoutConfig().Request
	}

	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Prometheus)
	r.Use(middleware.NewSecure(middleware.SecureOptions(s.cfg.Dev)))
	r.Use(middleware.CORS(s.cfg.CORSOrigins))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.sseBroker.Handler(s.authenticator))

	r.Route("/rpc", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Use(rpcLimit)
		r.Use(loginLimit)
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Mount("/", s.procedures.Routes())
	})

	if s.cfg.StaticDir != "" {
		r.Handle("/*", spaHandler(s.cfg.StaticDir))
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// spaHandler serves files from dir and falls back to index.html so the
// client-side router can resolve deep links
func spaHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if f, err := root.Open(name); err == nil {
			info, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, index)
	})
}

// Start starts the web server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections;
		// the /rpc timeout middleware bounds regular requests
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.sseBroker.Stop()
		grace := s.cfg.Timeouts.Shutdown
		if grace <= 0 {
			grace = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
