package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/audit"
	"github.com/butterflyhq/butterfly/internal/config"
	"github.com/butterflyhq/butterfly/internal/db"
	"github.com/butterflyhq/butterfly/internal/llm/adapter"
	"github.com/butterflyhq/butterfly/internal/logging"
	"github.com/butterflyhq/butterfly/internal/middleware"
	"github.com/butterflyhq/butterfly/internal/search"
)

// Version is reported by /info.
var Version = "0.1.0"

const (
	serviceName     = "butterfly"
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 64 << 10

	storePingTimeout = 2 * time.Second
)

// Server is the butterfly HTTP service.
type Server struct {
	config *config.Config
	logger *zap.Logger
	level  *zap.AtomicLevel

	// Core components
	analyzer Analyzer
	llm      adapter.LLMAdapter
	searcher search.Searcher
	audit    audit.Logger
	store    db.Store

	// HTTP plumbing
	limiter    *middleware.RateLimiter
	cors       *middleware.CORS
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu        sync.RWMutex
	running   bool
	stopping  bool
	closeOnce sync.Once
	closeErr  error
	now       func() time.Time
}

// Option customizes a Server. Components supplied through options are used
// instead of building them from configuration.
type Option func(*Server)

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithLogLevel lets configuration reloads change the log level.
func WithLogLevel(level zap.AtomicLevel) Option {
	return func(s *Server) { s.level = &level }
}

// WithAnalyzer replaces the analysis pipeline.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// WithLLM replaces the LLM adapter reported by /ready and /info.
func WithLLM(llm adapter.LLMAdapter) Option {
	return func(s *Server) { s.llm = llm }
}

// WithSearcher replaces the search provider.
func WithSearcher(sr search.Searcher) Option {
	return func(s *Server) { s.searcher = sr }
}

// WithAuditLogger replaces the audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithClock overrides the time source used in responses.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new butterfly server
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.logger == nil {
		srv.logger = zap.NewNop()
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	srv.handler = srv.routes()
	return srv, nil
}

// initializeComponents builds whatever was not injected.
func (s *Server) initializeComponents() error {
	if s.analyzer == nil {
		if s.llm == nil {
			llm, err := NewLLM(s.ctx, s.config)
			if err != nil {
				return err
			}
			s.llm = llm
		}
		if s.searcher == nil {
			searcher, err := NewSearcher(s.config)
			if err != nil {
				return err
			}
			s.searcher = searcher
		}
		comps := &Components{LLM: s.llm, Searcher: s.searcher}
		comps.Pipeline = newPipeline(comps, s.config, s.logger)
		s.analyzer = comps.Pipeline
	}
	if s.searcher == nil {
		s.searcher = search.Disabled{}
	}

	if s.audit == nil {
		auditLogger, store, err := NewAuditLogger(s.config, s.logger)
		if err != nil {
			return err
		}
		s.audit, s.store = auditLogger, store
	}

	window := seconds(s.config.RateLimit.WindowSeconds)
	s.limiter = middleware.NewRateLimiter(s.config.RateLimit.Requests, window,
		middleware.WithDeniedHook(func(r *http.Request, key string) {
			s.logger.Warn("rate limit exceeded", zap.String("client", key), zap.String("path", r.URL.Path))
			_ = s.audit.LogRateLimited(r.Context(), key, r.URL.Path)
		}),
	)
	s.cors = middleware.NewCORS(s.config.Server.AllowedOrigins)
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	// WriteTimeout covers the longest analysis plus encoding time.
	requestTimeout := seconds(s.config.Server.RequestTimeoutSeconds)
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	s.running = true

	provider, model := s.providerInfo()
	s.logger.Info("butterfly server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("llm_provider", provider),
		zap.String("llm_model", model),
		zap.String("search_provider", s.searcher.Name()),
	)
	_ = s.audit.LogServerStarted(s.ctx, ln.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.stopping = true
	s.mu.Unlock()

	s.logger.Info("stopping butterfly server")
	_ = s.audit.LogServerShutdown(context.Background(), "shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down HTTP server", zap.Error(err))
	}

	// Cancel in-flight analyses and WebSocket sessions
	s.cancel()
	s.wg.Wait()

	return s.Close()
}

// Close releases background resources. Stop calls it; use it directly when
// the server was built but never started.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		s.cancel()
		s.limiter.Stop()
		var errs []error
		if err := s.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit logger: %w", err))
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audit store: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("butterfly server stopped")
	})
	return s.closeErr
}

// beginSession registers a long-lived session with the shutdown wait group.
// It fails once Stop or Close has begun.
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ApplyConfig applies the reloadable parts of cfg: rate limits, allowed
// origins and the log level. Provider settings require a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.SetLimits(cfg.RateLimit.Requests, seconds(cfg.RateLimit.WindowSeconds))
	s.cors.SetOrigins(cfg.Server.AllowedOrigins)
	if s.level != nil {
		if err := logging.SetLevel(*s.level, cfg.Logging.Level); err != nil {
			s.logger.Warn("ignoring log level from reloaded config", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.config.RateLimit = cfg.RateLimit
	s.config.Server.AllowedOrigins = cfg.Server.AllowedOrigins
	s.config.Logging.Level = cfg.Logging.Level
	s.mu.Unlock()

	s.logger.Info("configuration reloaded",
		zap.Int("rate_limit_requests", cfg.RateLimit.Requests),
		zap.Int("rate_limit_window_seconds", cfg.RateLimit.WindowSeconds),
		zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
	)
	_ = s.audit.LogConfigReload(s.ctx, nil)
}

// ReloadConfig re-reads configuration through mgr and applies it. A
// rejected configuration leaves the running settings untouched.
func (s *Server) ReloadConfig(ctx context.Context, mgr config.ConfigManager) error {
	if err := mgr.Reload(ctx); err != nil {
		s.logger.Warn("configuration reload rejected", zap.Error(err))
		_ = s.audit.LogConfigReload(ctx, err)
		return err
	}
	s.ApplyConfig(mgr.Get(ctx))
	return nil
}

// providerInfo returns the LLM provider and model names for reporting.
func (s *Server) providerInfo() (string, string) {
	if s.llm == nil {
		return s.config.LLM.Provider, s.config.LLM.Model
	}
	return string(s.llm.Provider()), s.llm.Model()
}

// llmReady reports whether analyses can reach a model.
func (s *Server) llmReady() bool {
	return s.llm == nil || s.llm.Configured()
}

func (s *Server) requestTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RequestTimeout(s.config)
}
