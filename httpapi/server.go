package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	goGuard "github.com/MrEthical07/goGuard"
)

// HeaderRequestID carries the correlation ID of a request.
const HeaderRequestID = "X-Request-ID"

// Options tunes a Server. Zero values select defaults.
type Options struct {
	Logger *slog.Logger
	// AdminToken guards the maintenance functions. Empty leaves them open,
	// which is only appropriate behind a private network.
	AdminToken string
	// RequestsPerSecond and Burst size the per-IP token bucket.
	RequestsPerSecond float64
	Burst             int
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   *goGuard.Engine
	logger   *slog.Logger
	admin    string
	throttle *throttle
	router   chi.Router
}

// New builds the router. Run starts the background eviction of idle
// throttle entries.
func New(engine *goGuard.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	s := &Server{
		engine:   engine,
		logger:   opts.Logger,
		admin:    opts.AdminToken,
		throttle: newThrottle(opts.RequestsPerSecond, opts.Burst, engine.Config().Guard.TrustProxyHeaders),
	}

	r := chi.NewRouter()
	r.Use(requestID, s.recoverer, s.requestLogger, s.throttle.middleware, engine.ClientContext())

	r.Get("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/functions", func(r chi.Router) {
		r.Post("/check-permission", s.handleCheckPermission)
		r.Post("/rate-limit", s.handleRateLimit)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/cleanup-rate-limits", s.handleCleanupRateLimits)
			r.Post("/security-alert-monitor", s.handleAlertMonitor)
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignUp)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/password/reset", s.handlePasswordReset)
		r.Post("/password/update", s.handlePasswordUpdate)
		r.Get("/oauth/{provider}", s.handleOAuth)
		r.Route("/mfa", func(r chi.Router) {
			r.Get("/", s.handleMFAStatus)
			r.Post("/verify", s.handleVerifyMFA)
			r.Post("/setup", s.handleMFASetup)
			r.Post("/confirm", s.handleMFAConfirm)
			r.Post("/disable", s.handleMFADisable)
			r.Post("/recovery-codes", s.handleRecoveryCodes)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Run blocks until ctx ends, evicting idle throttle entries.
func (s *Server) Run(ctx context.Context) { s.throttle.run(ctx) }

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			if v7, err := uuid.NewV7(); err == nil {
				id = v7.String()
			} else {
				id = uuid.NewString()
			}
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

// RequestID returns the correlation ID assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http_request_finished",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				buf := make([]byte, 4096)
				buf = buf[:runtime.Stack(buf, false)]
				s.logger.ErrorContext(r.Context(), "panic_recovered",
					slog.Any("panic", v),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(buf)),
				)
				writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
