// Package api serves the analytics dashboard endpoints and accepts ingest
// uploads over HTTP.
package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/store"
)

const maxUploadBytes = 32 << 20

// Deps are the collaborators a Server reads from and writes to.
type Deps struct {
	Store    store.Store
	Analyzer *analytics.Analyzer
	Runner   *ingest.Runner
	// Cache may be nil to disable response caching.
	Cache  Cache
	Logger *zap.Logger
}

type Server struct {
	store          store.Store
	analyzer       *analytics.Analyzer
	runner         *ingest.Runner
	jobs           *ingest.Jobs
	cache          Cache
	cacheTTL       time.Duration
	logger         *zap.Logger
	limiter        *RateLimiter
	csrfKey        []byte
	port           int
	trustedOrigins []string
	httpServer     *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	csrfKey := []byte(cfg.CSRFKey)
	switch len(csrfKey) {
	case 0:
		csrfKey = make([]byte, 32)
		if _, err := rand.Read(csrfKey); err != nil {
			return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
		}
	case 32:
	default:
		return nil, fmt.Errorf("csrf_key must be 32 bytes, got %d", len(csrfKey))
	}

	s := &Server{
		store:          deps.Store,
		analyzer:       deps.Analyzer,
		runner:         deps.Runner,
		jobs:           ingest.NewJobs(),
		cache:          deps.Cache,
		cacheTTL:       cfg.CacheTTL(),
		logger:         logging.OrNop(deps.Logger),
		limiter:        NewRateLimiter(defaultRateLimit, defaultRateWindow),
		csrfKey:        csrfKey,
		port:           cfg.Port,
		trustedOrigins: cfg.TrustedOrigins,
	}
	if s.analyzer == nil {
		s.analyzer = analytics.New(nil, nil)
	}
	if s.cache == nil {
		s.cache = noCache{}
	}
	if s.runner != nil && s.runner.Invalidator == nil {
		s.runner.Invalidator = s.cache
	}
	s.jobs.OnComplete = func(rep ingest.Report) {
		s.logger.Info("ingest job completed",
			zap.String("job", rep.JobID),
			zap.Int("inserted", rep.Inserted))
	}
	return s, nil
}

func (s *Server) Jobs() *ingest.Jobs { return s.jobs }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.sweepLoop(stop)

	s.logger.Info("serving analytics API", zap.Int("port", s.port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.limiter.Sweep()
			s.jobs.Cleanup(time.Hour)
		}
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)
	r.Use(instrument)
	r.Use(plaintextCSRF)

	origins := append([]string{"localhost", "127.0.0.1",
		fmt.Sprintf("localhost:%d", s.port), fmt.Sprintf("127.0.0.1:%d", s.port)}, s.trustedOrigins...)
	r.Use(csrf.Protect(
		s.csrfKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.TrustedOrigins(origins),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			msg := "forbidden"
			if reason := csrf.FailureReason(r); reason != nil {
				msg = reason.Error()
			}
			writeError(w, http.StatusForbidden, msg)
		})),
	))

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf", s.handleCSRF)
		r.Get("/available_streams", s.handleStreams)

		r.Get("/overall_stats", s.analytics(overallStats))
		r.Get("/sentiment_over_time", s.analytics(sentimentOverTime))
		r.Get("/sentiment_distribution", s.analytics(sentimentDistribution))
		r.Get("/email_volume_timeline", s.analytics(volumeTimeline))
		r.Get("/word_cloud", s.analytics(wordCloud))
		r.Get("/top_keywords", s.analytics(topKeywords))
		r.Get("/classified_word_cloud", s.analytics(classifiedWordCloud))
		r.Get("/email_categories", s.analytics(s.emailCategories))
		r.Get("/category_timeline", s.analytics(s.categoryTimeline))

		r.Get("/jobs/{jobID}", s.handleJobStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/classify", s.handleClassify)
			r.Post("/ingest", s.handleIngest)
			r.Post("/jobs/{jobID}/cancel", s.handleJobCancel)
		})
	})

	return r
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method != http.MethodGet {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request latency labelled by chi route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, pattern, fmt.Sprint(status), time.Since(start))
	})
}

// plaintextCSRF tells the CSRF middleware which requests arrived without TLS
// so it skips the HTTPS-only Referer check.
func plaintextCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}
