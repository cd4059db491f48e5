package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/health"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/output"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
)

// TriagePath accepts log lines and answers with the triage result
const TriagePath = "/v1/triage"

// Triager runs the pipeline over one source
type Triager interface {
	Run(ctx context.Context, src input.Source) (*pipeline.Result, error)
}

// Deliverer forwards a result to the configured sinks
type Deliverer interface {
	Dispatch(ctx context.Context, result *pipeline.Result) error
}

// Config holds server configuration
type Config struct {
	Address      string
	MetricsPath  string
	APIKeys      []string
	RateLimit    float64 // Requests per second per client, 0 for unlimited
	RateBurst    int
	MaxBodySize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          *tls.Config  // Serve HTTPS when set
	Debug        http.Handler // Mounted under /debug/ when set

	Metrics       *metrics.Collector
	HealthChecker *health.Checker
	Logger        *logging.Logger
}

// Server serves triage requests, metrics and health checks on one listener
type Server struct {
	config    Config
	triager   Triager
	deliverer Deliverer
	logger    *logging.Logger
	http      *http.Server
	handler   http.Handler

	mu       sync.Mutex
	limiters map[string]*clientLimiter
	stop     chan struct{}
	stopOnce sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new server. deliverer may be nil, in which case results are
// only returned to the caller.
func New(cfg Config, triager Triager, deliverer Deliverer) (*Server, error) {
	if triager == nil {
		return nil, fmt.Errorf("triager is required")
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		cfg.RateBurst = 1
	}
	if cfg.HealthChecker == nil {
		cfg.HealthChecker = health.NewChecker(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	s := &Server{
		config:    cfg,
		triager:   triager,
		deliverer: deliverer,
		logger:    cfg.Logger.WithComponent("server"),
		limiters:  make(map[string]*clientLimiter),
		stop:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	if cfg.Metrics != nil {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(
			cfg.Metrics.Registry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}
	mux.HandleFunc("/health/live", cfg.HealthChecker.LivenessHandler())
	mux.HandleFunc("/health/ready", cfg.HealthChecker.ReadinessHandler())
	mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
	if cfg.Debug != nil {
		mux.Handle("/debug/", s.authMiddleware(cfg.Debug))
	}
	mux.Handle(TriagePath, s.authMiddleware(s.rateLimitMiddleware(http.HandlerFunc(s.handleTriage))))

	s.handler = s.instrument(mux)
	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLS,
	}

	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens in the background. It returns an error when the listener
// fails immediately.
func (s *Server) Start() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().
			Str("address", s.http.Addr).
			Bool("tls", s.http.TLSConfig != nil).
			Msg("Starting triage server")

		var err error
		if s.http.TLSConfig != nil {
			// Certificates come from TLSConfig
			err = s.http.ListenAndServeTLS("", "")
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("triage server error: %w", err)
		}
	}()

	if s.config.RateLimit > 0 {
		go s.sweepLimiters(5 * time.Minute)
	}

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.logger.Info().Msg("Shutting down triage server")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down triage server")
		return err
	}
	return nil
}

// Name identifies the server as a shutdown stage
func (s *Server) Name() string {
	return "server"
}

// triageRequest is the JSON form of a triage request body
type triageRequest struct {
	Lines []string `json:"lines"`
}

// handleTriage runs the pipeline over the request body. A JSON body carries
// {"lines": [...]}, any other body is read as newline-separated text.
func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Limit request body size
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)

	var src input.Source
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req triageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, statusForBodyError(err), fmt.Sprintf("invalid request body: %v", err))
			return
		}
		src = input.NewSliceSource("http", req.Lines)
	} else {
		src = input.NewReaderSource("http", r.Body)
	}

	result, err := s.triager.Run(r.Context(), src)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Triage request failed")
		writeError(w, statusForBodyError(err), err.Error())
		return
	}

	if s.deliverer != nil {
		if err := s.deliverer.Dispatch(r.Context(), result); err != nil {
			s.logger.Error().Err(err).Str("run_id", result.Summary.RunID).Msg("Failed to deliver triage report")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	data, err := output.Encode(result, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Run-Id", result.Summary.RunID)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func statusForBodyError(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// apiKey extracts the key from X-API-Key or a bearer Authorization header
func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// authMiddleware checks API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no API keys configured, allow all
		if len(s.config.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := apiKey(r)
		matched := -1
		for i, k := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				matched = i
				break
			}
		}

		if matched < 0 {
			s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Authentication failed")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyIndexKey{}, matched)))
	})
}

// keyIndexKey carries the position of the matched API key in the request context
type keyIndexKey struct{}

// rateLimitMiddleware applies a token bucket per client
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := clientID(r)
		if !s.limiter(client).Allow() {
			if s.config.Metrics != nil {
				s.config.Metrics.InputRateLimited.WithLabelValues(client).Inc()
			}
			s.logger.Warn().Str("client", client).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientID names the matched API key by its position when keys are enforced,
// otherwise the remote host. Key text never leaves authMiddleware.
func clientID(r *http.Request) string {
	if i, ok := r.Context().Value(keyIndexKey{}).(int); ok {
		return "key-" + strconv.Itoa(i)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiter gets or creates the rate limiter for a client
func (s *Server) limiter(client string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)}
		s.limiters[client] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// sweepLimiters drops limiters of clients idle for longer than idle
func (s *Server) sweepLimiters(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle(time.Now().Add(-idle))
		case <-s.stop:
			return
		}
	}
}

func (s *Server) evictIdle(before time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client, cl := range s.limiters {
		if cl.lastSeen.Before(before) {
			delete(s.limiters, client)
		}
	}
}

// statusRecorder captures the response code for request metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by path and status code
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.config.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		switch path {
		case TriagePath, s.config.MetricsPath, "/health", "/health/live", "/health/ready":
		default:
			path = "other"
		}
		s.config.Metrics.ServerRequests.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
	})
}
