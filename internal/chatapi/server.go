package chatapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"RoleplayChat/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 15 * time.Second

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 30 * time.Second
)

// Server is the HTTP front of a Service.
type Server struct {
	addr     string
	server   *http.Server
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// NewServer builds the HTTP server for svc using the server section of the config.
// tracer and meter may be nil.
func NewServer(cfg config.ServerConfig, svc *Service, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("chatapi")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("chatapi")
	}

	s := &Server{addr: cfg.Addr, logger: logger, tracer: tracer}

	var err error
	s.duration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "name", "http.server.request.duration", "error", err)
	}

	mux := http.NewServeMux()
	NewHandler(svc, logger, cfg.AppendTimeout).Register(mux)

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     CORS(cfg.AllowedOrigins, s.instrument(mux)),
		ReadTimeout: ReadTimeout,
		// Replies can take as long as the append timeout.
		WriteTimeout: cfg.AppendTimeout + 15*time.Second,
		IdleTimeout:  IdleTimeout,
	}
	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts the HTTP server and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("session API listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down session API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		s.logger.Info("session API stopped")
		return nil

	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.Int("http.status_code", rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		if s.duration != nil {
			s.duration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.Int("http.status_code", rec.status),
			))
		}

		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
