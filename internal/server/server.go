// Package server assembles the weather MCP server: the HTTP routes, the authentication
// gate, the event stream transport and the weather tools.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mcpweather "github.com/miyamo2/mcp-weather"
	"github.com/miyamo2/mcp-weather/internal/auth"
	"github.com/miyamo2/mcp-weather/internal/config"
	"github.com/miyamo2/mcp-weather/internal/handler"
	"github.com/miyamo2/mcp-weather/internal/infrastructure/nws"
	"github.com/miyamo2/mcp-weather/internal/metrics"
	"github.com/miyamo2/mcp-weather/internal/tracing"
	"github.com/miyamo2/mcp-weather/transport"
)

const (
	// Name is announced as serverInfo.name.
	Name = "weather-server"

	HealthPath   = "/health"
	StreamPath   = "/sse"
	MessagesPath = "/messages"

	// HealthMessage is the body of a health check.
	HealthMessage = "Hello World, i'm healthy!!"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is the HTTP front of the weather MCP server.
type Server struct {
	cfg     *config.Config
	mcp     *mcpweather.Server
	sse     *transport.SSE
	http    *http.Server
	metrics *metrics.Registry
	logger  *zap.Logger
}

type options struct {
	version    string
	logger     *zap.Logger
	metrics    *metrics.Registry
	tracer     *tracing.Tracer
	keys       auth.KeySet
	httpClient *http.Client
}

// Option configures the Server.
type Option func(*options)

// WithVersion settings the version announced as serverInfo.version.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// WithLogger settings the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics settings the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer settings the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithKeySet settings the key set tokens are verified against.
//
// If not set, the Entra ID key set of the configured tenant is used.
func WithKeySet(keys auth.KeySet) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithHTTPClient settings the client used for the weather API and the key set.
//
// Its transport is wrapped with metrics and tracing instrumentation for the weather API.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New assembles a Server from cfg.
//
// The Entra ID key set is refreshed in the background until ctx is done.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	o := &options{
		version:    "1.0.0",
		logger:     zap.NewNop(),
		tracer:     tracing.Disabled(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewRegistry()
	}
	logger := o.logger

	upstream := http.DefaultTransport
	if o.httpClient.Transport != nil {
		upstream = o.httpClient.Transport
	}
	weatherClient := nws.NewClient(
		nws.ClientWithBaseURL(cfg.NWSBaseURL),
		nws.ClientWithHTTPClient(&http.Client{
			Transport: o.tracer.Transport(o.metrics.InstrumentRoundTripper(upstream)),
			Timeout:   cfg.NWSTimeout,
		}),
		nws.ClientWithLogger(logger.Named("nws")),
	)

	mcp := mcpweather.New(Name,
		mcpweather.WithVersion(o.version),
		mcpweather.WithLogger(logger.Named("mcp")))
	mcp.UseInTools(o.tracer.ToolMiddleware, o.metrics.ToolMiddleware)
	handler.NewWeather(weatherClient).Register(mcp)

	sse := transport.NewSSE(
		transport.SSEWithMessageEndpoint(MessagesPath),
		transport.SSEWithKeepAlive(cfg.SSEKeepAlive),
		transport.SSEWithRegistry(transport.NewRegistry(transport.RegistryWithLogger(logger.Named("registry")))),
		transport.SSEWithLogger(logger.Named("transport")))
	o.metrics.ObserveSessions(sse.Registry().Len)

	keys := o.keys
	if keys == nil {
		jwks, err := auth.NewJWKS(ctx, auth.MicrosoftJWKSURL(cfg.TenantID),
			auth.JWKSWithHTTPClient(o.httpClient),
			auth.JWKSWithLogger(logger.Named("jwks")))
		if err != nil {
			return nil, fmt.Errorf("failed to create key set: %w", err)
		}
		keys = jwks
	}
	gate := auth.NewGate(keys, auth.EntraIDAcceptances(cfg.TenantID, cfg.ClientID),
		auth.GateWithSkipPaths(HealthPath),
		auth.GateWithFailureHook(func(r auth.Reason) { o.metrics.AuthFailed(string(r)) }),
		auth.GateWithLogger(logger.Named("auth")))
	if cfg.RoleCheckLenient {
		logger.Warn("role check is lenient: any token with a roles claim is accepted")
	}

	s := &Server{
		cfg:     cfg,
		mcp:     mcp,
		sse:     sse,
		metrics: o.metrics,
		logger:  logger,
	}
	s.http = &http.Server{
		Handler:           o.tracer.HTTPMiddleware(gate.Middleware(routes(sse, gate.RequireRole(cfg.RoleName, cfg.RoleCheckLenient)))),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	return s, nil
}

func routes(sse *transport.SSE, requireRole func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, health)
	mux.Handle("GET "+StreamPath, requireRole(http.HandlerFunc(sse.HandleStream)))
	mux.Handle("POST "+MessagesPath, requireRole(http.HandlerFunc(sse.HandleMessage)))
	return mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(HealthMessage))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Metrics returns the metrics registry.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// Serve serves on ln until ctx is canceled, then closes every session and shuts the
// HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// outlives ctx so that sessions are closed by the shutdown below, not by the caller
	mcpCtx, cancelMCP := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelMCP()

	ready := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.mcp.Start(
			mcpweather.StartWithContext(mcpCtx),
			mcpweather.StartWithListener(s.sse),
			mcpweather.StartWithReadySignal(ready))
		if err != nil {
			return fmt.Errorf("mcp server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			ln.Close()
			return nil
		}
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		// ends every open stream, so Shutdown does not wait on them
		cancelMCP()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
