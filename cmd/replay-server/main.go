package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/flight-replay/internal/config"
	"github.com/signalsfoundry/flight-replay/internal/dataapi"
	"github.com/signalsfoundry/flight-replay/internal/datasource"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/internal/observability"
	"github.com/signalsfoundry/flight-replay/internal/playback"
	"github.com/signalsfoundry/flight-replay/internal/replayapi"
	"github.com/signalsfoundry/flight-replay/kb"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

// frameBuffer is the per-subscriber queue depth of the frame hub.
const frameBuffer = 64

// pinger is implemented by sources that can check reachability up front.
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	envFile := flag.String("env", ".env", "optional .env file with REPLAY_* settings")
	source := flag.String("source", "", "data source: http, sqlite, postgres or acmi (overrides REPLAY_SOURCE)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the playback gRPC server listens on (overrides REPLAY_GRPC_ADDR)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides REPLAY_METRICS_ADDR)")
	dataAPIAddr := flag.String("data-api-addr", "", "HTTP address for the telemetry data API (overrides REPLAY_DATA_API_ADDR)")
	tracing := flag.Bool("tracing", false, "enable OpenTelemetry tracing (same as REPLAY_TRACING_ENABLED=true)")
	tracingExporter := flag.String("tracing-exporter", "", "trace exporter: stdout or otlp (overrides REPLAY_TRACING_EXPORTER)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC collector address (overrides REPLAY_OTLP_ENDPOINT)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	override(&cfg.Source, *source)
	override(&cfg.GRPCAddr, *grpcAddr)
	override(&cfg.MetricsAddr, *metricsAddr)
	override(&cfg.DataAPIAddr, *dataAPIAddr)
	override(&cfg.Tracing.Exporter, *tracingExporter)
	override(&cfg.Tracing.Endpoint, *otlpEndpoint)
	if *tracing {
		cfg.Tracing.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "replay server failed", logging.Err(err))
		os.Exit(1)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func tracingConfig(cfg config.Config) observability.TracingConfig {
	t := cfg.Tracing
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
		Attributes: []attribute.KeyValue{
			attribute.String("replay.source", cfg.Source),
			attribute.String("replay.grpc_addr", cfg.GRPCAddr),
		},
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, tracingConfig(cfg), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	playMetrics, err := observability.NewPlaybackCollector(reg)
	if err != nil {
		return err
	}

	src, closeSource, err := datasource.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			log.Warn(context.Background(), "closing data source failed", logging.Err(err))
		}
	}()

	if p, ok := src.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			log.Warn(ctx, "data source not reachable yet", logging.Err(err))
		}
	}

	catalog := kb.NewCatalog()
	unwatch := catalog.Subscribe(func(e kb.Event) {
		if e.Type == kb.EventCatalogReplaced {
			log.Debug(context.Background(), "sortie catalog replaced", logging.Int("count", e.Count))
		}
	})
	defer unwatch()
	if n, err := catalog.Refresh(ctx, src); err != nil {
		// Not fatal: the catalog is refreshed again on first use.
		log.Warn(ctx, "initial sortie listing failed", logging.Err(err))
	} else {
		log.Info(ctx, "loaded sortie catalog", logging.Int("count", n))
	}

	clock := timectrl.NewFrameClock(cfg.Tick, timectrl.RealTime)
	hub := playback.NewHub(frameBuffer, playMetrics)
	player := playback.NewPlayer(src, clock,
		playback.WithLogger(log),
		playback.WithMetrics(playMetrics),
		playback.WithSinks(hub),
		playback.WithLoopPolicy(cfg.LoopPolicy()),
		playback.WithRate(cfg.Rate),
	)
	defer player.Close()

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			replayapi.RequestIDUnaryServerInterceptor(log),
			replayapi.TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			replayapi.RequestIDStreamServerInterceptor(log),
			replayapi.TracingStreamServerInterceptor(),
			rpcMetrics.StreamServerInterceptor(),
		),
	)
	replayapi.RegisterPlaybackServer(server, replayapi.NewPlaybackService(catalog, src, player, hub, log))

	var httpServers []*http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rpcMetrics.Handler())
		httpServers = append(httpServers, serveHTTP(cfg.MetricsAddr, mux, "metrics", log))
	}
	if cfg.DataAPIAddr != "" {
		httpServers = append(httpServers, serveHTTP(cfg.DataAPIAddr, dataapi.NewRouter(src, log), "data API", log))
	}

	clockCtx, stopClock := context.WithCancel(ctx)
	clockDone := clock.Run(clockCtx, 0)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting playback gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	log.Info(context.Background(), "shutting down replay server")
	stopClock()
	<-clockDone
	// Ends open frame streams so GracefulStop does not wait on them.
	hub.Close()
	gracefulStop(server, 5*time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range httpServers {
		_ = srv.Shutdown(shutdownCtx)
	}
	if errors.Is(runErr, grpc.ErrServerStopped) {
		runErr = nil
	}
	return runErr
}

func gracefulStop(server *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}

func serveHTTP(addr string, handler http.Handler, name string, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+name, logging.String("addr", addr))
	return srv
}
