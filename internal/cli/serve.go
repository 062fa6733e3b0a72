package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/nredf-scheduler/internal/config"
	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/internal/observability"
	"github.com/signalsfoundry/nredf-scheduler/internal/report"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/engine"
	"github.com/signalsfoundry/nredf-scheduler/timectrl"
)

// HealthService is the gRPC health service name reporting the simulation.
const HealthService = "nredf.Scheduler"

type serveOptions struct {
	scenario    config.Scenario
	grpcAddr    string
	metricsAddr string
	dbPath      string
	accelerated bool
	// ready, when set, receives the bound gRPC address.
	ready func(addr string)
}

func newServeCmd() *cobra.Command {
	var (
		opts       serveOptions
		configPath string
		duration   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scenario in real time with metrics, tracing and a health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(configPath, duration, 0)
			if err != nil {
				return err
			}
			configureLogging(cmd, scenarioLogging(s))
			opts.scenario = s
			if opts.grpcAddr == "" {
				opts.grpcAddr = s.GRPCAddr
			}
			if opts.metricsAddr == "" {
				opts.metricsAddr = s.MetricsAddr
			}
			if opts.dbPath == "" {
				opts.dbPath = s.DBPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return serve(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Scenario YAML file (default: built-in scenario)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Override the scenario duration")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC health listen address (default: scenario grpc_addr)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for /metrics and the /api/v1 status API (default: scenario metrics_addr)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database to store the results in")
	cmd.Flags().BoolVar(&opts.accelerated, "accelerated", false, "Step TTIs as fast as possible instead of in real time")
	return cmd
}

func serve(ctx context.Context, opts serveOptions, out io.Writer) error {
	s := opts.scenario
	log := logger

	tcfg := observability.TracingConfig{
		Enabled:     s.Tracing.Enabled,
		ServiceName: observability.DefaultServiceName,
		Exporter:    s.Tracing.Exporter,
		Endpoint:    s.Tracing.Endpoint,
		SampleRatio: s.Tracing.SampleRatio,
	}.OverrideFromEnv()
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	service, err := observability.NewServiceCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	mode := timectrl.RealTime
	if opts.accelerated {
		mode = timectrl.Accelerated
	}
	e, err := engine.New(s,
		engine.WithLogger(log),
		engine.WithRegisterer(reg),
		engine.WithTracerProvider(otel.GetTracerProvider()),
		engine.WithMode(mode),
	)
	if err != nil {
		return err
	}

	httpSrv := serveHTTP(opts.metricsAddr, e, reg, log)

	healthSrv := health.NewServer()
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.LoggingUnaryServerInterceptor(log),
			service.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(server, healthSrv)
	reflection.Register(server)

	lis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.grpcAddr, err)
	}
	log.Info(ctx, "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error(ctx, "gRPC server exited", logging.Error(err))
		}
	}()

	started := time.Now().UTC()
	done, err := e.Start(ctx)
	if err != nil {
		server.Stop()
		return err
	}
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	if opts.ready != nil {
		opts.ready(lis.Addr().String())
	}

	<-done
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	if ctx.Err() != nil {
		log.Info(context.Background(), "interrupted; shutting down")
	}

	server.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	return finishRun(shutdownCtx, out, opts.dbPath, s, e.Summary(), started)
}

// serveHTTP exposes /metrics and the JSON status API of e.
func serveHTTP(addr string, e *engine.Engine, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           report.NewRouter(e, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "http server exited", logging.Error(err))
		}
	}()

	log.Info(context.Background(), "serving metrics and status API", logging.String("addr", addr))
	return srv
}
