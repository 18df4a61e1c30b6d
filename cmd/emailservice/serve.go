package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	emailadapter "github.com/example/emailservice/internal/adapters/email"
	"github.com/example/emailservice/internal/config"
	"github.com/example/emailservice/internal/confirmation"
	"github.com/example/emailservice/internal/health"
	"github.com/example/emailservice/internal/kafka/producer"
	kafkapublisher "github.com/example/emailservice/internal/kafka/publisher"
	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
	"github.com/example/emailservice/internal/providers/factory"
	"github.com/example/emailservice/internal/render"
	"github.com/example/emailservice/internal/rpc"
	"github.com/example/emailservice/internal/worker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the EmailService and health gRPC endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "emailservice").Logger()

	renderer, err := render.New(templateOptions(cfg.Template)...)
	if err != nil {
		log.Error().Err(err).Msg("failed to load confirmation template")
		return fmt.Errorf("load template: %w", err)
	}

	provider, err := factory.Email(cfg, log.With().Str("component", "mail-provider").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise mail provider")
		return fmt.Errorf("mail provider: %w", err)
	}
	if cfg.Mail.Backend == config.MailBackendLog {
		log.Info().Msg("starting the email service in dummy mode")
	}

	dispatcher, err := emailadapter.NewDispatcher(provider, emailadapter.Settings{
		From:    cfg.SMTP.From,
		Subject: cfg.Mail.Subject,
		Timeout: time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
	}, log.With().Str("component", "dispatcher").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise dispatcher")
		return fmt.Errorf("dispatcher: %w", err)
	}

	mode, err := confirmation.ParseFailureMode(cfg.Dispatch.FailureMode)
	if err != nil {
		log.Error().Err(err).Msg("invalid dispatch failure mode")
		return err
	}
	svcOpts := []confirmation.Option{confirmation.WithFailureMode(mode)}

	if cfg.Kafka.Enabled() {
		prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka").Logger(),
			producer.WithMetadataRefreshInterval(time.Duration(cfg.Kafka.MetadataRefreshSeconds)*time.Second))
		if err != nil {
			log.Error().Err(err).Msg("failed to create kafka producer")
		return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Kafka.StatusTopic,
			log.With().Str("component", "status-publisher").Logger(),
			kafkapublisher.WithTimeout(time.Duration(cfg.Kafka.PublishTimeoutSeconds)*time.Second))
		svcOpts = append(svcOpts, confirmation.WithStatusPublisher(statusPublisher))
	}

	svc, err := confirmation.NewService(renderer, dispatcher, log.With().Str("component", "confirmation").Logger(), svcOpts...)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise confirmation service")
		return fmt.Errorf("confirmation service: %w", err)
	}

	pool, err := worker.NewPool(cfg.Server.WorkerConcurrency, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise worker pool")
		return fmt.Errorf("worker pool: %w", err)
	}

	srv, err := rpc.NewServer(svc, health.NewReporter(log.With().Str("component", "health").Logger()), log.With().Str("component", "rpc").Logger(), rpc.WithPool(pool))
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise grpc server")
		return fmt.Errorf("grpc server: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		metricsSrv := serveMetrics(cfg.Metrics.Addr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	lis, err := net.Listen("tcp", ":"+cfg.Server.Port)
	if err != nil {
		log.Error().Err(err).Str("port", cfg.Server.Port).Msg("failed to listen")
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	log.Info().
		Str("port", cfg.Server.Port).
		Int("worker_concurrency", pool.Size()).
		Str("failure_mode", string(mode)).
		Str("template", renderer.Name()).
		Msg("email service started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		srv.Stop()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("grpc server terminated with error")
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func templateOptions(cfg config.TemplateConfig) []render.Option {
	var opts []render.Option
	if cfg.Dir != "" {
		opts = append(opts, render.WithDir(cfg.Dir))
	}
	if cfg.Name != "" {
		opts = append(opts, render.WithName(cfg.Name))
	}
	return opts
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics endpoint terminated")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics endpoint started")
	return srv
}

// fail reports an error raised before the configured logger exists.
func fail(stage string, err error) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Error().Err(err).Str("stage", stage).Msg("email service init failed")
	return fmt.Errorf("%s: %w", stage, err)
}
