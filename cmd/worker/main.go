// worker は RabbitMQ のタスクキューから生成依頼を受け取り続けるサービスです。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shouni/gemini-pose-kit/internal/app"
	"github.com/shouni/gemini-pose-kit/internal/config"
	"github.com/shouni/gemini-pose-kit/internal/logger"
	"github.com/shouni/gemini-pose-kit/internal/worker"
)

const (
	maxConnectAttempts = 5
	connectDelay       = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info("Starting pose generation worker...", zap.String("env", cfg.AppEnv), zap.Int("concurrency", cfg.Worker.Concurrency))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, appLogger); err != nil {
		appLogger.Error("Worker stopped with error", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info("Worker shut down gracefully")
}

func serve(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) error {
	reg := prometheus.DefaultRegisterer

	pipeline, err := app.Build(ctx, cfg, appLogger, app.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = pipeline.Close() }()

	store, err := worker.NewOutputStore(pipeline.Writer, cfg.OutputDir, cfg.Worker.ImagePublicBaseURL)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, cfg.RabbitMQ.URL, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	publisher, err := worker.NewRabbitPublisher(conn, cfg.RabbitMQ.ResultQueue)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	handler, err := worker.NewHandler(pipeline.Runner, store, publisher, pipeline.Options, worker.NewMetrics(app.MetricsNamespace, reg), appLogger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		appLogger.Info("Metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	g.Go(func() error {
		select {
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		tag := fmt.Sprintf("%s-%d", cfg.RabbitMQ.ConsumerName, i)
		consumer, err := worker.NewConsumer(handler, cfg.RabbitMQ.TaskQueue, tag, appLogger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("failed to open consumer channel: %w", err)
			}
			defer func() { _ = ch.Close() }()
			return consumer.Run(gctx, ch)
		})
	}

	appLogger.Info("Pose generation worker started")
	return g.Wait()
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// dial は RabbitMQ への接続を数回まで再試行します。
func dial(ctx context.Context, url string, appLogger *zap.Logger) (*amqp091.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			appLogger.Info("RabbitMQ connected successfully")
			return conn, nil
		}
		lastErr = err
		appLogger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-time.After(connectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("rabbitmq: giving up after %d attempts: %w", maxConnectAttempts, lastErr)
}
