package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/careline/records-api/internal/config"
	"github.com/careline/records-api/internal/email"
	"github.com/careline/records-api/internal/repository/postgres"
	internalworker "github.com/careline/records-api/internal/worker"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/messaging/redis"
	"github.com/careline/records-api/pkg/metrics"
	"github.com/careline/records-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)
	auditRepo := postgres.NewAuditRepository(base)
	labTestRepo := postgres.NewLabTestRepository(db)
	userRepo := postgres.NewUserRepository(db)

	m := metrics.NewMetrics("clinic_worker")

	processor := worker.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, m)
	cleanup := internalworker.NewCleanupWorker(auditRepo, outboxRepo, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval, appLogger)
	notifier := internalworker.NewOverdueNotifier(
		labTestRepo,
		userRepo,
		email.NewSMTPService(cfg.SMTP),
		cfg.Overdue.SendsPerMinute,
		cfg.Overdue.ScanInterval,
		appLogger,
		m,
	)

	startOpsServer(cfg.Health.Port, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		processor.Start,
		cleanup.Start,
		notifier.Start,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
	wg.Wait()
}

// startOpsServer exposes liveness, readiness and Prometheus metrics on
// a side port.
func startOpsServer(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("Ops server failed")
			os.Exit(1)
		}
	}()
}
