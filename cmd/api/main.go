package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/fredledger/pkg/config"
	"github.com/mcclellann/fredledger/pkg/dbr"
	"github.com/mcclellann/fredledger/pkg/events"
	"github.com/mcclellann/fredledger/pkg/idempotency"
	"github.com/mcclellann/fredledger/pkg/ledger"
	"github.com/mcclellann/fredledger/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

func openStore(cfg config.DatabaseConfig, log *logrus.Logger) (store.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(cfg.DSN, log)
	case config.DriverMemory:
		log.Warn("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.DSN, log)
	}
}

func ledgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		MaxRetries: cfg.Ledger.MaxRetries,
		Scale:      cfg.Ledger.Scale,
		LateFee: ledger.LateFeeConfig{
			Percent:   decimal.NewFromFloat(cfg.LateFee.Percent),
			Cap:       decimal.NewFromFloat(cfg.LateFee.Cap),
			GraceDays: cfg.LateFee.GraceDays,
		},
	}
}

// newScheduler skips a job's tick while its previous run is still going.
func newScheduler(log *logrus.Logger) *cron.Cron {
	return cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))))
}

// scheduleJobs registers the outbox relay and late fee assessment.
func scheduleJobs(ctx context.Context, cfg config.JobsConfig, relay *events.Relay, l *ledger.Ledger, log *logrus.Logger) (*cron.Cron, error) {
	c := newScheduler(log)
	if cfg.OutboxRelay != "" {
		_, err := c.AddFunc(cfg.OutboxRelay, func() {
			if _, err := relay.Flush(ctx); err != nil {
				log.WithError(err).Warn("Outbox relay run incomplete")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid outbox relay schedule %q: %w", cfg.OutboxRelay, err)
		}
	}
	if cfg.LateFees != "" {
		_, err := c.AddFunc(cfg.LateFees, func() {
			log.Info("Running late fee assessment...")
			n, err := l.AssessLateFees(ctx, time.Now().UTC())
			if err != nil {
				log.WithError(err).Error("Late fee assessment failed")
				return
			}
			log.WithField("charged", n).Info("Late fee assessment complete.")
		})
		if err != nil {
			return nil, fmt.Errorf("invalid late fee schedule %q: %w", cfg.LateFees, err)
		}
	}
	return c, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.Database.Driver, err)
	}
	defer storage.Close()

	var opts []ledger.Option
	if cfg.Redis.Addr != "" {
		client, err := idempotency.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		opts = append(opts, ledger.WithGuard(idempotency.NewGuard(client, cfg.Redis.InFlightTTL())))
	}

	var publisher events.Publisher = events.LogPublisher{Log: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchSize)
	}
	defer publisher.Close()

	l := ledger.NewLedger(storage, ledgerConfig(cfg), logger, opts...)
	checker := dbr.NewChecker(storage, decimal.NewFromFloat(cfg.DBR.MaxRatio))
	relay := events.NewRelay(storage, publisher, cfg.Kafka.BatchSize, logger)

	jobs, err := scheduleJobs(ctx, cfg.Jobs, relay, l, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule jobs: %v", err)
	}
	jobs.Start()

	server := NewServer(l, checker, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
	<-jobs.Stop().Done()

	// Last relay pass so events committed during shutdown are not left waiting.
	if _, err := relay.Flush(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Final outbox flush incomplete")
	}
}
