package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/influxdb"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/pipeline"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	m := metrics.New()

	// Aggregates go to InfluxDB only when it is enabled
	var sink processor.Sink
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.NewClient(context.Background(), cfg.InfluxDB, logger, m)
		if err != nil {
			logger.Fatal("Failed to create InfluxDB client", zap.Error(err))
		}
		sink = influxClient
	}

	proc := processor.NewProcessor(sink, cfg.Processor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.HTTP.Enabled {
		go serveMetrics(cfg.HTTP.Addr, m, logger)
	}

	var wg sync.WaitGroup
	logger.Info("Starting Kafka consumers", zap.Int("count", cfg.Kafka.ConsumerCount))

	for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
		consumer, err := kafka.NewConsumer(
			fmt.Sprintf("consumer-%d", i),
			cfg.Kafka,
			proc.ProcessMessages,
			logger,
			m,
		)
		if err != nil {
			logger.Fatal("Failed to create consumer", zap.Int("consumer", i), zap.Error(err))
		}

		wg.Add(1)
		go func(c *kafka.Consumer, id int) {
			defer wg.Done()
			defer c.Close()
			if err := c.Consume(ctx); err != nil {
				logger.Error("Consumer error", zap.Int("consumer", id), zap.Error(err))
			}
			logger.Info("Consumer stopped", zap.Int("consumer", id))
		}(consumer, i)
	}

	// Wait for termination signal
	<-sigChan
	logger.Info("Received termination signal. Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All consumers stopped successfully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timed out, featurizing what was received")
	}

	proc.Stop()

	if err := featurize(context.Background(), cfg, proc.Snapshot(), logger, m); err != nil {
		logger.Error("Featurization failed", zap.Error(err))
	}

	// Safe to close InfluxDB once the processor has flushed
	if influxClient != nil {
		influxClient.Close()
	}
	logger.Info("Shutdown complete.")
}

// featurize builds the feature tables from the replayed readings and trains every model.
func featurize(ctx context.Context, cfg *config.Config, readings []models.Reading, logger *zap.Logger, m *metrics.Metrics) error {
	if len(readings) == 0 {
		logger.Info("No readings received, nothing to featurize")
		return nil
	}

	ds := &simulation.Dataset{Readings: readings}
	var recorder pipeline.ArtifactRecorder
	if cfg.Store.Path != "" {
		st, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if ds.Transformers, err = st.Transformers(ctx); err != nil {
			return err
		}
		recorder = st
	}

	f, err := pipeline.BuildFeatures(ctx, ds, pipeline.Options{
		Workers:        cfg.Simulation.Workers,
		ImputationSeed: cfg.Simulation.ImputationSeed,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return err
	}

	results, err := pipeline.Train(ctx, f, ds.Transformers, pipeline.TrainOptions{
		ModelDir:        cfg.ModelDir,
		RunID:           uuid.NewString(),
		SyntheticLabels: cfg.Simulation.SyntheticLabels,
		LabelSeed:       cfg.Simulation.Seed,
		Artifacts:       recorder,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Featurization complete",
		zap.Int("readings", len(readings)),
		zap.Int("models", len(results)))
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}
