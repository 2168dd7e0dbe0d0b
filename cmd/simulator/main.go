package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/httpapi"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/influxdb"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/kafka"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/mqtt"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/pipeline"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/store"
	"go.uber.org/zap"
	"gopkg.in/cheggaaa/pb.v1"
)

const shutdownTimeout = 30 * time.Second

// sink is a transport synthetic readings are published to.
type sink interface {
	Name() string
	PublishReadings(ctx context.Context, readings []models.Reading) error
}

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("Simulation failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	bar := pb.StartNew(cfg.Simulation.Meters)
	gen, err := simulation.NewGenerator(cfg.Simulation,
		simulation.WithLogger(logger),
		simulation.WithMetrics(m),
		simulation.WithProgress(func(_, _ int) { bar.Increment() }),
	)
	if err != nil {
		bar.Finish()
		return err
	}
	ds, err := gen.Generate(ctx)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	var recorder pipeline.ArtifactRecorder
	if cfg.Store.Path != "" {
		st, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SaveCustomers(ctx, ds.Customers); err != nil {
			return err
		}
		if err := st.SaveTransformers(ctx, ds.Transformers); err != nil {
			return err
		}
		logger.Info("Catalog saved",
			zap.String("path", cfg.Store.Path),
			zap.Int("customers", len(ds.Customers)),
			zap.Int("transformers", len(ds.Transformers)))
		recorder = st
	}

	sinks, influxClient, closeSinks, err := openSinks(ctx, cfg, ds.RunID, logger, m)
	if err != nil {
		return err
	}
	defer closeSinks()

	for _, s := range sinks {
		if err := s.PublishReadings(ctx, ds.Readings); err != nil {
			return fmt.Errorf("publish to %s: %w", s.Name(), err)
		}
	}

	features, err := pipeline.BuildFeatures(ctx, ds, pipeline.Options{
		Workers:        cfg.Simulation.Workers,
		ImputationSeed: cfg.Simulation.ImputationSeed,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}
	if influxClient != nil {
		influxClient.WriteSeries(features.Series)
		influxClient.Flush()
	}

	results, err := pipeline.Train(ctx, features, ds.Transformers, pipeline.TrainOptions{
		ModelDir:        cfg.ModelDir,
		RunID:           ds.RunID,
		SyntheticLabels: cfg.Simulation.SyntheticLabels,
		LabelSeed:       cfg.Simulation.Seed,
		Artifacts:       recorder,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	for _, res := range results {
		logger.Info("Model ready",
			zap.String("model", string(res.Kind)),
			zap.String("path", res.Path),
			zap.Int("rows", res.State.Rows))
	}

	if !cfg.HTTP.Enabled {
		return nil
	}
	return serve(ctx, cfg.HTTP, httpapi.NewServer(ds, features,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(m),
		httpapi.WithPredictions(results),
	), logger)
}

// openSinks connects every enabled transport. On success the returned func closes them all.
func openSinks(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger, m *metrics.Metrics) ([]sink, *influxdb.Client, func(), error) {
	var sinks []sink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka, logger); err != nil {
			return nil, nil, nil, err
		}
		producer, err := kafka.NewProducer(cfg.Kafka, runID, logger, m)
		if err != nil {
			return nil, nil, nil, err
		}
		sinks = append(sinks, producer)
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				logger.Warn("Closing Kafka producer", zap.Error(err))
			}
		})
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		c, err := influxdb.NewClient(ctx, cfg.InfluxDB, logger, m)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		influxClient = c
		sinks = append(sinks, c)
		closers = append(closers, c.Close)
	}

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewPublisher(cfg.MQTT, logger, m)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		sinks = append(sinks, publisher)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Closing MQTT publisher", zap.Error(err))
			}
		})
	}

	return sinks, influxClient, closeAll, nil
}

func serve(ctx context.Context, cfg config.HTTPConfig, api *httpapi.Server, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving dataset", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Received termination signal. Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
