package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

const sinkName = "kafka"

// Producer publishes synthetic readings to a Kafka topic
type Producer struct {
	producer  sarama.SyncProducer
	topic     string
	runID     string
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewProducer connects a synchronous producer to the configured brokers
func NewProducer(cfg config.KafkaConfig, runID string, logger *zap.Logger, m *metrics.Metrics) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 200 * time.Millisecond

	sp, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("connect producer to %v: %w", cfg.Brokers, err)
	}
	return newProducer(sp, cfg.Topic, runID, cfg.BatchSize, logger, m), nil
}

func newProducer(sp sarama.SyncProducer, topic, runID string, batchSize int, logger *zap.Logger, m *metrics.Metrics) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Producer{
		producer:  sp,
		topic:     topic,
		runID:     runID,
		batchSize: batchSize,
		logger:    logger.With(zap.String("topic", topic)),
		metrics:   m,
	}
}

// Name identifies the sink in logs and metrics.
func (p *Producer) Name() string { return sinkName }

// PublishReadings sends readings in batches, stopping at the first failed batch.
func (p *Producer) PublishReadings(ctx context.Context, readings []models.Reading) error {
	batch := make([]*sarama.ProducerMessage, 0, p.batchSize)
	sent := 0
	for start := 0; start < len(readings); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+p.batchSize, len(readings))
		batch = batch[:0]
		for _, r := range readings[start:end] {
			msg, err := readingMessage(p.topic, p.runID, r)
			if err != nil {
				return err
			}
			batch = append(batch, msg)
		}
		err := p.producer.SendMessages(batch)
		p.metrics.ObservePublish(sinkName, len(batch), err)
		if err != nil {
			return fmt.Errorf("publish readings %d-%d: %w", start, end, err)
		}
		sent += len(batch)
	}
	p.logger.Info("Readings published", zap.Int("count", sent), zap.String("run_id", p.runID))
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
