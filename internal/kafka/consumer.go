package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

// MessageProcessor is a function that processes batches of readings
type MessageProcessor func([]models.Reading) error

// Consumer replays published readings from Kafka
type Consumer struct {
	id         string
	config     config.KafkaConfig
	consumer   sarama.ConsumerGroup
	processor  MessageProcessor
	logger     *zap.Logger
	metrics    *metrics.Metrics
	msgBuffer  []models.Reading
	bufferLock sync.Mutex
	inflight   sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, cfg config.KafkaConfig, processor MessageProcessor, logger *zap.Logger, m *metrics.Metrics) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	// Optimize for throughput
	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return newConsumer(id, cfg, client, processor, logger, m), nil
}

func newConsumer(id string, cfg config.KafkaConfig, group sarama.ConsumerGroup, processor MessageProcessor, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Consumer{
		id:        id,
		config:    cfg,
		consumer:  group,
		processor: processor,
		logger:    logger.With(zap.String("consumer", id)),
		metrics:   m,
		msgBuffer: make([]models.Reading, 0, cfg.BatchSize),
	}
}

// Consume starts consuming messages from Kafka until ctx is cancelled or the group fails
func (c *Consumer) Consume(ctx context.Context) error {
	errorChan := make(chan error, 1)
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("Consumer group error", zap.Error(err))
			select {
			case errorChan <- err:
			default:
			}
		}
	}()

	handler := &consumerGroupHandler{
		consumer: c,
		ctx:      ctx,
	}

	// Setup periodic flushing
	if c.config.BatchTimeout > 0 {
		flushTicker := time.NewTicker(c.config.BatchTimeout)
		defer flushTicker.Stop()

		go func() {
			for {
				select {
				case <-flushTicker.C:
					c.flushBuffer()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	defer func() {
		c.flushBuffer()
		c.inflight.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errorChan:
			return err
		default:
			if err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				return err
			}
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// addMessage adds a reading to the buffer and flushes if needed
func (c *Consumer) addMessage(reading models.Reading) {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.msgBuffer = append(c.msgBuffer, reading)
	if len(c.msgBuffer) >= c.config.BatchSize {
		c.flushBufferLocked()
	}
}

// flushBuffer flushes the message buffer
func (c *Consumer) flushBuffer() {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.flushBufferLocked()
}

// flushBufferLocked hands a copy of the buffer to the processor while holding the lock
func (c *Consumer) flushBufferLocked() {
	if len(c.msgBuffer) == 0 {
		return
	}

	readings := make([]models.Reading, len(c.msgBuffer))
	copy(readings, c.msgBuffer)

	c.msgBuffer = c.msgBuffer[:0]

	c.inflight.Add(1)
	go func(batch []models.Reading) {
		defer c.inflight.Done()
		if err := c.processor(batch); err != nil {
			c.logger.Error("Error processing readings", zap.Int("count", len(batch)), zap.Error(err))
			c.metrics.ObserveDropped(len(batch))
			return
		}
		c.metrics.ObserveConsumed(len(batch))
	}(readings)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}

		reading, err := decodeReading(message.Value)
		if err != nil {
			h.consumer.logger.Warn("Dropping undecodable message",
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err))
			h.consumer.metrics.ObserveDropped(1)
			session.MarkMessage(message, "")
			continue
		}

		h.consumer.addMessage(reading)
		session.MarkMessage(message, "")
	}
	return nil
}
