package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const dialTimeout = 10 * time.Second

// EnsureTopic creates the readings topic through the cluster controller when it does not
// exist yet, then checks its partition count.
func EnsureTopic(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	broker := cfg.Brokers[0]

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := kafkago.DialContext(dialCtx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlCtx, ctrlCancel := context.WithTimeout(ctx, dialTimeout)
	defer ctrlCancel()
	admin, err := kafkago.DialContext(ctrlCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	defer admin.Close()
	if err := admin.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		logger.Warn("Could not set controller deadline", zap.Error(err))
	}

	topic := kafkago.TopicConfig{
		Topic:             cfg.Topic,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if err := admin.CreateTopics(topic); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
		}
		logger.Info("Topic already exists", zap.String("topic", cfg.Topic))
	} else {
		logger.Info("Topic created",
			zap.String("topic", cfg.Topic),
			zap.Int("partitions", cfg.Partitions),
			zap.Int("replication", cfg.ReplicationFactor))
	}

	count, err := readPartitions(admin, cfg.Topic)
	if err != nil {
		return err
	}
	if count < cfg.Partitions {
		return fmt.Errorf("topic %s has %d partitions; expected at least %d", cfg.Topic, count, cfg.Partitions)
	}
	return nil
}

func readPartitions(conn *kafkago.Conn, topic string) (int, error) {
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, fmt.Errorf("read partitions for %s: %w", topic, err)
	}
	seen := map[int]struct{}{}
	for _, part := range partitions {
		if part.Topic == topic {
			seen[part.ID] = struct{}{}
		}
	}
	return len(seen), nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, kafkago.TopicAlreadyExists) ||
		strings.Contains(err.Error(), "Topic with this name already exists")
}
