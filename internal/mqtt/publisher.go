// Package mqtt publishes synthetic readings the way field devices would: one message per
// reading on a per-meter topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

const (
	sinkName       = "mqtt"
	meterWildcard  = "{meter}"
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
	disconnectWait = 250 // milliseconds
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt timeout")

// publisher is the part of paho.Client used to send messages.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher sends readings to an MQTT broker
type Publisher struct {
	client  publisher
	conn    paho.Client
	topic   string
	qos     byte
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to the configured broker
func NewPublisher(cfg config.MQTTConfig, logger *zap.Logger, m *metrics.Metrics) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	p := newPublisher(c, cfg.Topic, cfg.QoS, logger, m)
	p.conn = c
	p.logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return p, nil
}

func newPublisher(client publisher, topic string, qos byte, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, topic: topic, qos: qos, logger: logger, metrics: m}
}

// Name identifies the sink in logs and metrics.
func (p *Publisher) Name() string { return sinkName }

// Topic returns the topic readings of one meter are published on.
func (p *Publisher) Topic(meterID int) string {
	return strings.ReplaceAll(p.topic, meterWildcard, strconv.Itoa(meterID))
}

// PublishReadings publishes one message per reading and waits for each acknowledgement.
func (p *Publisher) PublishReadings(ctx context.Context, readings []models.Reading) error {
	sent := 0
	defer func() { p.metrics.ObservePublish(sinkName, sent, nil) }()

	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode reading of meter %d: %w", r.MeterID, err)
		}
		topic := p.Topic(r.MeterID)
		token := p.client.Publish(topic, p.qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			p.metrics.ObservePublish(sinkName, 0, ErrTimeout)
			return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
		}
		if err := token.Error(); err != nil {
			p.metrics.ObservePublish(sinkName, 0, err)
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		sent++
	}
	p.logger.Info("Readings published", zap.Int("count", sent))
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Disconnect(disconnectWait)
	}
	return nil
}
