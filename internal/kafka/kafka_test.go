package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

var ts = time.Date(2025, 4, 7, 10, 30, 0, 0, time.UTC)

func sampleReadings(n int) []models.Reading {
	out := make([]models.Reading, n)
	for i := range out {
		out[i] = models.Reading{
			MeterID:        i + 1,
			Timestamp:      ts,
			ConsumptionKWh: 0.25,
			DemandKW:       0.5,
			Voltage:        231,
			PowerFactor:    0.93,
			QualityFlag:    models.QualityNormal,
		}
	}
	return out
}

func TestReadingMessageKeyedByMeter(t *testing.T) {
	r := sampleReadings(1)[0]
	r.MeterID = 42
	msg, err := readingMessage("readings", "run-1", r)
	if err != nil {
		t.Fatalf("readingMessage: %v", err)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "42" {
		t.Fatalf("key = %q, want 42", key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderRunID || string(msg.Headers[0].Value) != "run-1" {
		t.Fatalf("headers = %+v", msg.Headers)
	}
	if !msg.Timestamp.Equal(ts) || msg.Topic != "readings" {
		t.Fatalf("message = %+v", msg)
	}
	value, _ := msg.Value.Encode()
	got, err := decodeReading(value)
	if err != nil || got.MeterID != 42 || !got.Timestamp.Equal(ts) || got.Voltage != r.Voltage {
		t.Fatalf("decode = %+v, %v", got, err)
	}
}

func TestDecodeReadingRejectsGarbage(t *testing.T) {
	if _, err := decodeReading([]byte("not json")); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	if _, err := decodeReading([]byte(`{"voltage": 230}`)); err == nil {
		t.Fatalf("expected error for missing meter id")
	}
}

func TestProducerPublishesInBatches(t *testing.T) {
	sp := mocks.NewSyncProducer(t, sarama.NewConfig())
	readings := sampleReadings(5)
	for i := range readings {
		want := readings[i].MeterID
		sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var r models.Reading
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			if r.MeterID != want {
				return errors.New("readings sent out of order")
			}
			return nil
		})
	}
	m := metrics.New()
	p := newProducer(sp, "readings", "run-1", 2, nil, m)
	if err := p.PublishReadings(context.Background(), readings); err != nil {
		t.Fatalf("PublishReadings: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestProducerStopsOnFailedBatch(t *testing.T) {
	sp := mocks.NewSyncProducer(t, sarama.NewConfig())
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := newProducer(sp, "readings", "run-1", 2, nil, nil)
	err := p.PublishReadings(context.Background(), sampleReadings(4))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("got %v, want ErrOutOfBrokers", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	mu     sync.Mutex
	marked int
}

func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked++
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimBatchesReadings(t *testing.T) {
	var mu sync.Mutex
	var got []models.Reading
	process := func(batch []models.Reading) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
		return nil
	}
	c := newConsumer("c1", config.KafkaConfig{Topic: "readings", BatchSize: 2}, nil, process, nil, nil)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	for _, r := range sampleReadings(3) {
		msg, err := readingMessage("readings", "run-1", r)
		if err != nil {
			t.Fatalf("readingMessage: %v", err)
		}
		value, _ := msg.Value.Encode()
		claim.messages <- &sarama.ConsumerMessage{Value: value}
	}
	claim.messages <- &sarama.ConsumerMessage{Value: []byte("garbage")}
	close(claim.messages)

	session := &fakeSession{}
	h := &consumerGroupHandler{consumer: c, ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	c.flushBuffer()
	c.inflight.Wait()

	if session.marked != 4 {
		t.Fatalf("marked %d messages, want 4", session.marked)
	}
	if len(got) != 3 {
		t.Fatalf("processed %d readings, want 3", len(got))
	}
}
