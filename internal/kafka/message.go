package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Shopify/sarama"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// HeaderRunID carries the id of the simulation run that produced a reading.
const HeaderRunID = "run_id"

// readingMessage keys a reading by its meter so one meter's readings stay on one partition.
func readingMessage(topic, runID string, r models.Reading) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading of meter %d: %w", r.MeterID, err)
	}
	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(strconv.Itoa(r.MeterID)),
		Value:     sarama.ByteEncoder(value),
		Timestamp: r.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderRunID), Value: []byte(runID)},
		},
	}, nil
}

func decodeReading(value []byte) (models.Reading, error) {
	var r models.Reading
	if err := json.Unmarshal(value, &r); err != nil {
		return r, err
	}
	if r.MeterID <= 0 {
		return r, fmt.Errorf("reading without meter id")
	}
	return r, nil
}
