package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

// Measurement names.
const (
	MeasurementReadings      = "meter_readings"
	MeasurementHourlyDemand  = "demand_hourly"
	MeasurementQualityCounts = "reading_quality_counts"
)

const sinkName = "influxdb"

// pointWriter is the part of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client represents an InfluxDB v2 client
type Client struct {
	client   influxdb2.Client
	writeAPI pointWriter
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.BatchTimeout.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Error("InfluxDB write failed", zap.Error(err))
			m.ObservePublish(sinkName, 0, err)
		}
	}()

	logger.Info("Connected to InfluxDB", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	c := newClient(writeAPI, logger, m)
	c.client = client
	return c, nil
}

func newClient(w pointWriter, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{writeAPI: w, logger: logger, metrics: m}
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string { return sinkName }

// PublishReadings writes readings and flushes them.
func (c *Client) PublishReadings(ctx context.Context, readings []models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.WriteReadings(readings)
	c.writeAPI.Flush()
	c.metrics.ObservePublish(sinkName, len(readings), nil)
	c.logger.Info("Readings written", zap.Int("count", len(readings)))
	return nil
}

// WriteReadings queues one point per reading.
func (c *Client) WriteReadings(readings []models.Reading) {
	for _, r := range readings {
		tags := map[string]string{
			"meter_id":     strconv.Itoa(r.MeterID),
			"quality_flag": string(r.QualityFlag),
		}
		if r.TransformerID > 0 {
			tags["transformer_id"] = strconv.Itoa(r.TransformerID)
		}
		c.writeAPI.WritePoint(write.NewPoint(
			MeasurementReadings,
			tags,
			map[string]interface{}{
				"consumption_kwh":   r.ConsumptionKWh,
				"demand_kw":         r.DemandKW,
				"voltage":           r.Voltage,
				"power_factor":      r.PowerFactor,
				"voltage_deviation": r.VoltageDeviation(),
			},
			r.Timestamp,
		))
	}
}

// WriteSeries writes the hourly demand series.
func (c *Client) WriteSeries(points []models.SeriesPoint) {
	for _, p := range points {
		c.writeAPI.WritePoint(write.NewPoint(
			MeasurementHourlyDemand,
			map[string]string{}, // No tags for this measurement
			map[string]interface{}{
				"max_demand_kw": p.Value,
				"total_kwh":     p.TotalKWh,
				"reading_count": p.ReadingCount,
			},
			p.Timestamp,
		))
	}
}

// WriteQualityCounts writes aggregated quality flag counts.
func (c *Client) WriteQualityCounts(counts []models.QualityCount, timestamp time.Time) {
	for _, count := range counts {
		c.writeAPI.WritePoint(write.NewPoint(
			MeasurementQualityCounts,
			map[string]string{"quality_flag": string(count.Flag)},
			map[string]interface{}{"count": count.Count},
			timestamp,
		))
	}
}

// Flush forces queued points out.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes and closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
}
