package influxdb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

type fakeWriter struct {
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriter) Flush()                    { f.flushes++ }

func (f *fakeWriter) lines() []string {
	out := make([]string, len(f.points))
	for i, p := range f.points {
		out[i] = write.PointToLineProtocol(p, time.Second)
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

var at = time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)

func TestPublishReadings(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, nil, nil)
	readings := []models.Reading{
		{MeterID: 7, TransformerID: 3, Timestamp: at, ConsumptionKWh: 0.5, DemandKW: 1, Voltage: 230, PowerFactor: 0.9, QualityFlag: models.QualityNormal},
		{MeterID: 8, Timestamp: at, ConsumptionKWh: 2.5, DemandKW: 5, Voltage: 260, PowerFactor: 0.95, QualityFlag: models.QualityAnomaly},
	}
	if err := c.PublishReadings(context.Background(), readings); err != nil {
		t.Fatalf("PublishReadings: %v", err)
	}
	if w.flushes != 1 {
		t.Fatalf("flushed %d times, want 1", w.flushes)
	}
	lines := w.lines()
	if len(lines) != 2 {
		t.Fatalf("got %d points, want 2", len(lines))
	}
	for _, want := range []string{MeasurementReadings, "meter_id=7", "transformer_id=3", "quality_flag=normal", "demand_kw=1", "voltage=230"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("line %q missing %q", lines[0], want)
		}
	}
	if strings.Contains(lines[1], "transformer_id") {
		t.Fatalf("unlinked reading tagged with a transformer: %q", lines[1])
	}
	if !strings.Contains(lines[1], "quality_flag=anomaly") {
		t.Fatalf("anomaly flag missing: %q", lines[1])
	}
}

func TestWriteSeriesAndQualityCounts(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, nil, nil)
	c.WriteSeries([]models.SeriesPoint{{Timestamp: at, Value: 12.5, TotalKWh: 30, ReadingCount: 4}})
	c.WriteQualityCounts([]models.QualityCount{{Flag: models.QualityNormal, Count: 98}, {Flag: models.QualityAnomaly, Count: 2}}, at)
	c.Close()

	if len(w.points) != 3 {
		t.Fatalf("got %d points, want 3", len(w.points))
	}
	series := w.points[0]
	if series.Name() != MeasurementHourlyDemand {
		t.Fatalf("series measurement = %q", series.Name())
	}
	if len(series.TagList()) != 0 {
		t.Fatalf("series point carries tags: %v", series.TagList())
	}
	got := fields(series)
	if got["max_demand_kw"] != 12.5 || got["total_kwh"] != 30.0 || got["reading_count"] != int64(4) {
		t.Fatalf("series fields = %v", got)
	}
	if !series.Time().Equal(at) {
		t.Fatalf("series time = %v", series.Time())
	}

	lines := w.lines()
	if !strings.Contains(lines[2], "quality_flag=anomaly") || !strings.Contains(lines[2], "count=2i") {
		t.Fatalf("quality line = %q", lines[2])
	}
	if w.flushes != 1 {
		t.Fatalf("Close flushed %d times, want 1", w.flushes)
	}
}

func TestPublishReadingsHonoursCancellation(t *testing.T) {
	w := &fakeWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newClient(w, nil, nil).PublishReadings(ctx, []models.Reading{{MeterID: 1}}); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(w.points) != 0 {
		t.Fatalf("points written after cancellation")
	}
}
