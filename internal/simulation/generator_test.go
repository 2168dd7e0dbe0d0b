package simulation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
)

func testConfig(meters, days int) config.SimulationConfig {
	cfg := config.DefaultSimulation()
	cfg.Meters = meters
	cfg.Customers = 20
	cfg.Transformers = 3
	cfg.HorizonDays = days
	cfg.Seed = 1234
	cfg.Start = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	return cfg
}

func TestGenerateReadingCount(t *testing.T) {
	g, err := NewGenerator(testConfig(10, 2))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ds, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(ds.Readings) != 960 {
		t.Fatalf("got %d readings, want 960", len(ds.Readings))
	}
	if len(ds.Customers) != 20 || len(ds.Transformers) != 3 || len(ds.Meters) != 10 {
		t.Fatalf("unexpected entity counts: %d customers, %d transformers, %d meters",
			len(ds.Customers), len(ds.Transformers), len(ds.Meters))
	}
	if ds.RunID == "" {
		t.Fatalf("dataset has no run id")
	}
}

func TestGenerateOrdering(t *testing.T) {
	g, err := NewGenerator(testConfig(6, 3))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ds, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := 1; i < len(ds.Readings); i++ {
		prev, cur := ds.Readings[i-1], ds.Readings[i]
		if cur.MeterID < prev.MeterID {
			t.Fatalf("reading %d meter %d after meter %d", i, cur.MeterID, prev.MeterID)
		}
		if cur.MeterID == prev.MeterID && !cur.Timestamp.After(prev.Timestamp) {
			t.Fatalf("reading %d not after its predecessor", i)
		}
	}
	for id := 1; id <= 6; id++ {
		rs := ds.ReadingsFor(id)
		if len(rs) != 3*48 || rs[0].MeterID != id {
			t.Fatalf("ReadingsFor(%d) returned %d readings", id, len(rs))
		}
	}
	if ds.ReadingsFor(0) != nil || ds.ReadingsFor(7) != nil {
		t.Fatalf("ReadingsFor out of range should be nil")
	}
}

func TestGenerateDeterministicAcrossWorkers(t *testing.T) {
	one := testConfig(12, 2)
	one.Workers = 1
	many := one
	many.Workers = 5

	g1, _ := NewGenerator(one)
	g2, _ := NewGenerator(many)
	a, err := g1.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g2.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a.Readings) != len(b.Readings) {
		t.Fatalf("reading counts differ: %d vs %d", len(a.Readings), len(b.Readings))
	}
	for i := range a.Readings {
		if a.Readings[i] != b.Readings[i] {
			t.Fatalf("reading %d differs: %+v vs %+v", i, a.Readings[i], b.Readings[i])
		}
	}
	for i := range a.Customers {
		if a.Customers[i] != b.Customers[i] {
			t.Fatalf("customer %d differs", i)
		}
	}
}

func TestGenerateAnomalyRateConverges(t *testing.T) {
	cfg := testConfig(200, 10)
	g, err := NewGenerator(cfg, WithMetrics(metrics.New()))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ds, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rate := ds.AnomalyRate(); math.Abs(rate-0.02) > 0.003 {
		t.Fatalf("anomaly rate = %v, want 0.02 +/- 0.003", rate)
	}
}

func TestGenerateReportsProgress(t *testing.T) {
	calls := 0
	last := 0
	g, err := NewGenerator(testConfig(8, 1), WithProgress(func(done, total int) {
		calls++
		last = done
		if total != 8 {
			t.Errorf("total = %d, want 8", total)
		}
	}))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := g.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 8 || last != 8 {
		t.Fatalf("progress called %d times, last=%d", calls, last)
	}
}

func TestNewGeneratorRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(10, 0)
	if _, err := NewGenerator(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGenerateCancelled(t *testing.T) {
	g, err := NewGenerator(testConfig(50, 1))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartDefaultsToAlignedPast(t *testing.T) {
	cfg := testConfig(1, 5)
	cfg.Start = time.Time{}
	g, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	g.now = func() time.Time { return time.Date(2025, 7, 10, 13, 47, 0, 0, time.UTC) }
	want := time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC)
	if got := g.Start(); !got.Equal(want) {
		t.Fatalf("Start() = %v, want %v", got, want)
	}
}
