package simulation

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/logging"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// Dataset is the output of one simulation run.
type Dataset struct {
	RunID        string
	Seed         uint64
	Start        time.Time
	HorizonDays  int
	Meters       []models.Meter
	Readings     []models.Reading // ordered by (meter id, timestamp)
	Customers    []models.Customer
	Transformers []models.Transformer
}

// ReadingsPerMeter returns the number of readings each meter contributes.
func (d *Dataset) ReadingsPerMeter() int {
	return d.HorizonDays * models.ReadingsPerDay
}

// ReadingsFor returns the readings of one meter without copying.
func (d *Dataset) ReadingsFor(meterID int) []models.Reading {
	per := d.ReadingsPerMeter()
	if meterID < 1 || meterID > len(d.Meters) || per == 0 {
		return nil
	}
	lo := (meterID - 1) * per
	hi := lo + per
	if hi > len(d.Readings) {
		return nil
	}
	return d.Readings[lo:hi]
}

// AnomalyRate returns the fraction of readings flagged as anomalies.
func (d *Dataset) AnomalyRate() float64 {
	if len(d.Readings) == 0 {
		return 0
	}
	n := 0
	for _, r := range d.Readings {
		if r.IsAnomaly() {
			n++
		}
	}
	return float64(n) / float64(len(d.Readings))
}

// ProgressFunc is called after each meter completes.
type ProgressFunc func(done, total int)

// Generator produces datasets from a validated simulation config.
type Generator struct {
	cfg      config.SimulationConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	progress ProgressFunc
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = logging.OrNop(l) }
}

// WithMetrics sets the collectors updated during generation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithProgress sets the per-meter progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(g *Generator) { g.progress = fn }
}

// NewGenerator validates cfg. An invalid config is rejected before any work is done.
func NewGenerator(cfg config.SimulationConfig, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// MaxParallelism returns the usable number of CPUs.
func MaxParallelism() int {
	maxProcs := runtime.GOMAXPROCS(0)
	numCPU := runtime.NumCPU()
	if maxProcs < numCPU {
		return maxProcs
	}
	return numCPU
}

// Start returns the half-hour aligned first timestamp of the run. A zero configured
// start means the horizon ends at the current day.
func (g *Generator) Start() time.Time {
	start := g.cfg.Start
	if start.IsZero() {
		start = g.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -g.cfg.HorizonDays)
	}
	return start.Truncate(models.ReadingInterval)
}

// Generate samples every profile and synthesizes telemetry for all meters in parallel.
func (g *Generator) Generate(ctx context.Context) (*Dataset, error) {
	began := time.Now()
	cfg := g.cfg
	ds := &Dataset{
		RunID:        uuid.NewString(),
		Seed:         cfg.Seed,
		Start:        g.Start(),
		HorizonDays:  cfg.HorizonDays,
		Meters:       SampleMeters(cfg.Meters, cfg.Transformers, cfg.LinkTransformers, cfg.Seed),
		Customers:    SampleCustomers(cfg.Customers, cfg.Seed),
		Transformers: SampleTransformers(cfg.Transformers, cfg.Seed),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = MaxParallelism()
	}
	if workers > len(ds.Meters) {
		workers = len(ds.Meters)
	}

	g.logger.Info("generation_start",
		zap.String("run_id", ds.RunID),
		zap.Int("meters", cfg.Meters),
		zap.Int("customers", cfg.Customers),
		zap.Int("transformers", cfg.Transformers),
		zap.Int("horizon_days", cfg.HorizonDays),
		zap.Time("start", ds.Start),
		zap.Int("workers", workers),
	)

	synth := Synthesizer{AnomalyRate: cfg.AnomalyRate}
	slots := make([][]models.Reading, len(ds.Meters))
	jobs := make(chan int, len(ds.Meters))
	results := make(chan int, len(ds.Meters))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					continue
				}
				meter := ds.Meters[idx]
				rng := NewRand(cfg.Seed, StreamTelemetry, meter.ID)
				slots[idx] = synth.Readings(meter, ds.Start, cfg.HorizonDays, rng)
				results <- idx
			}
		}()
	}

	for idx := range ds.Meters {
		jobs <- idx
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for idx := range results {
		done++
		anomalies := 0
		for _, r := range slots[idx] {
			if r.IsAnomaly() {
				anomalies++
			}
		}
		g.metrics.ObserveMeter(len(slots[idx]), anomalies)
		if g.progress != nil {
			g.progress(done, len(ds.Meters))
		}
	}
	if err := ctx.Err(); err != nil {
		g.logger.Warn("generation_cancelled", zap.String("run_id", ds.RunID), zap.Int("completed", done))
		return nil, err
	}

	ds.Readings = make([]models.Reading, 0, len(ds.Meters)*ds.ReadingsPerMeter())
	for _, s := range slots {
		ds.Readings = append(ds.Readings, s...)
	}

	elapsed := time.Since(began)
	g.metrics.ObserveGeneration(elapsed)
	g.logger.Info("generation_complete",
		zap.String("run_id", ds.RunID),
		zap.Int("readings", len(ds.Readings)),
		zap.Float64("anomaly_rate", ds.AnomalyRate()),
		zap.Duration("elapsed", elapsed),
	)
	return ds, nil
}
