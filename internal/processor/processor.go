package processor

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when a batch is dropped because every worker is busy.
var ErrQueueFull = errors.New("processing queue is full")

// ErrStopped is returned for batches that arrive after Stop.
var ErrStopped = errors.New("processor is stopped")

// Sink receives the aggregates of replayed readings. The InfluxDB client implements it.
type Sink interface {
	WriteReadings(readings []models.Reading)
	WriteSeries(points []models.SeriesPoint)
	WriteQualityCounts(counts []models.QualityCount, timestamp time.Time)
}

type nopSink struct{}

func (nopSink) WriteReadings([]models.Reading)                      {}
func (nopSink) WriteSeries([]models.SeriesPoint)                    {}
func (nopSink) WriteQualityCounts([]models.QualityCount, time.Time) {}

type readingKey struct {
	meterID int
	unix    int64
}

// Processor processes incoming readings
type Processor struct {
	sink              Sink
	config            config.ProcessorConfig
	logger            *zap.Logger
	queue             chan []models.Reading
	wg                sync.WaitGroup
	done              chan struct{}
	qualityAggregator *qualityAggregator
	hourlyAggregator  *hourlyAggregator

	mu       sync.Mutex
	readings map[readingKey]models.Reading

	stateMu sync.RWMutex
	stopped bool
}

// NewProcessor creates a new processor and starts its workers. A nil sink discards aggregates.
func NewProcessor(sink Sink, cfg config.ProcessorConfig, logger *zap.Logger) *Processor {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	p := &Processor{
		sink:     sink,
		config:   cfg,
		logger:   logger,
		queue:    make(chan []models.Reading, cfg.QueueSize),
		done:     make(chan struct{}),
		readings: make(map[readingKey]models.Reading),
	}
	p.qualityAggregator = newQualityAggregator(sink, logger)
	p.hourlyAggregator = newHourlyAggregator(sink)

	if cfg.FlushInterval > 0 {
		go p.periodicFlush(cfg.FlushInterval)
	}

	p.wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go p.worker(i)
	}
	return p
}

// ProcessMessages queues a batch of readings. It never blocks; a full queue drops the batch.
func (p *Processor) ProcessMessages(readings []models.Reading) error {
	batch := make([]models.Reading, len(readings))
	copy(batch, readings)

	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		p.logger.Warn("Processor stopped, dropping readings", zap.Int("count", len(readings)))
		return ErrStopped
	}

	select {
	case p.queue <- batch:
		return nil
	default:
		p.logger.Warn("Processing queue is full, dropping readings", zap.Int("count", len(readings)))
		return ErrQueueFull
	}
}

// worker processes readings from the queue
func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for batch := range p.queue {
		p.sink.WriteReadings(batch)
		p.collect(batch)
		p.qualityAggregator.update(batch)
		p.hourlyAggregator.update(batch)
		p.logger.Debug("Batch processed", zap.Int("worker", id), zap.Int("count", len(batch)))
	}
}

// collect keeps the latest copy of each (meter, timestamp) reading; replays may deliver twice.
func (p *Processor) collect(batch []models.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range batch {
		p.readings[readingKey{meterID: r.MeterID, unix: r.Timestamp.Unix()}] = r
	}
}

// Snapshot returns the distinct readings collected so far, ordered by meter then time.
func (p *Processor) Snapshot() []models.Reading {
	p.mu.Lock()
	out := make([]models.Reading, 0, len(p.readings))
	for _, r := range p.readings {
		out = append(out, r)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MeterID != out[j].MeterID {
			return out[i].MeterID < out[j].MeterID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (p *Processor) periodicFlush(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.qualityAggregator.flush()
			p.hourlyAggregator.flush()
		case <-p.done:
			return
		}
	}
}

// Stop drains the queue, stops the workers and flushes the aggregators.
// Later batches are rejected with ErrStopped; calling Stop again is a no-op.
func (p *Processor) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.stateMu.Unlock()

	p.wg.Wait()
	close(p.done)

	p.qualityAggregator.flush()
	p.hourlyAggregator.flush()
}

// qualityAggregator counts readings per quality flag
type qualityAggregator struct {
	sink   Sink
	logger *zap.Logger
	counts map[models.QualityFlag]int
	mutex  sync.Mutex
}

func newQualityAggregator(sink Sink, logger *zap.Logger) *qualityAggregator {
	return &qualityAggregator{
		sink:   sink,
		logger: logger,
		counts: make(map[models.QualityFlag]int),
	}
}

func (a *qualityAggregator) update(readings []models.Reading) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, r := range readings {
		a.counts[r.QualityFlag]++
	}
}

func (a *qualityAggregator) flush() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.counts) == 0 {
		return
	}

	counts := make([]models.QualityCount, 0, len(a.counts))
	for flag, count := range a.counts {
		counts = append(counts, models.QualityCount{Flag: flag, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Flag < counts[j].Flag })

	a.sink.WriteQualityCounts(counts, time.Now())
	a.logger.Debug("Quality counts flushed", zap.Int("flags", len(counts)))

	// Reset counts
	a.counts = make(map[models.QualityFlag]int)
}

// hourlyAggregator keeps running hourly buckets of the replayed readings. Buckets are
// cumulative; a flush rewrites every bucket touched since the previous flush.
type hourlyAggregator struct {
	sink    Sink
	buckets map[time.Time]*models.SeriesPoint
	dirty   map[time.Time]struct{}
	mutex   sync.Mutex
}

func newHourlyAggregator(sink Sink) *hourlyAggregator {
	return &hourlyAggregator{
		sink:    sink,
		buckets: make(map[time.Time]*models.SeriesPoint),
		dirty:   make(map[time.Time]struct{}),
	}
}

func (a *hourlyAggregator) update(readings []models.Reading) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, r := range readings {
		bucketTime := r.Timestamp.UTC().Truncate(time.Hour)

		bucket, exists := a.buckets[bucketTime]
		if !exists {
			bucket = &models.SeriesPoint{Timestamp: bucketTime, Value: r.DemandKW}
			a.buckets[bucketTime] = bucket
		}
		bucket.TotalKWh += r.ConsumptionKWh
		bucket.ReadingCount++
		if r.DemandKW > bucket.Value {
			bucket.Value = r.DemandKW
		}
		a.dirty[bucketTime] = struct{}{}
	}
}

func (a *hourlyAggregator) flush() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.dirty) == 0 {
		return
	}
	points := make([]models.SeriesPoint, 0, len(a.dirty))
	for ts := range a.dirty {
		points = append(points, *a.buckets[ts])
		delete(a.dirty, ts)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	a.sink.WriteSeries(points)
}

// series returns every bucket in time order.
func (a *hourlyAggregator) series() []models.SeriesPoint {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	points := make([]models.SeriesPoint, 0, len(a.buckets))
	for _, b := range a.buckets {
		points = append(points, *b)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

// Series returns the hourly demand series of everything processed so far.
func (p *Processor) Series() []models.SeriesPoint {
	return p.hourlyAggregator.series()
}
