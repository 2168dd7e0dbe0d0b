// Package pipeline runs the steps after generation: the four feature tables, failure
// labels, and training of every registered model through its adapter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/features"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/labels"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/lifecycle"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRoundTrip is returned when a reloaded model predicts differently from the one saved.
var ErrRoundTrip = errors.New("model round trip changed predictions")

// Features holds the four tables built from one dataset.
type Features struct {
	Anomaly      *models.FeatureTable
	Segmentation *models.FeatureTable
	Failure      *models.FeatureTable
	Forecast     *models.FeatureTable
	// Series is the hourly demand series the forecast table was cut from.
	Series []models.SeriesPoint
}

// Table returns the table of one model kind.
func (f *Features) Table(kind models.ModelKind) *models.FeatureTable {
	switch kind {
	case models.ModelAnomaly:
		return f.Anomaly
	case models.ModelSegmentation:
		return f.Segmentation
	case models.ModelFailure:
		return f.Failure
	case models.ModelForecast:
		return f.Forecast
	}
	return nil
}

// Options tunes BuildFeatures.
type Options struct {
	Workers        int
	ImputationSeed uint64
	// History supplies known maintenance and failure history per transformer id.
	History map[int]features.EquipmentHistory
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// BuildFeatures builds the four feature tables of ds concurrently.
func BuildFeatures(ctx context.Context, ds *simulation.Dataset, opts Options) (*Features, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fopts := features.Options{Workers: opts.Workers}
	out := &Features{}

	g, ctx := errgroup.WithContext(ctx)
	build := func(kind models.ModelKind, fn func()) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			fn()
			took := time.Since(start)
			rows := out.Table(kind).Len()
			opts.Metrics.ObserveFeatures(string(kind), rows, took)
			logger.Info("Feature table built",
				zap.String("model", string(kind)),
				zap.Int("rows", rows),
				zap.Duration("took", took))
			return nil
		})
	}

	build(models.ModelAnomaly, func() { out.Anomaly = features.Anomaly(ds.Readings) })
	build(models.ModelSegmentation, func() { out.Segmentation = features.Segmentation(ds.Readings, fopts) })
	build(models.ModelFailure, func() {
		out.Failure = features.Failure(features.FailureInput{
			Transformers:   ds.Transformers,
			Readings:       ds.Readings,
			History:        opts.History,
			ImputationSeed: opts.ImputationSeed,
		}, fopts)
	})
	build(models.ModelForecast, func() {
		out.Series = features.ForecastSeries(ds.Readings)
		out.Forecast = features.Forecast(ds.Readings)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ArtifactRecorder stores a record of each saved model. *store.Store implements it.
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, a store.Artifact) error
}

// TrainOptions tunes Train.
type TrainOptions struct {
	Registry *lifecycle.Registry
	ModelDir string
	RunID    string
	// FailureLabels are real labels, one per transformer. They take precedence over
	// synthetic labels.
	FailureLabels   []int
	SyntheticLabels bool
	LabelSeed       uint64
	Artifacts       ArtifactRecorder
	Logger          *zap.Logger
}

// Result is one trained, saved and reloaded model.
type Result struct {
	Kind        models.ModelKind
	State       *lifecycle.State
	Path        string
	Predictions *models.PredictionTable
	LabelSource labels.Source
}

// Train fits every registered model on its table, saves it under ModelDir, reloads it and
// checks the reloaded model predicts identically. Empty tables are skipped.
func Train(ctx context.Context, f *Features, transformers []models.Transformer, opts TrainOptions) ([]Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = lifecycle.BaselineRegistry(logger)
	}

	var results []Result
	for _, kind := range reg.Kinds() {
		table := f.Table(kind)
		if table == nil || table.Len() == 0 {
			logger.Warn("Skipping model without rows", zap.String("model", string(kind)))
			continue
		}
		adapter, err := reg.Get(kind)
		if err != nil {
			return nil, err
		}

		cfg := lifecycle.DefaultTrainConfig(kind)
		var source labels.Source
		if kind == models.ModelFailure {
			set, err := labels.Resolve(opts.FailureLabels, transformers, opts.SyntheticLabels, opts.LabelSeed)
			if err != nil {
				return nil, fmt.Errorf("failure labels: %w", err)
			}
			cfg.Labels = set.Labels
			source = set.Source
			logger.Info("Failure labels resolved",
				zap.String("source", string(set.Source)),
				zap.Float64("positive_rate", set.PositiveRate()))
		}

		res, err := trainOne(ctx, adapter, table, cfg, opts)
		if err != nil {
			return nil, err
		}
		res.LabelSource = source
		results = append(results, res)
	}
	return results, nil
}

func trainOne(ctx context.Context, adapter *lifecycle.Adapter, table *models.FeatureTable, cfg lifecycle.TrainConfig, opts TrainOptions) (Result, error) {
	kind := adapter.Kind()
	state, err := adapter.Train(ctx, table, cfg)
	if err != nil {
		return Result{}, err
	}
	before, err := adapter.Predict(ctx, state, table)
	if err != nil {
		return Result{}, err
	}

	path := filepath.Join(opts.ModelDir, string(kind)+".json")
	if err := adapter.Save(state, path); err != nil {
		return Result{}, err
	}
	loaded, err := adapter.Load(path)
	if err != nil {
		return Result{}, err
	}
	after, err := adapter.Predict(ctx, loaded, table)
	if err != nil {
		return Result{}, err
	}
	if !samePredictions(before, after) {
		return Result{}, fmt.Errorf("%w: %s", ErrRoundTrip, kind)
	}

	if opts.Artifacts != nil {
		err := opts.Artifacts.RecordArtifact(ctx, store.Artifact{
			ID:        state.ID,
			RunID:     opts.RunID,
			Model:     kind,
			Algorithm: state.Algorithm,
			Path:      path,
			Rows:      state.Rows,
			TrainedAt: state.TrainedAt,
		})
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Kind: kind, State: loaded, Path: path, Predictions: after}, nil
}

func samePredictions(a, b *models.PredictionTable) bool {
	if len(a.Rows) != len(b.Rows) || !slices.Equal(a.Columns, b.Columns) {
		return false
	}
	for i := range a.Rows {
		if !slices.Equal(a.Rows[i], b.Rows[i]) {
			return false
		}
	}
	return true
}
