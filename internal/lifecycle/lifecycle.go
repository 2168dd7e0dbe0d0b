// Package lifecycle defines the train/predict/save/load contract between the feature
// tables and the model collaborators, and guards it with a schema check.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/features"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrSchemaMismatch is returned when a table does not carry the documented columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUnknownModel is returned for a model kind without a registered collaborator.
	ErrUnknownModel = errors.New("unknown model")
)

// State is a fitted model as it crosses the adapter boundary. Payload is owned by the
// collaborator that produced it.
type State struct {
	ID        string             `json:"id"`
	Model     models.ModelKind   `json:"model"`
	Algorithm string             `json:"algorithm"`
	Columns   []string           `json:"columns"`
	Params    map[string]float64 `json:"params,omitempty"`
	Rows      int                `json:"rows"`
	TrainedAt time.Time          `json:"trained_at"`
	Payload   json.RawMessage    `json:"payload"`
}

// TrainConfig carries hyperparameters and, for supervised models, one label per row.
type TrainConfig struct {
	Params map[string]float64
	Labels []int
	Seed   uint64
}

// DefaultTrainConfig returns the hyperparameters each model is tuned with.
func DefaultTrainConfig(kind models.ModelKind) TrainConfig {
	var params map[string]float64
	switch kind {
	case models.ModelAnomaly:
		params = map[string]float64{"contamination": 0.02, "n_estimators": 200}
	case models.ModelSegmentation:
		params = map[string]float64{"n_clusters": float64(len(models.Segments)), "n_init": 20, "max_iter": 500}
	case models.ModelFailure:
		params = map[string]float64{"n_estimators": 200, "max_depth": 6, "learning_rate": 0.1}
	case models.ModelForecast:
		params = map[string]float64{"interval_hours": 1, "changepoint_prior_scale": 0.05}
	}
	return TrainConfig{Params: params, Seed: 42}
}

// Collaborator is implemented by every model behind the adapter.
type Collaborator interface {
	Kind() models.ModelKind
	Train(ctx context.Context, table *models.FeatureTable, cfg TrainConfig) (*State, error)
	Predict(ctx context.Context, state *State, table *models.FeatureTable) (*models.PredictionTable, error)
	Save(state *State, path string) error
	Load(path string) (*State, error)
}

// Adapter hands a collaborator only tables that match the documented schema of its model.
type Adapter struct {
	collaborator Collaborator
	schema       []string
	logger       *zap.Logger
}

// NewAdapter wraps c. A nil logger is replaced by a no-op logger.
func NewAdapter(c Collaborator, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		collaborator: c,
		schema:       features.Columns(c.Kind()),
		logger:       logger.With(zap.String("model", string(c.Kind()))),
	}
}

// Kind returns the model kind of the wrapped collaborator.
func (a *Adapter) Kind() models.ModelKind {
	return a.collaborator.Kind()
}

// Schema returns the columns the wrapped collaborator accepts, in order.
func (a *Adapter) Schema() []string {
	return slices.Clone(a.schema)
}

func (a *Adapter) check(table *models.FeatureTable) error {
	if table == nil {
		return fmt.Errorf("%w: nil %s table", ErrSchemaMismatch, a.Kind())
	}
	if table.Model != a.Kind() {
		return fmt.Errorf("%w: %s table handed to %s model", ErrSchemaMismatch, table.Model, a.Kind())
	}
	if !slices.Equal(table.Columns, a.schema) {
		return fmt.Errorf("%w: %s columns %v, want %v", ErrSchemaMismatch, a.Kind(), table.Columns, a.schema)
	}
	return table.Validate()
}

func (a *Adapter) checkState(state *State) error {
	if state == nil {
		return fmt.Errorf("%w: nil %s state", ErrSchemaMismatch, a.Kind())
	}
	if state.Model != a.Kind() || !slices.Equal(state.Columns, a.schema) {
		return fmt.Errorf("%w: state for %s %v does not fit %s", ErrSchemaMismatch, state.Model, state.Columns, a.Kind())
	}
	return nil
}

// Train fits the collaborator on table.
func (a *Adapter) Train(ctx context.Context, table *models.FeatureTable, cfg TrainConfig) (*State, error) {
	if err := a.check(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	state, err := a.collaborator.Train(ctx, table, cfg)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", a.Kind(), err)
	}
	a.logger.Info("Model trained",
		zap.Int("rows", table.Len()),
		zap.String("algorithm", state.Algorithm),
		zap.Duration("took", time.Since(start)))
	return state, nil
}

// Predict scores table with a fitted state.
func (a *Adapter) Predict(ctx context.Context, state *State, table *models.FeatureTable) (*models.PredictionTable, error) {
	if err := a.check(table); err != nil {
		return nil, err
	}
	if err := a.checkState(state); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := a.collaborator.Predict(ctx, state, table)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", a.Kind(), err)
	}
	return pred, nil
}

// Save persists a fitted state.
func (a *Adapter) Save(state *State, path string) error {
	if err := a.checkState(state); err != nil {
		return err
	}
	if err := a.collaborator.Save(state, path); err != nil {
		return fmt.Errorf("save %s: %w", a.Kind(), err)
	}
	a.logger.Debug("Model saved", zap.String("path", path))
	return nil
}

// Load restores a fitted state and checks it belongs to this model.
func (a *Adapter) Load(path string) (*State, error) {
	state, err := a.collaborator.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", a.Kind(), err)
	}
	if err := a.checkState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Registry maps model kinds to their adapters.
type Registry struct {
	adapters map[models.ModelKind]*Adapter
}

// NewRegistry wraps every collaborator in an adapter.
func NewRegistry(logger *zap.Logger, cs ...Collaborator) *Registry {
	r := &Registry{adapters: make(map[models.ModelKind]*Adapter, len(cs))}
	for _, c := range cs {
		r.adapters[c.Kind()] = NewAdapter(c, logger)
	}
	return r
}

// BaselineRegistry registers the Baseline collaborator for every model kind.
func BaselineRegistry(logger *zap.Logger) *Registry {
	cs := make([]Collaborator, 0, len(models.ModelKinds))
	for _, kind := range models.ModelKinds {
		cs = append(cs, NewBaseline(kind))
	}
	return NewRegistry(logger, cs...)
}

// Get returns the adapter of kind.
func (r *Registry) Get(kind models.ModelKind) (*Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, kind)
	}
	return a, nil
}

// Kinds returns the registered kinds in pipeline order.
func (r *Registry) Kinds() []models.ModelKind {
	kinds := make([]models.ModelKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	order := func(k models.ModelKind) int { return slices.Index(models.ModelKinds, k) }
	sort.Slice(kinds, func(i, j int) bool { return order(kinds[i]) < order(kinds[j]) })
	return kinds
}

// SaveJSON writes a state as indented JSON, creating the parent directory.
func SaveJSON(state *State, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadJSON reads a state written by SaveJSON.
func LoadJSON(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &state, nil
}
