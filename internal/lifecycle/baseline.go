package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// BaselineAlgorithm names the standardizer in saved states.
const BaselineAlgorithm = "baseline-standardizer"

// Baseline is a reference collaborator: it learns per-column mean and scale, and scores
// each row by the root mean square of its standardized values. Higher is more unusual.
type Baseline struct {
	kind models.ModelKind
}

type baselinePayload struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// NewBaseline returns a Baseline for one model kind.
func NewBaseline(kind models.ModelKind) *Baseline {
	return &Baseline{kind: kind}
}

func (b *Baseline) Kind() models.ModelKind { return b.kind }

func (b *Baseline) Train(ctx context.Context, table *models.FeatureTable, cfg TrainConfig) (*State, error) {
	m := table.Matrix()
	if m == nil {
		return nil, errors.New("empty feature table")
	}
	rows, cols := m.Dims()
	if len(cfg.Labels) > 0 && len(cfg.Labels) != rows {
		return nil, fmt.Errorf("%d labels for %d rows", len(cfg.Labels), rows)
	}

	payload := baselinePayload{Means: make([]float64, cols), Scales: make([]float64, cols)}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mat.Col(col, j, m)
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) || math.IsInf(std, 0) || std == 0 {
			std = 1
		}
		payload.Means[j] = mean
		payload.Scales[j] = std
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	params := make(map[string]float64, len(cfg.Params)+1)
	maps.Copy(params, cfg.Params)
	if len(cfg.Labels) > 0 {
		pos := 0
		for _, l := range cfg.Labels {
			pos += l
		}
		params["label_positive_rate"] = float64(pos) / float64(rows)
	}

	return &State{
		ID:        uuid.NewString(),
		Model:     b.kind,
		Algorithm: BaselineAlgorithm,
		Columns:   append([]string(nil), table.Columns...),
		Params:    params,
		Rows:      rows,
		TrainedAt: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

func (b *Baseline) Predict(ctx context.Context, state *State, table *models.FeatureTable) (*models.PredictionTable, error) {
	var payload baselinePayload
	if err := json.Unmarshal(state.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(payload.Means) != len(table.Columns) || len(payload.Scales) != len(table.Columns) {
		return nil, fmt.Errorf("payload has %d columns, table has %d", len(payload.Means), len(table.Columns))
	}

	scores := make([]float64, table.Len())
	z := make([]float64, len(table.Columns))
	for i, row := range table.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		floats.SubTo(z, row, payload.Means)
		floats.Div(z, payload.Scales)
		scores[i] = floats.Norm(z, 2) / math.Sqrt(float64(len(z)))
	}

	pred := &models.PredictionTable{
		Model:   b.kind,
		Columns: []string{"score"},
		Keys:    append([]models.RowKey(nil), table.Keys...),
		Rows:    make([][]float64, len(scores)),
	}
	if b.kind == models.ModelAnomaly {
		// Decision values follow the convention that lower means more anomalous.
		decision := make([]float64, len(scores))
		floats.ScaleTo(decision, -1, scores)
		normalized := NormalizeAnomalyScores(decision)
		pred.Columns = append(pred.Columns, ColumnAnomalyScore)
		for i := range scores {
			pred.Rows[i] = []float64{scores[i], normalized[i]}
		}
		return pred, nil
	}
	switch b.kind {
	case models.ModelFailure:
		pred.Columns = append(pred.Columns, ColumnFailureProbability)
		for i, sc := range scores {
			pred.Rows[i] = []float64{sc, squash(sc)}
		}
	case models.ModelSegmentation:
		k := int(state.Params["n_clusters"])
		if k <= 0 {
			k = len(models.Segments)
		}
		pred.Columns = append(pred.Columns, ColumnCluster)
		for i, sc := range scores {
			cluster := min(int(squash(sc)*float64(k)), k-1)
			pred.Rows[i] = []float64{sc, float64(cluster)}
		}
	default:
		for i := range scores {
			pred.Rows[i] = []float64{scores[i]}
		}
	}
	return pred, nil
}

// squash maps a non-negative score onto [0, 1) monotonically.
func squash(score float64) float64 {
	return score / (1 + score)
}

func (b *Baseline) Save(state *State, path string) error {
	return SaveJSON(state, path)
}

func (b *Baseline) Load(path string) (*State, error) {
	return LoadJSON(path)
}
