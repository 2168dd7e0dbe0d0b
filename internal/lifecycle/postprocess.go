package lifecycle

import (
	"fmt"
	"slices"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"gonum.org/v1/gonum/floats"
)

const normalizeEpsilon = 1e-10

// Prediction columns read by Describe.
const (
	ColumnAnomalyScore       = "anomaly_score"
	ColumnFailureProbability = "failure_probability"
	ColumnCluster            = "cluster"
)

// NormalizeAnomalyScores maps decision values, where lower is more anomalous, onto
// [0, 1] where higher is more anomalous.
func NormalizeAnomalyScores(decision []float64) []float64 {
	if len(decision) == 0 {
		return nil
	}
	lo, hi := floats.Min(decision), floats.Max(decision)
	out := make([]float64, len(decision))
	for i, d := range decision {
		out[i] = 1 - (d-lo)/(hi-lo+normalizeEpsilon)
	}
	return out
}

// Risk levels of a failure probability.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
)

// RiskLevel buckets a failure probability.
func RiskLevel(p float64) string {
	switch {
	case p > 0.8:
		return RiskCritical
	case p > 0.6:
		return RiskHigh
	case p > 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SegmentName names a cluster index; indices past the known segments get a generic name.
func SegmentName(cluster int) string {
	if cluster >= 0 && cluster < len(models.Segments) {
		return string(models.Segments[cluster])
	}
	return fmt.Sprintf("cluster_%d", cluster)
}

// LabelledPrediction is one prediction row with its values by column and, for failure and
// segmentation models, a readable label.
type LabelledPrediction struct {
	Key    models.RowKey      `json:"key"`
	Values map[string]float64 `json:"values"`
	Label  string             `json:"label,omitempty"`
}

// Describe labels each row of pred: failure rows by risk level, segmentation rows by
// segment name. Rows of other models are returned unlabelled.
func Describe(pred *models.PredictionTable) []LabelledPrediction {
	if pred == nil {
		return nil
	}
	label := func(map[string]float64) string { return "" }
	switch pred.Model {
	case models.ModelFailure:
		if slices.Contains(pred.Columns, ColumnFailureProbability) {
			label = func(v map[string]float64) string { return RiskLevel(v[ColumnFailureProbability]) }
		}
	case models.ModelSegmentation:
		if slices.Contains(pred.Columns, ColumnCluster) {
			label = func(v map[string]float64) string { return SegmentName(int(v[ColumnCluster])) }
		}
	}

	out := make([]LabelledPrediction, len(pred.Rows))
	for i, row := range pred.Rows {
		values := make(map[string]float64, len(pred.Columns))
		for j, col := range pred.Columns {
			values[col] = row[j]
		}
		out[i] = LabelledPrediction{Key: pred.Keys[i], Values: values, Label: label(values)}
	}
	return out
}
