package models

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ModelKind identifies one of the downstream predictive models.
type ModelKind string

const (
	ModelAnomaly      ModelKind = "anomaly"
	ModelSegmentation ModelKind = "segmentation"
	ModelFailure      ModelKind = "failure"
	ModelForecast     ModelKind = "forecast"
)

// ModelKinds lists every model kind in pipeline order.
var ModelKinds = []ModelKind{ModelAnomaly, ModelSegmentation, ModelFailure, ModelForecast}

// RowKey identifies the entity (and for per-reading tables, the instant) a row belongs to.
type RowKey struct {
	EntityID  int       `json:"entity_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// FeatureTable is an entity-keyed numeric matrix handed to a model.
type FeatureTable struct {
	Model   ModelKind   `json:"model"`
	Columns []string    `json:"columns"`
	Keys    []RowKey    `json:"keys"`
	Rows    [][]float64 `json:"rows"`
}

// Len returns the number of rows.
func (t *FeatureTable) Len() int {
	return len(t.Rows)
}

// Validate checks the table is rectangular and keyed row for row.
func (t *FeatureTable) Validate() error {
	if len(t.Keys) != len(t.Rows) {
		return fmt.Errorf("%s table has %d keys for %d rows", t.Model, len(t.Keys), len(t.Rows))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%s table row %d has %d values, want %d", t.Model, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// ColumnIndex returns the position of a column, or -1.
func (t *FeatureTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column copies one column out of the table.
func (t *FeatureTable) Column(name string) ([]float64, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Matrix copies the rows into a dense matrix. An empty table yields nil.
func (t *FeatureTable) Matrix() *mat.Dense {
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return nil
	}
	data := make([]float64, 0, len(t.Rows)*len(t.Columns))
	for _, row := range t.Rows {
		data = append(data, row...)
	}
	return mat.NewDense(len(t.Rows), len(t.Columns), data)
}

// PredictionTable is what a model collaborator returns for a feature table.
type PredictionTable struct {
	Model   ModelKind   `json:"model"`
	Columns []string    `json:"columns"`
	Keys    []RowKey    `json:"keys"`
	Rows    [][]float64 `json:"rows"`
}
