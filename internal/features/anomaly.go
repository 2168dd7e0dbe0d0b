package features

import (
	"runtime"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// Options tunes the per-entity fan-out of the transforms. The zero value is usable.
type Options struct {
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Anomaly builds one row per reading, in input order.
func Anomaly(readings []models.Reading) *models.FeatureTable {
	table := &models.FeatureTable{
		Model:   models.ModelAnomaly,
		Columns: Columns(models.ModelAnomaly),
		Keys:    make([]models.RowKey, len(readings)),
		Rows:    make([][]float64, len(readings)),
	}
	for i, r := range readings {
		table.Keys[i] = models.RowKey{EntityID: r.MeterID, Timestamp: r.Timestamp}
		table.Rows[i] = []float64{
			r.ConsumptionKWh,
			r.DemandKW,
			r.Voltage,
			r.PowerFactor,
			float64(r.Timestamp.Hour()),
			float64(dayOfWeek(r.Timestamp)),
			r.VoltageDeviation(),
		}
	}
	return table
}
