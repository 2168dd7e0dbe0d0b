package features

import (
	"math"
	"math/rand/v2"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
)

// Usage assumed for every unit when no reading carries an equipment link.
const (
	defaultAvgLoad = 50.0
	defaultMaxLoad = 80.0
)

// Imputation parameters for maintenance and failure history.
const (
	minMaintenanceMonths = 1.0
	maxMaintenanceMonths = 24.0
	failureHistoryMean   = 0.5
)

// EquipmentHistory carries maintenance and failure history of one unit. Supplying it
// for a unit turns off the stochastic imputation of those two columns.
type EquipmentHistory struct {
	MaintenanceMonthsAgo float64
	FailureHistoryCount  float64
}

// FailureInput is everything the failure transform joins.
type FailureInput struct {
	Transformers []models.Transformer
	Readings     []models.Reading
	History      map[int]EquipmentHistory
	// ImputationSeed seeds the per-unit streams used for missing history.
	ImputationSeed uint64
}

type usage struct {
	avgLoad, maxLoad, loadStd float64
	voltageStd, pfAvg         float64
	anomalyRate               float64
}

// Failure builds one row per transformer, ordered as in.Transformers.
// When no reading is linked to equipment the usage columns fall back to fixed defaults.
func Failure(in FailureInput, opts Options) *models.FeatureTable {
	linked := false
	byUnit := make(map[int][]models.Reading)
	for _, r := range in.Readings {
		if r.TransformerID == 0 {
			continue
		}
		linked = true
		byUnit[r.TransformerID] = append(byUnit[r.TransformerID], r)
	}

	table := &models.FeatureTable{
		Model:   models.ModelFailure,
		Columns: Columns(models.ModelFailure),
		Keys:    make([]models.RowKey, len(in.Transformers)),
		Rows:    make([][]float64, len(in.Transformers)),
	}
	forEach(len(in.Transformers), opts.workers(), func(i int) {
		tr := in.Transformers[i]
		u := usage{avgLoad: defaultAvgLoad, maxLoad: defaultMaxLoad}
		if linked {
			u = unitUsage(byUnit[tr.ID])
		}
		hist, ok := in.History[tr.ID]
		if !ok {
			hist = imputeHistory(simulation.NewRand(in.ImputationSeed, simulation.StreamImputation, tr.ID))
		}
		table.Keys[i] = models.RowKey{EntityID: tr.ID}
		table.Rows[i] = []float64{
			fill(tr.AgeYears),
			fill(tr.CapacityKVA),
			fill(u.avgLoad / tr.CapacityKVA * 100),
			fill(u.maxLoad / tr.CapacityKVA * 100),
			fill(u.loadStd),
			fill(u.voltageStd),
			fill(u.pfAvg),
			fill(u.anomalyRate),
			fill(hist.MaintenanceMonthsAgo),
			fill(hist.FailureHistoryCount),
		}
	})
	return table
}

// unitUsage aggregates one unit's readings. A unit without readings yields NaN everywhere.
func unitUsage(readings []models.Reading) usage {
	n := len(readings)
	consumption := make([]float64, n)
	voltage := make([]float64, n)
	pf := make([]float64, n)
	anomalies := 0
	for i, r := range readings {
		consumption[i] = r.ConsumptionKWh
		voltage[i] = r.Voltage
		pf[i] = r.PowerFactor
		if r.IsAnomaly() {
			anomalies++
		}
	}
	rate := math.NaN()
	if n > 0 {
		rate = float64(anomalies) / float64(n)
	}
	return usage{
		avgLoad:     mean(consumption),
		maxLoad:     maxOf(consumption),
		loadStd:     sampleStd(consumption),
		voltageStd:  sampleStd(voltage),
		pfAvg:       mean(pf),
		anomalyRate: rate,
	}
}

func imputeHistory(rng *rand.Rand) EquipmentHistory {
	months := minMaintenanceMonths + (maxMaintenanceMonths-minMaintenanceMonths)*rng.Float64()
	return EquipmentHistory{
		MaintenanceMonthsAgo: months,
		FailureHistoryCount:  float64(poisson(rng, failureHistoryMean)),
	}
}

// poisson draws from a Poisson distribution by multiplying uniforms (fine for small means).
func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	for p := rng.Float64(); p > limit; p *= rng.Float64() {
		k++
	}
	return k
}
