package simulation

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// DefaultAnomalyRate is the probability that a reading is perturbed.
const DefaultAnomalyRate = 0.02

// Outlier values written by anomaly injection.
var (
	anomalyVoltages    = [2]float64{195, 260}
	anomalyMultipliers = [2]float64{3, 5}
)

type anomalyKind int

const (
	anomalyVoltage anomalyKind = iota
	anomalyConsumption
	anomalyBoth
)

// PeakFactor returns the time-of-use multiplier for a local hour.
func PeakFactor(hour int) float64 {
	switch {
	case (hour >= 6 && hour < 9) || (hour >= 17 && hour < 21):
		return 1.5
	case hour >= 9 && hour < 17:
		return 0.8
	case (hour >= 21 && hour < 24) || (hour >= 0 && hour < 6):
		return 0.5
	default:
		return 1.0
	}
}

// Seasonal returns the annual modulation for a 0-based simulation day.
func Seasonal(day int) float64 {
	return 1 + 0.2*math.Sin(2*math.Pi*float64(day)/365)
}

// Synthesizer expands a meter baseline into half-hourly readings.
type Synthesizer struct {
	AnomalyRate float64
}

// Readings produces days*48 readings for meter starting at start, in timestamp order.
// start is expected to be half-hour aligned.
func (s Synthesizer) Readings(meter models.Meter, start time.Time, days int, rng *rand.Rand) []models.Reading {
	if days <= 0 {
		return nil
	}
	out := make([]models.Reading, 0, days*models.ReadingsPerDay)
	for slot := 0; slot < days*models.ReadingsPerDay; slot++ {
		ts := start.Add(time.Duration(slot) * models.ReadingInterval)
		out = append(out, s.reading(meter, ts, slot/models.ReadingsPerDay, rng))
	}
	return out
}

func (s Synthesizer) reading(meter models.Meter, ts time.Time, day int, rng *rand.Rand) models.Reading {
	noise := normal(rng, 1, 0.15)
	consumption := math.Max(0, (meter.BaselineKWhPerDay/models.ReadingsPerDay)*PeakFactor(ts.Hour())*Seasonal(day)*noise)
	voltage := normal(rng, models.NominalVoltage, 5)

	flag := models.QualityNormal
	if rng.Float64() < s.AnomalyRate {
		flag = models.QualityAnomaly
		kind := anomalyKind(rng.IntN(3))
		if kind == anomalyVoltage || kind == anomalyBoth {
			voltage = anomalyVoltages[rng.IntN(2)]
		}
		if kind == anomalyConsumption || kind == anomalyBoth {
			consumption *= anomalyMultipliers[rng.IntN(2)]
		}
	}

	return models.Reading{
		MeterID:        meter.ID,
		TransformerID:  meter.TransformerID,
		Timestamp:      ts,
		ConsumptionKWh: consumption,
		DemandKW:       2 * consumption,
		Voltage:        voltage,
		PowerFactor:    uniform(rng, 0.85, 0.99),
		QualityFlag:    flag,
	}
}
