package simulation

import (
	"math"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

func TestPeakFactor(t *testing.T) {
	cases := map[int]float64{
		0: 0.5, 5: 0.5, 6: 1.5, 8: 1.5, 9: 0.8, 16: 0.8,
		17: 1.5, 20: 1.5, 21: 0.5, 23: 0.5,
	}
	for hour, want := range cases {
		if got := PeakFactor(hour); got != want {
			t.Errorf("PeakFactor(%d) = %v, want %v", hour, got, want)
		}
	}
}

func TestSeasonal(t *testing.T) {
	if Seasonal(0) != 1 {
		t.Fatalf("Seasonal(0) = %v, want 1", Seasonal(0))
	}
	peak := Seasonal(365 / 4)
	if peak < 1.19 || peak > 1.2 {
		t.Fatalf("Seasonal quarter-year = %v, want ~1.2", peak)
	}
}

func TestReadingsInvariants(t *testing.T) {
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	meter := models.Meter{ID: 3, BaselineKWhPerDay: 18, TransformerID: 2}
	synth := Synthesizer{AnomalyRate: 0.2}
	readings := synth.Readings(meter, start, 7, NewRand(1, StreamTelemetry, meter.ID))

	if len(readings) != 7*48 {
		t.Fatalf("got %d readings, want %d", len(readings), 7*48)
	}
	for i, r := range readings {
		if r.ConsumptionKWh < 0 {
			t.Fatalf("reading %d has negative consumption %v", i, r.ConsumptionKWh)
		}
		if r.DemandKW != 2*r.ConsumptionKWh {
			t.Fatalf("reading %d demand %v != 2*%v", i, r.DemandKW, r.ConsumptionKWh)
		}
		if r.PowerFactor < 0.85 || r.PowerFactor > 0.99 {
			t.Fatalf("reading %d power factor %v out of range", i, r.PowerFactor)
		}
		if r.VoltageDeviation() < 0 || r.VoltageDeviation() != math.Abs(r.Voltage-230)/230 {
			t.Fatalf("reading %d voltage deviation %v", i, r.VoltageDeviation())
		}
		if r.MeterID != 3 || r.TransformerID != 2 {
			t.Fatalf("reading %d lost its identity: %+v", i, r)
		}
		if want := start.Add(time.Duration(i) * 30 * time.Minute); !r.Timestamp.Equal(want) {
			t.Fatalf("reading %d at %v, want %v", i, r.Timestamp, want)
		}
	}
}

func TestReadingsNoiseDistribution(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meter := models.Meter{ID: 1, BaselineKWhPerDay: 20}
	synth := Synthesizer{AnomalyRate: 0}
	readings := synth.Readings(meter, start, 200, NewRand(9, StreamTelemetry, 1))

	var sum, sumSq float64
	for i, r := range readings {
		expected := meter.BaselineKWhPerDay / 48 * PeakFactor(r.Timestamp.Hour()) * Seasonal(i/48)
		ratio := r.ConsumptionKWh / expected
		sum += ratio
		sumSq += ratio * ratio
		if r.IsAnomaly() {
			t.Fatalf("anomaly injected with zero rate")
		}
	}
	n := float64(len(readings))
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)
	if math.Abs(mean-1) > 0.01 {
		t.Fatalf("noise mean = %v, want ~1", mean)
	}
	if math.Abs(std-0.15) > 0.01 {
		t.Fatalf("noise std = %v, want ~0.15", std)
	}
}

func TestAnomalyInjectionKinds(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meter := models.Meter{ID: 1, BaselineKWhPerDay: 10}
	synth := Synthesizer{AnomalyRate: 1}
	readings := synth.Readings(meter, start, 100, NewRand(5, StreamTelemetry, 1))

	outlierVoltage := 0
	for _, r := range readings {
		if !r.IsAnomaly() {
			t.Fatalf("reading not flagged with rate 1")
		}
		if r.Voltage == 195 || r.Voltage == 260 {
			outlierVoltage++
		}
	}
	// voltage and both each occur a third of the time.
	share := float64(outlierVoltage) / float64(len(readings))
	if math.Abs(share-2.0/3.0) > 0.04 {
		t.Fatalf("voltage outlier share = %v, want ~0.667", share)
	}
	low := 0
	for _, r := range readings {
		if r.Voltage == 195 {
			low++
		}
	}
	if lowShare := float64(low) / float64(outlierVoltage); math.Abs(lowShare-0.5) > 0.04 {
		t.Fatalf("195 V takes %v of voltage outliers, want ~0.5", lowShare)
	}
}

func TestReadingsVoltageAndPowerFactorDistribution(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meter := models.Meter{ID: 2, BaselineKWhPerDay: 12}
	synth := Synthesizer{AnomalyRate: 0}
	readings := synth.Readings(meter, start, 200, NewRand(11, StreamTelemetry, meter.ID))

	var vSum, vSumSq, pfSum, pfSumSq float64
	for _, r := range readings {
		vSum += r.Voltage
		vSumSq += r.Voltage * r.Voltage
		pfSum += r.PowerFactor
		pfSumSq += r.PowerFactor * r.PowerFactor
	}
	n := float64(len(readings))
	vMean := vSum / n
	vStd := math.Sqrt(vSumSq/n - vMean*vMean)
	if math.Abs(vMean-230) > 0.2 {
		t.Fatalf("voltage mean = %v, want ~230", vMean)
	}
	if math.Abs(vStd-5) > 0.15 {
		t.Fatalf("voltage std = %v, want ~5", vStd)
	}

	pfMean := pfSum / n
	pfStd := math.Sqrt(pfSumSq/n - pfMean*pfMean)
	if math.Abs(pfMean-0.92) > 0.003 {
		t.Fatalf("power factor mean = %v, want ~0.92", pfMean)
	}
	// Uniform on [0.85, 0.99] has std 0.14/sqrt(12).
	if want := 0.14 / math.Sqrt(12); math.Abs(pfStd-want) > 0.002 {
		t.Fatalf("power factor std = %v, want ~%v", pfStd, want)
	}
}

// TestConsumptionAnomalyMultipliers replays the synthesizer's draws to recover the
// unperturbed consumption of every reading.
func TestConsumptionAnomalyMultipliers(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meter := models.Meter{ID: 1, BaselineKWhPerDay: 10}
	synth := Synthesizer{AnomalyRate: 1}
	readings := synth.Readings(meter, start, 100, NewRand(5, StreamTelemetry, 1))

	rng := NewRand(5, StreamTelemetry, 1)
	byMultiplier := map[float64]int{}
	untouched := 0
	for i, r := range readings {
		noise := normal(rng, 1, 0.15)
		clean := math.Max(0, (meter.BaselineKWhPerDay/models.ReadingsPerDay)*PeakFactor(r.Timestamp.Hour())*Seasonal(i/models.ReadingsPerDay)*noise)
		normal(rng, models.NominalVoltage, 5)
		rng.Float64()
		kind := anomalyKind(rng.IntN(3))
		if kind == anomalyVoltage || kind == anomalyBoth {
			rng.IntN(2)
		}
		multiplier := 1.0
		if kind == anomalyConsumption || kind == anomalyBoth {
			multiplier = anomalyMultipliers[rng.IntN(2)]
		}
		uniform(rng, 0.85, 0.99)

		if math.Abs(r.ConsumptionKWh-clean*multiplier) > 1e-12 {
			t.Fatalf("reading %d consumption %v, want %v x %v", i, r.ConsumptionKWh, clean, multiplier)
		}
		if multiplier == 1 {
			untouched++
			continue
		}
		if clean > 0 {
			ratio := r.ConsumptionKWh / clean
			if math.Abs(ratio-3) > 1e-9 && math.Abs(ratio-5) > 1e-9 {
				t.Fatalf("reading %d scaled by %v, want 3 or 5", i, ratio)
			}
		}
		byMultiplier[multiplier]++
	}

	scaled := byMultiplier[3] + byMultiplier[5]
	if share := float64(scaled) / float64(len(readings)); math.Abs(share-2.0/3.0) > 0.04 {
		t.Fatalf("consumption anomaly share = %v, want ~0.667", share)
	}
	if share := float64(byMultiplier[3]) / float64(scaled); math.Abs(share-0.5) > 0.04 {
		t.Fatalf("x3 takes %v of consumption anomalies, want ~0.5", share)
	}
	if untouched == 0 {
		t.Fatalf("no voltage-only anomalies")
	}
}

func TestReadingsNonPositiveHorizon(t *testing.T) {
	synth := Synthesizer{}
	if got := synth.Readings(models.Meter{ID: 1}, time.Now(), 0, NewRand(1, StreamTelemetry, 1)); got != nil {
		t.Fatalf("expected no readings, got %d", len(got))
	}
}
