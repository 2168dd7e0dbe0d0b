package simulation

import (
	"fmt"
	"math/rand/v2"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// Baseline consumption range of a meter, kWh/day.
const (
	MinBaselineKWh = 5.0
	MaxBaselineKWh = 25.0
)

// Transformer age range, years.
const (
	MinTransformerAge = 1.0
	MaxTransformerAge = 30.0
)

const (
	solarAdoption          = 0.15
	evAdoption             = 0.10
	demandResponseAdoption = 0.30
)

// SampleMeter draws a meter's baseline from rng.
func SampleMeter(id int, rng *rand.Rand) models.Meter {
	return models.Meter{
		ID:                id,
		BaselineKWhPerDay: uniform(rng, MinBaselineKWh, MaxBaselineKWh),
	}
}

// SampleMeters draws n meters. When transformers > 0 and link is set, meters are spread
// round-robin over the transformers.
func SampleMeters(n, transformers int, link bool, seed uint64) []models.Meter {
	meters := make([]models.Meter, n)
	for i := range meters {
		id := i + 1
		meters[i] = SampleMeter(id, NewRand(seed, StreamMeter, id))
		if link && transformers > 0 {
			meters[i].TransformerID = (id-1)%transformers + 1
		}
	}
	return meters
}

// FailureRisk maps an age and a U(0,0.2) draw to a risk in [0, 0.95].
func FailureRisk(ageYears, noise float64) float64 {
	return clip(0.1+(ageYears/MaxTransformerAge)*0.5+noise, 0, models.MaxFailureRisk)
}

// SampleTransformer draws one transformer from rng.
func SampleTransformer(id int, rng *rand.Rand) models.Transformer {
	age := uniform(rng, MinTransformerAge, MaxTransformerAge)
	risk := FailureRisk(age, uniform(rng, 0, 0.2))
	return models.Transformer{
		ID:          id,
		Number:      fmt.Sprintf("TRF%04d", id),
		CapacityKVA: models.TransformerCapacities[rng.IntN(len(models.TransformerCapacities))],
		AgeYears:    age,
		Status:      models.TransformerStatusOperational,
		FailureRisk: risk,
	}
}

// SampleTransformers draws n transformers with ids 1..n.
func SampleTransformers(n int, seed uint64) []models.Transformer {
	out := make([]models.Transformer, n)
	for i := range out {
		out[i] = SampleTransformer(i+1, NewRand(seed, StreamTransformer, i+1))
	}
	return out
}

// SampleSegment performs one multinomial draw over the configured segment weights.
func SampleSegment(rng *rand.Rand) models.Segment {
	total := 0.0
	for _, w := range models.SegmentWeights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range models.SegmentWeights {
		if r < w {
			return models.Segments[i]
		}
		r -= w
	}
	return models.Segments[len(models.Segments)-1]
}

// SampleCustomer draws a customer. The segment is drawn first because it forces
// the solar and EV flags of the matching segments.
func SampleCustomer(id int, rng *rand.Rand) models.Customer {
	segment := SampleSegment(rng)
	solar := rng.Float64() < solarAdoption
	ev := rng.Float64() < evAdoption
	return models.Customer{
		ID:                    id,
		CustomerHash:          fmt.Sprintf("CUST%06d", id),
		Segment:               segment,
		Tariff:                models.Tariffs[rng.IntN(len(models.Tariffs))],
		SolarInstalled:        segment == models.SegmentSolarBattery || solar,
		EVCharging:            segment == models.SegmentEVCharging || ev,
		DemandResponseOptedIn: rng.Float64() < demandResponseAdoption,
	}
}

// SampleCustomers draws n customers with ids 1..n.
func SampleCustomers(n int, seed uint64) []models.Customer {
	out := make([]models.Customer, n)
	for i := range out {
		out[i] = SampleCustomer(i+1, NewRand(seed, StreamCustomer, i+1))
	}
	return out
}
