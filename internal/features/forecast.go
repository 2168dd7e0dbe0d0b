package features

import (
	"math"
	"sort"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// DefaultPeakQuantile selects the top decile of hours as peaks.
const DefaultPeakQuantile = 0.9

// ForecastSeries resamples readings into hourly buckets (sum of consumption, max of
// demand) across every meter. Hours without readings are dropped; points are time-ordered.
func ForecastSeries(readings []models.Reading) []models.SeriesPoint {
	buckets := make(map[int64]*models.SeriesPoint)
	for _, r := range readings {
		ts := r.Timestamp.Truncate(time.Hour)
		key := ts.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &models.SeriesPoint{Timestamp: ts, Value: r.DemandKW}
			buckets[key] = b
		}
		b.TotalKWh += r.ConsumptionKWh
		b.ReadingCount++
		if r.DemandKW > b.Value {
			b.Value = r.DemandKW
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	points := make([]models.SeriesPoint, 0, len(keys))
	for _, k := range keys {
		p := *buckets[k]
		if math.IsNaN(p.Value) {
			continue
		}
		points = append(points, p)
	}
	return points
}

// Forecast is the table form of ForecastSeries: one "y" column keyed by hour.
func Forecast(readings []models.Reading) *models.FeatureTable {
	points := ForecastSeries(readings)
	table := &models.FeatureTable{
		Model:   models.ModelForecast,
		Columns: Columns(models.ModelForecast),
		Keys:    make([]models.RowKey, len(points)),
		Rows:    make([][]float64, len(points)),
	}
	for i, p := range points {
		table.Keys[i] = models.RowKey{Timestamp: p.Timestamp}
		table.Rows[i] = []float64{p.Value}
	}
	return table
}

// PeakHours returns the points whose value is at or above the q-quantile of all values,
// in time order. The quantile interpolates linearly between order statistics.
func PeakHours(points []models.SeriesPoint, q float64) []models.SeriesPoint {
	if len(points) == 0 {
		return nil
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sort.Float64s(values)
	threshold := quantile(values, q)

	var peaks []models.SeriesPoint
	for _, p := range points {
		if p.Value >= threshold {
			peaks = append(peaks, p)
		}
	}
	return peaks
}

func quantile(sorted []float64, q float64) float64 {
	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// DailyProfile averages the series by hour of day. Hours without points are 0.
func DailyProfile(points []models.SeriesPoint) [HoursPerDay]float64 {
	var sum [HoursPerDay]float64
	var count [HoursPerDay]int
	for _, p := range points {
		h := p.Timestamp.Hour()
		sum[h] += p.Value
		count[h]++
	}
	var profile [HoursPerDay]float64
	for h := range profile {
		if count[h] > 0 {
			profile[h] = sum[h] / float64(count[h])
		}
	}
	return profile
}
