package features

import (
	"sort"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// groupByMeter splits readings per meter and returns the meter ids in ascending order.
func groupByMeter(readings []models.Reading) ([]int, map[int][]models.Reading) {
	groups := make(map[int][]models.Reading)
	for _, r := range readings {
		groups[r.MeterID] = append(groups[r.MeterID], r)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, groups
}

// Segmentation builds one row per meter: the 24 hourly consumption shares followed by
// the aggregate statistics. Rows are ordered by meter id.
func Segmentation(readings []models.Reading, opts Options) *models.FeatureTable {
	ids, groups := groupByMeter(readings)
	table := &models.FeatureTable{
		Model:   models.ModelSegmentation,
		Columns: Columns(models.ModelSegmentation),
		Keys:    make([]models.RowKey, len(ids)),
		Rows:    make([][]float64, len(ids)),
	}
	forEach(len(ids), opts.workers(), func(i int) {
		table.Keys[i] = models.RowKey{EntityID: ids[i]}
		table.Rows[i] = segmentationRow(groups[ids[i]])
	})
	return table
}

func segmentationRow(readings []models.Reading) []float64 {
	var hourSum [HoursPerDay]float64
	var hourCount [HoursPerDay]int

	n := len(readings)
	consumption := make([]float64, n)
	voltage := make([]float64, n)
	powerFactor := make([]float64, n)
	demand := make([]float64, n)
	var weekend, weekday []float64

	for i, r := range readings {
		h := r.Timestamp.Hour()
		hourSum[h] += r.ConsumptionKWh
		hourCount[h]++
		consumption[i] = r.ConsumptionKWh
		voltage[i] = r.Voltage
		powerFactor[i] = r.PowerFactor
		demand[i] = r.DemandKW
		if isWeekend(r.Timestamp) {
			weekend = append(weekend, r.ConsumptionKWh)
		} else {
			weekday = append(weekday, r.ConsumptionKWh)
		}
	}

	row := make([]float64, 0, HoursPerDay+len(segmentationAggregates))

	// Hours without readings contribute a zero mean.
	var hourly [HoursPerDay]float64
	total := 0.0
	for h := 0; h < HoursPerDay; h++ {
		if hourCount[h] > 0 {
			hourly[h] = hourSum[h] / float64(hourCount[h])
		}
		total += hourly[h]
	}
	for h := 0; h < HoursPerDay; h++ {
		row = append(row, hourly[h]/(total+shareEpsilon))
	}

	return append(row,
		fill(mean(consumption)),
		fill(sampleStd(consumption)),
		fill(maxOf(consumption)),
		fill(maxOf(demand)),
		fill(mean(voltage)),
		fill(sampleStd(voltage)),
		fill(mean(powerFactor)),
		fill(mean(weekend)/(mean(weekday)+weekdayEpsilon)),
	)
}
