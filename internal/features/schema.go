// Package features turns raw readings into the fixed-schema tables consumed by the
// four downstream models. Every transform is a pure function of its inputs.
package features

import (
	"fmt"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
)

// Anomaly table columns, one row per reading.
var anomalyColumns = []string{
	"consumption_kwh",
	"demand_kw",
	"voltage",
	"power_factor",
	"hour",
	"day_of_week",
	"voltage_deviation",
}

// Segmentation aggregate columns, following the 24 hourly shares.
var segmentationAggregates = []string{
	"avg_consumption",
	"std_consumption",
	"max_consumption",
	"max_demand",
	"avg_voltage",
	"std_voltage",
	"avg_power_factor",
	"weekend_ratio",
}

// Failure table columns, one row per transformer. load_variance and voltage_variance
// hold sample standard deviations.
var failureColumns = []string{
	"age_years",
	"capacity_kva",
	"avg_load_pct",
	"max_load_pct",
	"load_variance",
	"voltage_variance",
	"power_factor_avg",
	"anomaly_rate",
	"maintenance_months_ago",
	"failure_history_count",
}

var forecastColumns = []string{"y"}

// HoursPerDay is the width of the hourly profile.
const HoursPerDay = 24

// HourColumn names the share of consumption in one hour of the day.
func HourColumn(hour int) string {
	return fmt.Sprintf("hour_%d", hour)
}

func segmentationColumns() []string {
	cols := make([]string, 0, HoursPerDay+len(segmentationAggregates))
	for h := 0; h < HoursPerDay; h++ {
		cols = append(cols, HourColumn(h))
	}
	return append(cols, segmentationAggregates...)
}

// Columns returns a copy of the documented column order for a model.
func Columns(kind models.ModelKind) []string {
	var src []string
	switch kind {
	case models.ModelAnomaly:
		src = anomalyColumns
	case models.ModelSegmentation:
		return segmentationColumns()
	case models.ModelFailure:
		src = failureColumns
	case models.ModelForecast:
		src = forecastColumns
	default:
		return nil
	}
	return append([]string(nil), src...)
}
