package models

import (
	"time"
)

// NominalVoltage is the grid voltage readings are centred on.
const NominalVoltage = 230.0

// ReadingInterval is the spacing between two readings of the same meter.
const ReadingInterval = 30 * time.Minute

// ReadingsPerDay is the number of half-hourly slots in a day.
const ReadingsPerDay = 48

// QualityFlag marks whether a reading was deliberately perturbed
type QualityFlag string

const (
	QualityNormal  QualityFlag = "normal"
	QualityAnomaly QualityFlag = "anomaly"
)

// Meter is a simulated smart meter. Its baseline is drawn once and never changes.
type Meter struct {
	ID                int     `json:"id"`
	BaselineKWhPerDay float64 `json:"baseline_kwh_per_day"`
	TransformerID     int     `json:"transformer_id,omitempty"`
}

// Reading represents one half-hourly smart meter record
type Reading struct {
	MeterID        int         `json:"meter_id"`
	TransformerID  int         `json:"transformer_id,omitempty"` // 0 when the meter is not linked to equipment
	Timestamp      time.Time   `json:"reading_time"`
	ConsumptionKWh float64     `json:"consumption_kwh"`
	DemandKW       float64     `json:"demand_kw"`
	Voltage        float64     `json:"voltage"`
	PowerFactor    float64     `json:"power_factor"`
	QualityFlag    QualityFlag `json:"quality_flag"`
}

// IsAnomaly reports whether the reading carries the anomaly flag.
func (r Reading) IsAnomaly() bool {
	return r.QualityFlag == QualityAnomaly
}

// VoltageDeviation is the relative distance of the reading's voltage from nominal.
func (r Reading) VoltageDeviation() float64 {
	d := r.Voltage - NominalVoltage
	if d < 0 {
		d = -d
	}
	return d / NominalVoltage
}

// QualityCount represents aggregated count of readings by quality flag
type QualityCount struct {
	Flag  QualityFlag `json:"flag"`
	Count int         `json:"count"`
}

// SeriesPoint represents a single hourly bucket of the demand series
type SeriesPoint struct {
	Timestamp    time.Time `json:"ds"`
	Value        float64   `json:"y"` // hourly max demand (kW)
	TotalKWh     float64   `json:"total_kwh"`
	ReadingCount int       `json:"reading_count"`
}
