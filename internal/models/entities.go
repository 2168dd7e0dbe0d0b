package models

// Segment is one of the fixed customer behaviour categories
type Segment string

const (
	SegmentEarlyMorningIndustrial  Segment = "early_morning_industrial"
	SegmentBusinessHoursCommercial Segment = "business_hours_commercial"
	SegmentEveningResidentialPeak  Segment = "evening_residential_peak"
	SegmentSolarBattery            Segment = "solar_battery_households"
	SegmentEVCharging              Segment = "ev_charging_households"
	SegmentEfficiencyOptimizers    Segment = "efficiency_optimizers"
	SegmentHighConsumptionAllDay   Segment = "high_consumption_all_day"
	SegmentSeasonalVariationHeavy  Segment = "seasonal_variation_heavy"
	SegmentWeekendShiftUsers       Segment = "weekend_shift_users"
	SegmentNightOwlHouseholds      Segment = "night_owl_households"
	SegmentRetiredHomeAllDay       Segment = "retired_home_all_day"
	SegmentLowUseMinimal           Segment = "low_use_minimal"
)

// Segments lists every segment in cluster-index order.
var Segments = []Segment{
	SegmentEarlyMorningIndustrial,
	SegmentBusinessHoursCommercial,
	SegmentEveningResidentialPeak,
	SegmentSolarBattery,
	SegmentEVCharging,
	SegmentEfficiencyOptimizers,
	SegmentHighConsumptionAllDay,
	SegmentSeasonalVariationHeavy,
	SegmentWeekendShiftUsers,
	SegmentNightOwlHouseholds,
	SegmentRetiredHomeAllDay,
	SegmentLowUseMinimal,
}

// SegmentWeights are the relative prevalences of Segments, summing to 100.
var SegmentWeights = []float64{3, 8, 22, 7, 9, 5, 6, 12, 8, 6, 9, 5}

// Tariff is the billing plan of a customer
type Tariff string

const (
	TariffFlat   Tariff = "flat"
	TariffTOU    Tariff = "tou"
	TariffDemand Tariff = "demand"
)

// Tariffs lists the tariffs customers are drawn from.
var Tariffs = []Tariff{TariffFlat, TariffTOU, TariffDemand}

// Customer is a simulated utility customer
type Customer struct {
	ID                    int     `json:"id"`
	CustomerHash          string  `json:"customer_hash"`
	Segment               Segment `json:"segment_id"`
	Tariff                Tariff  `json:"tariff_type"`
	SolarInstalled        bool    `json:"solar_installed"`
	EVCharging            bool    `json:"ev_charging"`
	DemandResponseOptedIn bool    `json:"demand_response_opted_in"`
}

// TransformerStatusOperational is the only status the simulator assigns.
const TransformerStatusOperational = "operational"

// MaxFailureRisk caps failure risk and failure probabilities.
const MaxFailureRisk = 0.95

// TransformerCapacities are the nameplate ratings (kVA) transformers are drawn from.
var TransformerCapacities = []float64{100, 200, 500, 1000}

// Transformer is a piece of distribution equipment
type Transformer struct {
	ID          int     `json:"id"`
	Number      string  `json:"transformer_number"`
	CapacityKVA float64 `json:"capacity_kva"`
	AgeYears    float64 `json:"age_years"`
	Status      string  `json:"status"`
	FailureRisk float64 `json:"failure_risk"`
}
