package models

import "time"

// Device is a registered smart plug. The registry owns it; readings only reference it.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawStatus maps vendor measurement codes to their raw scaled values for one poll.
type RawStatus map[string]any

// Metrics holds the physical quantities decoded from a RawStatus.
type Metrics struct {
	Voltage   float64 // V
	Current   float64 // A
	Power     float64 // W
	EnergyKWh float64 // cumulative kWh
}

// Reading is one normalized sample for one device. Timestamp is always UTC.
type Reading struct {
	DeviceID   string    `json:"device_id" bson:"device_id"`
	DeviceName string    `json:"device_name" bson:"device_name"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	Voltage    float64   `json:"voltage" bson:"voltage"`
	Current    float64   `json:"current" bson:"current"`
	Power      float64   `json:"power" bson:"power"`
	EnergyKWh  float64   `json:"energy_kWh" bson:"energy_kWh"`
}

// TotalsSnapshot is the cross-device dashboard summary.
type TotalsSnapshot struct {
	TotalPowerW float64 `json:"total_power_w"`
	MaxVoltageV float64 `json:"max_voltage_v"`
	TodayKWh    float64 `json:"today_kwh"`
	TodayCost   float64 `json:"today_cost"`
	MonthKWh    float64 `json:"month_kwh"`
	MonthCost   float64 `json:"month_cost"`
}

// EnergySummary holds one device's today and month-to-date energy and cost.
type EnergySummary struct {
	TodayKWh  float64 `json:"today_kwh"`
	TodayCost float64 `json:"today_cost"`
	MonthKWh  float64 `json:"month_kwh"`
	MonthCost float64 `json:"month_cost"`
}

// Metric keys used in TimeSeries points.
const (
	MetricPowerSum   = "power_sum_W"
	MetricVoltageAvg = "voltage_avg_V"
	MetricVoltage    = "voltage"
	MetricCurrent    = "current"
	MetricPower      = "power"
	MetricEnergy     = "energy_kWh"
)

// Point is one timestamped row of a TimeSeries.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// TimeSeries is an ascending sequence of points.
type TimeSeries struct {
	Points []Point `json:"points"`
}

// Len returns the number of points.
func (ts TimeSeries) Len() int {
	return len(ts.Points)
}
