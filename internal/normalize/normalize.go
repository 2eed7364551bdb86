package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Measurement codes reported by the plug.
const (
	CodeVoltage = "cur_voltage"
	CodePower   = "cur_power"
	CodeCurrent = "cur_current"
	CodeEnergy  = "add_ele"
)

const (
	voltageScale = 10.0   // deci-volt -> V
	powerScale   = 10.0   // deci-watt -> W
	currentScale = 1000.0 // mA -> A
	energyScale  = 1000.0 // scale 3 -> kWh
)

// ErrMalformedPayload is returned when a status payload cannot be interpreted at all.
var ErrMalformedPayload = errors.New("malformed status payload")

// Policy selects how Reading.EnergyKWh is produced.
type Policy string

const (
	// Cumulative stores the device's own add_ele meter.
	Cumulative Policy = "cumulative"
	// Estimate accumulates power * poll interval on top of the previous stored reading.
	Estimate Policy = "estimate"
)

// ParsePolicy validates a policy name. Empty means Cumulative.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Cumulative:
		return Cumulative, nil
	case Estimate:
		return Estimate, nil
	default:
		return "", fmt.Errorf("unknown energy policy %q", s)
	}
}

// Parse converts a raw status into physical units. Missing or non-numeric codes count as 0.
func Parse(status models.RawStatus) (models.Metrics, error) {
	if status == nil {
		return models.Metrics{}, ErrMalformedPayload
	}
	return models.Metrics{
		Voltage:   rawValue(status, CodeVoltage) / voltageScale,
		Current:   rawValue(status, CodeCurrent) / currentScale,
		Power:     rawValue(status, CodePower) / powerScale,
		EnergyKWh: rawValue(status, CodeEnergy) / energyScale,
	}, nil
}

// EstimateDeltaKWh is the energy drawn at powerW for one interval.
func EstimateDeltaKWh(powerW float64, interval time.Duration) float64 {
	return powerW * (interval.Seconds() / 3600) / 1000
}

// NewReading builds a Reading stamped at the given instant, normalized to UTC.
func NewReading(deviceID, deviceName string, m models.Metrics, at time.Time) models.Reading {
	return models.Reading{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Timestamp:  at.UTC(),
		Voltage:    m.Voltage,
		Current:    m.Current,
		Power:      m.Power,
		EnergyKWh:  m.EnergyKWh,
	}
}

func rawValue(status models.RawStatus, code string) float64 {
	v, ok := status[code]
	if !ok || v == nil {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
