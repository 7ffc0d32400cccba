package models

import "time"

// SignalStrengthUnknown is the sentinel recorded when the radio layer cannot
// report a signal strength (no permission, no registration, airplane mode).
const SignalStrengthUnknown = -999

// NetworkMetric is a single radio/location sample captured by the telemetry
// collector. Quality fields are nullable because availability depends on the
// radio technology in use (RSRP/RSRQ are LTE/NR, RSCP/Ecno are WCDMA, RxLev
// is GSM).
type NetworkMetric struct {
	ID          int64
	TimestampMs int64  // Unix timestamp in milliseconds
	NetworkType string // e.g. "LTE", "NR", "WCDMA", "GSM", "UNKNOWN"

	SignalStrength int // dBm, SignalStrengthUnknown when unavailable

	Latitude  *float64
	Longitude *float64

	PLMNID             *string
	CellID             *string
	LAC                *int
	TAC                *int
	RAC                *int
	ARFCN              *int
	FrequencyBand      *string
	ActualFrequencyMhz *float64

	RSRP  *int
	RSRQ  *int
	RSCP  *int
	RxLev *int
	Ecno  *float64

	// Uploaded transitions false->true exactly once, after the server has
	// acknowledged the row. It never reverses.
	Uploaded bool
}

// NewNetworkMetric creates a sample with the current timestamp.
func NewNetworkMetric(networkType string, signalStrength int) *NetworkMetric {
	return &NetworkMetric{
		TimestampMs:    time.Now().UnixMilli(),
		NetworkType:    networkType,
		SignalStrength: signalStrength,
	}
}

// WithPosition attaches a GPS fix to the sample.
func (m *NetworkMetric) WithPosition(lat, lon float64) *NetworkMetric {
	m.Latitude = &lat
	m.Longitude = &lon
	return m
}
