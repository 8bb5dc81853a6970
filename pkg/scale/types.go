package scale

import (
	"fmt"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitGrams denotes metric units (as emitted by the stabilization engine)
	UnitGrams Unit = "g"

	// UnitKilograms denotes the native unit of the scale device
	UnitKilograms Unit = "kg"
)

// gramsPerKilogram converts the native device unit to grams
const gramsPerKilogram = 1000.

// KilogramsToGrams converts a native device reading to grams, preserving its sign
func KilogramsToGrams(kg float64) float64 {
	return kg * gramsPerKilogram
}

// State denotes a connection state
type State int

const (

	// StateUnknown is active before the first poll attempt has completed
	StateUnknown State = iota

	// StateConnected is active while the last poll attempt reached the scale
	StateConnected

	// StateDisconnected is active after a poll attempt failed on the transport level
	StateDisconnected
)

// String fulfils the Stringer interface
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionStatus denotes the current status of the scale device
type ConnectionStatus struct {
	Error error
	State
}

// Sample denotes a single accepted weight reading at a certain point in time
type Sample struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64
}

// Value provides a method to retrieve the current value (for interface use)
func (s Sample) Value() float64 {
	return s.Weight
}

// NewSample converts a native (kilogram) device reading into a Sample in grams
func NewSample(kg float64, ts time.Time) Sample {
	return Sample{
		TimeStamp: ts,
		Unit:      UnitGrams,
		Weight:    KilogramsToGrams(kg),
	}
}

// StableWeight denotes a confirmed, de-duplicated stable weight event
type StableWeight struct {
	TimeStamp time.Time
	Weight    float64

	// SettleTime is the time between the first above-threshold sample of the
	// plateau and its confirmation
	SettleTime time.Duration
}

// Value provides a method to retrieve the current value (for interface use)
func (s StableWeight) Value() float64 {
	return s.Weight
}

// String fulfils the Stringer interface
func (s StableWeight) String() string {
	return fmt.Sprintf("%.1f%s", s.Weight, UnitGrams)
}

// FormatWeight renders a weight in grams with one decimal, as expected by all sinks
func FormatWeight(grams float64) string {
	return fmt.Sprintf("%.1f", grams)
}
