// Package brightness converts raw LDR readings into an illuminance estimate.
package brightness

import "math"

const (
	ADCMax       = 4095 // native ESP32 ADC full scale
	ReferenceMax = 1024 // Arduino reference ADC scale used by the calibration

	SupplyVoltage  = 5.0
	SeriesResistor = 2000.0
	Gamma          = 0.7
	RL10           = 50.0 // kOhm at 10 lux
)

// Map re-maps x from [inMin, inMax] to [outMin, outMax] using integer
// arithmetic. The division truncates toward zero and x is not constrained.
func Map(x, inMin, inMax, outMin, outMax int) int {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// Rescale maps a raw ADC reading onto the reference domain with reversed
// orientation: 0 becomes 1024 and 4095 becomes 0.
func Rescale(raw int) int {
	return Map(raw, 0, ADCMax, ReferenceMax, 0)
}

func Voltage(rescaled int) float64 {
	return float64(rescaled) / float64(ReferenceMax) * SupplyVoltage
}

// Resistance returns the LDR resistance for the divider voltage. At the
// supply voltage the divisor is zero and the result is +Inf.
func Resistance(voltage float64) float64 {
	return SeriesResistor * voltage / (1 - voltage/SupplyVoltage)
}

// FromResistance applies the inverse power-law calibration.
func FromResistance(resistance float64) float64 {
	return math.Pow(RL10*1e3*math.Pow(10, Gamma)/resistance, 1/Gamma)
}

// Estimate returns the brightness for a raw ADC reading. Raw 0 yields 0 and
// raw 4095 yields +Inf.
func Estimate(raw int) float64 {
	return FromResistance(Resistance(Voltage(Rescale(raw))))
}
