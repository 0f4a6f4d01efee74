// Package sensor reads the LDR and the temperature/humidity peripheral.
package sensor

import (
	"errors"
	"fmt"
	"math"
)

var ErrNoFrame = errors.New("no sensor frame available")

// ClimateReading is only meaningful when both values came from the same
// successful read. Use NewClimateReading to build one.
type ClimateReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// NewClimateReading reports ok == false when either value is NaN. A failed
// reading carries no data.
func NewClimateReading(temperature, humidity float64) (ClimateReading, bool) {
	if math.IsNaN(temperature) || math.IsNaN(humidity) {
		return ClimateReading{}, false
	}
	return ClimateReading{Temperature: temperature, Humidity: humidity}, true
}

type LightSensor interface {
	ReadLight() (int, error)
}

type ClimateSensor interface {
	ReadClimate() (ClimateReading, bool)
}

// Reader is the peripheral set the sampling loop drives.
type Reader interface {
	LightSensor
	ClimateSensor
	Begin() error
	Close() error
}

// Options selects and tunes a Reader.
type Options struct {
	Source             string
	SerialPort         string
	SerialBaud         int
	StaleAfterMs       int64
	Seed               int64
	ClimateFailureRate float64
}

const (
	SourceSimulated = "simulated"
	SourceSerial    = "serial"
)

func New(o Options) (Reader, error) {
	switch o.Source {
	case SourceSimulated, "":
		return NewSimulated(o.Seed, o.ClimateFailureRate), nil
	case SourceSerial:
		return NewSerial(o.SerialPort, o.SerialBaud, o.StaleAfterMs), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", o.Source)
	}
}
