package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulated produces a bounded random walk in place of real peripherals.
type Simulated struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	light       int
	temperature float64
	humidity    float64
	begun       bool
}

// NewSimulated seeds from the clock when seed is 0.
func NewSimulated(seed int64, climateFailureRate float64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		rng:         rand.New(rand.NewSource(seed)),
		failureRate: climateFailureRate,
		light:       2048,
		temperature: 25,
		humidity:    60,
	}
}

func (s *Simulated) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = true
	return nil
}

func (s *Simulated) Close() error { return nil }

func (s *Simulated) ReadLight() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.light += s.rng.Intn(201) - 100
	if s.light < 0 {
		s.light = 0
	}
	if s.light > 4095 {
		s.light = 4095
	}
	return s.light, nil
}

// ReadClimate fails like an unresponsive DHT11 until Begin is called, and
// afterwards at the configured failure rate.
func (s *Simulated) ReadClimate() (ClimateReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun || s.rng.Float64() < s.failureRate {
		return NewClimateReading(math.NaN(), math.NaN())
	}
	s.temperature = clamp(s.temperature+s.rng.Float64()-0.5, 0, 50)
	s.humidity = clamp(s.humidity+2*s.rng.Float64()-1, 20, 90)
	return NewClimateReading(s.temperature, s.humidity)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
