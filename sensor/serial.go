package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elijahnyp/climate_node/brightness"
	"github.com/tarm/serial"
)

// Frame is one line from the serial bridge, e.g. "ldr=2048 t=25.0 h=60.0".
// Missing or unreadable climate fields are NaN.
type Frame struct {
	Light       int
	Temperature float64
	Humidity    float64
	Received    time.Time
}

var ErrPortClosed = errors.New("serial port closed")

func ParseFrame(line string) (Frame, error) {
	f := Frame{Temperature: math.NaN(), Humidity: math.NaN()}
	seen := false
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Frame{}, fmt.Errorf("malformed field %q", field)
		}
		switch strings.ToLower(key) {
		case "ldr":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Frame{}, fmt.Errorf("ldr value %q: %w", value, err)
			}
			if n < 0 || n > brightness.ADCMax {
				return Frame{}, fmt.Errorf("ldr value %d outside 0..%d", n, brightness.ADCMax)
			}
			f.Light = n
			seen = true
		case "t":
			f.Temperature = parseMeasurement(value)
		case "h":
			f.Humidity = parseMeasurement(value)
		}
	}
	if !seen {
		return Frame{}, fmt.Errorf("frame %q has no ldr field", line)
	}
	return f, nil
}

func parseMeasurement(value string) float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Serial reads frames streamed by a microcontroller over a serial line and
// serves the most recent one.
type Serial struct {
	open       func() (io.ReadCloser, error)
	now        func() time.Time
	staleAfter time.Duration

	mu     sync.Mutex
	port   io.ReadCloser
	latest *Frame
	err    error
}

func NewSerial(name string, baud int, staleAfterMs int64) *Serial {
	c := &serial.Config{Name: name, Baud: baud}
	return newSerial(func() (io.ReadCloser, error) {
		return serial.OpenPort(c)
	}, time.Duration(staleAfterMs)*time.Millisecond)
}

func newSerial(open func() (io.ReadCloser, error), staleAfter time.Duration) *Serial {
	return &Serial{open: open, now: time.Now, staleAfter: staleAfter}
}

// Begin opens the port and starts consuming frames.
func (s *Serial) Begin() error {
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	go s.consume(port)
	return nil
}

// consume runs until the port is closed or returns a read error. Once it
// stops the last frame is dropped so reads fail instead of going stale.
func (s *Serial) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f, err := ParseFrame(line)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			continue
		}
		f.Received = s.now()
		s.mu.Lock()
		s.latest = &f
		s.err = nil
		s.mu.Unlock()
	}
	err := ErrPortClosed
	if scanErr := scanner.Err(); scanErr != nil {
		err = fmt.Errorf("%w: %w", ErrPortClosed, scanErr)
	}
	s.mu.Lock()
	s.latest = nil
	s.err = err
	s.mu.Unlock()
}

func (s *Serial) frame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		if s.err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrNoFrame, s.err)
		}
		return Frame{}, ErrNoFrame
	}
	if s.staleAfter > 0 && s.now().Sub(s.latest.Received) > s.staleAfter {
		return Frame{}, fmt.Errorf("%w: last frame is %v old", ErrNoFrame, s.now().Sub(s.latest.Received).Round(time.Second))
	}
	return *s.latest, nil
}

func (s *Serial) ReadLight() (int, error) {
	f, err := s.frame()
	if err != nil {
		return 0, err
	}
	return f.Light, nil
}

func (s *Serial) ReadClimate() (ClimateReading, bool) {
	f, err := s.frame()
	if err != nil {
		return ClimateReading{}, false
	}
	return NewClimateReading(f.Temperature, f.Humidity)
}

func (s *Serial) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
