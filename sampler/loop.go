// Package sampler drives the node: bring-up once, then a fixed-period
// sample and publish cycle.
package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/elijahnyp/climate_node/brightness"
	"github.com/elijahnyp/climate_node/retry"
	"github.com/elijahnyp/climate_node/sensor"
	"github.com/elijahnyp/climate_node/state"
	"github.com/elijahnyp/climate_node/telemetry"
	"github.com/rs/zerolog"
)

const DefaultPeriod = 5000 * time.Millisecond

type Session interface {
	Bootstrap(ctx context.Context) error
	Service() bool
}

type Publisher interface {
	PublishInt(subject string, v int)
	PublishFloat(subject string, v float64)
}

type Config struct {
	Subjects telemetry.Subjects
	Period   time.Duration
	Sleeper  retry.Sleeper
	Store    *state.Store
}

type Loop struct {
	session   Session
	reader    sensor.Reader
	publisher Publisher
	subjects  telemetry.Subjects
	period    time.Duration
	sleeper   retry.Sleeper
	store     *state.Store
	logger    zerolog.Logger
	now       func() time.Time
	cycle     uint64
}

func New(cfg Config, session Session, reader sensor.Reader, publisher Publisher, logger zerolog.Logger) *Loop {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = retry.RealSleeper{}
	}
	return &Loop{
		session:   session,
		reader:    reader,
		publisher: publisher,
		subjects:  cfg.Subjects,
		period:    cfg.Period,
		sleeper:   cfg.Sleeper,
		store:     cfg.Store,
		logger:    logger,
		now:       time.Now,
	}
}

// Bootstrap brings up the network and broker session, then the sensor
// peripherals. It runs once; nothing returns the loop to this state.
func (l *Loop) Bootstrap(ctx context.Context) error {
	if err := l.session.Bootstrap(ctx); err != nil {
		return fmt.Errorf("session bootstrap: %w", err)
	}
	if err := l.reader.Begin(); err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	return nil
}

// Cycle samples once and publishes raw light, brightness, temperature and
// humidity in that order. A failed read skips only its own publishes.
func (l *Loop) Cycle() state.Snapshot {
	l.cycle++
	snap := state.Snapshot{Cycle: l.cycle, Timestamp: l.now()}
	snap.Connected = l.session.Service()

	raw, err := l.reader.ReadLight()
	if err != nil {
		l.logger.Warn().Msgf("Failed to read from light sensor: %v", err)
	} else {
		b := brightness.Estimate(raw)
		l.logger.Info().Msgf("LDR Value: %d", raw)
		l.logger.Info().Msgf("Brightness: %s", telemetry.FormatFloat(b))
		l.publisher.PublishInt(l.subjects.Light, raw)
		l.publisher.PublishFloat(l.subjects.Brightness, b)
		snap.LightOK = true
		snap.Raw = raw
		snap.Brightness = telemetry.FormatFloat(b)
	}

	climate, ok := l.reader.ReadClimate()
	if ok {
		l.publisher.PublishFloat(l.subjects.Temperature, climate.Temperature)
		l.publisher.PublishFloat(l.subjects.Humidity, climate.Humidity)
		snap.ClimateOK = true
		snap.Temperature = climate.Temperature
		snap.Humidity = climate.Humidity
	} else {
		l.logger.Warn().Msg("Failed to read from climate sensor!")
	}

	if l.store != nil {
		l.store.Record(snap)
	}
	return snap
}

// Run bootstraps and then cycles with a fixed delay after each cycle until
// ctx is cancelled. Cancellation is not an error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	l.logger.Info().Msgf("sampling every %v", l.period)
	for {
		l.Cycle()
		if err := l.sleeper.Sleep(ctx, l.period); err != nil {
			l.logger.Info().Msgf("sampling stopped after %d cycles", l.cycle)
			return nil
		}
	}
}
