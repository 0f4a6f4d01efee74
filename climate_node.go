package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/climate_node/retry"
	"github.com/elijahnyp/climate_node/sampler"
	"github.com/elijahnyp/climate_node/sensor"
	"github.com/elijahnyp/climate_node/session"
	"github.com/elijahnyp/climate_node/state"
	"github.com/elijahnyp/climate_node/telemetry"
	. "github.com/elijahnyp/climate_node/util"
)

const advertiseInterval = 5 * time.Minute

func policy(backoffMs int64, maxAttempts int) retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts, Backoff: time.Duration(backoffMs) * time.Millisecond}
}

func sessionConfig(s Settings) session.Config {
	return session.Config{
		BrokerURI:         s.Broker.URI(),
		Username:          s.Broker.Username,
		Password:          s.Broker.Password,
		ClientIDPrefix:    s.Broker.ClientIDPrefix,
		ConnectTimeout:    time.Duration(s.Broker.ConnectTimeoutMs) * time.Millisecond,
		AutoReconnect:     s.Broker.AutoReconnect,
		AvailabilityTopic: s.Broker.AvailabilityTopic,
		NetworkPolicy:     policy(s.Network.BackoffMs, s.Network.MaxAttempts),
		BrokerPolicy:      policy(s.Broker.BackoffMs, s.Broker.MaxAttempts),
	}
}

// HAAdvertiser re-sends discovery configs so a restarted Home Assistant
// picks the node up again.
func HAAdvertiser(ctx context.Context, d telemetry.Discovery, manager *session.Manager) {
	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client := manager.Client(); client != nil && manager.Connected() {
				d.Advertise(client, Logger)
			}
		}
	}
}

func run(ctx context.Context, settings Settings) error {
	secured := settings.Network.Passphrase != ""
	Logger.Info().Msgf("network %s (passphrase set: %v)", settings.Network.Name, secured)

	network := session.NewHostNetwork(settings.Network.Name, settings.Network.Interface)
	manager := session.NewManager(sessionConfig(settings), network, Logger)
	defer manager.Close()

	transports := []telemetry.Transport{telemetry.NewMQTTTransport(manager.Client, Logger)}
	if len(settings.Kafka.Brokers) > 0 {
		kt := telemetry.NewKafkaTransport(settings.Kafka.Brokers, settings.Kafka.Topic, Logger)
		defer func() {
			if err := kt.Close(); err != nil {
				Logger.Error().Msgf("Error closing kafka writer: %v", err)
			}
		}()
		transports = append(transports, kt)
		Logger.Info().Msgf("mirroring telemetry to kafka topic %s", settings.Kafka.Topic)
	}

	if settings.Discovery.Enabled {
		d := telemetry.Discovery{
			Prefix:            settings.Discovery.Prefix,
			NodeID:            settings.Discovery.NodeID,
			AvailabilityTopic: settings.Broker.AvailabilityTopic,
			Subjects:          settings.Subjects,
		}
		manager.OnConnect("haadvertise", func(client MQTT.Client) {
			d.Advertise(client, Logger)
		})
		go HAAdvertiser(ctx, d, manager)
	}

	store := state.NewStore()
	if settings.Monitor.Port > 0 {
		monitor := NewMonitorServer(settings.Monitor.Port, store)
		if err := monitor.Start(); err != nil {
			Logger.Error().Msgf("Error starting monitor server: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			monitor.Shutdown(shutdownCtx)
		}()
	}

	reader, err := sensor.New(settings.SensorOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			Logger.Debug().Msgf("sensor close: %v", err)
		}
	}()

	loop := sampler.New(sampler.Config{
		Subjects: settings.Subjects,
		Period:   settings.Period(),
		Store:    store,
	}, manager, reader, telemetry.NewPublisher(Logger, transports...), Logger)

	Logger.Info().Msg("ready")
	return loop.Run(ctx)
}

func main() {
	LogInit("info")
	SetupConfig()
	settings, err := LoadSettings()
	if err != nil {
		Logger.Fatal().Msgf("%v", err)
	}
	LogInit(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings); err != nil {
		Logger.Error().Msgf("climate node stopped: %v", err)
		stop()
		os.Exit(1)
	}
	Logger.Info().Msg("shutdown complete")
}
