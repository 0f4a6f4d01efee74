package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/elijahnyp/climate_node/sensor"
	"github.com/elijahnyp/climate_node/telemetry"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "CLIMATE_NODE"

var Config = viper.New()

type NetworkSettings struct {
	Name        string `mapstructure:"name"`
	Passphrase  string `mapstructure:"passphrase"`
	Interface   string `mapstructure:"interface"`
	BackoffMs   int64  `mapstructure:"backoff_ms"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type BrokerSettings struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	ClientIDPrefix    string `mapstructure:"client_id_prefix"`
	BackoffMs         int64  `mapstructure:"backoff_ms"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	ConnectTimeoutMs  int64  `mapstructure:"connect_timeout_ms"`
	AutoReconnect     bool   `mapstructure:"auto_reconnect"`
	AvailabilityTopic string `mapstructure:"availability_topic"`
}

func (b BrokerSettings) URI() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

type SamplingSettings struct {
	PeriodMs int64 `mapstructure:"period_ms"`
}

type SensorSettings struct {
	Source             string  `mapstructure:"source"`
	SerialPort         string  `mapstructure:"serial_port"`
	SerialBaud         int     `mapstructure:"serial_baud"`
	StaleAfterMs       int64   `mapstructure:"stale_after_ms"`
	Seed               int64   `mapstructure:"seed"`
	ClimateFailureRate float64 `mapstructure:"climate_failure_rate"`
}

type DiscoverySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
	NodeID  string `mapstructure:"node_id"`
}

type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MonitorSettings struct {
	Port int `mapstructure:"port"`
}

// Settings is the decoded configuration. It is read once at start-up and
// passed by value; nothing mutates it afterwards.
type Settings struct {
	LogLevel  string             `mapstructure:"log_level"`
	Network   NetworkSettings    `mapstructure:"network"`
	Broker    BrokerSettings     `mapstructure:"broker"`
	Subjects  telemetry.Subjects `mapstructure:"subjects"`
	Sampling  SamplingSettings   `mapstructure:"sampling"`
	Sensor    SensorSettings     `mapstructure:"sensor"`
	Discovery DiscoverySettings  `mapstructure:"discovery"`
	Kafka     KafkaSettings      `mapstructure:"kafka"`
	Monitor   MonitorSettings    `mapstructure:"monitor"`
}

func (s Settings) Period() time.Duration {
	return time.Duration(s.Sampling.PeriodMs) * time.Millisecond
}

func (s Settings) SensorOptions() sensor.Options {
	return sensor.Options{
		Source:             s.Sensor.Source,
		SerialPort:         s.Sensor.SerialPort,
		SerialBaud:         s.Sensor.SerialBaud,
		StaleAfterMs:       s.Sensor.StaleAfterMs,
		Seed:               s.Sensor.Seed,
		ClimateFailureRate: s.Sensor.ClimateFailureRate,
	}
}

func (s Settings) Validate() error {
	if s.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if s.Broker.Port < 1 || s.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", s.Broker.Port)
	}
	if s.Sampling.PeriodMs <= 0 {
		return fmt.Errorf("sampling.period_ms must be positive, got %d", s.Sampling.PeriodMs)
	}
	if s.Network.BackoffMs < 0 || s.Broker.BackoffMs < 0 {
		return fmt.Errorf("backoff_ms must not be negative")
	}
	if s.Network.MaxAttempts < 0 || s.Broker.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	switch s.Sensor.Source {
	case sensor.SourceSimulated, sensor.SourceSerial:
	default:
		return fmt.Errorf("sensor.source %q is not one of %s, %s", s.Sensor.Source, sensor.SourceSimulated, sensor.SourceSerial)
	}
	if s.Sensor.SerialBaud <= 0 {
		return fmt.Errorf("sensor.serial_baud must be positive, got %d", s.Sensor.SerialBaud)
	}
	if s.Sensor.ClimateFailureRate < 0 || s.Sensor.ClimateFailureRate > 1 {
		return fmt.Errorf("sensor.climate_failure_rate %v outside 0..1", s.Sensor.ClimateFailureRate)
	}
	if s.Subjects.Light == "" || s.Subjects.Brightness == "" || s.Subjects.Temperature == "" || s.Subjects.Humidity == "" {
		return fmt.Errorf("all four subjects must be set")
	}
	if s.Monitor.Port < 0 || s.Monitor.Port > 65535 {
		return fmt.Errorf("monitor.port %d out of range", s.Monitor.Port)
	}
	return nil
}

func SetDefaults(v *viper.Viper) {
	subjects := telemetry.DefaultSubjects()

	v.SetDefault("log_level", "info")

	v.SetDefault("network.name", "SMA ABBS Surakarta")
	v.SetDefault("network.passphrase", "")
	v.SetDefault("network.interface", "")
	v.SetDefault("network.backoff_ms", 500)
	v.SetDefault("network.max_attempts", 0)

	v.SetDefault("broker.host", "broker.emqx.io")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.username", "emqx")
	v.SetDefault("broker.password", "public")
	v.SetDefault("broker.client_id_prefix", "esp32-client-")
	v.SetDefault("broker.backoff_ms", 2000)
	v.SetDefault("broker.max_attempts", 0)
	v.SetDefault("broker.connect_timeout_ms", 10000)
	v.SetDefault("broker.auto_reconnect", false)
	v.SetDefault("broker.availability_topic", "")

	v.SetDefault("subjects.light", subjects.Light)
	v.SetDefault("subjects.brightness", subjects.Brightness)
	v.SetDefault("subjects.temperature", subjects.Temperature)
	v.SetDefault("subjects.humidity", subjects.Humidity)

	v.SetDefault("sampling.period_ms", 5000)

	v.SetDefault("sensor.source", sensor.SourceSimulated)
	v.SetDefault("sensor.serial_port", "/dev/ttyUSB0")
	v.SetDefault("sensor.serial_baud", 9600)
	v.SetDefault("sensor.stale_after_ms", 15000)
	v.SetDefault("sensor.seed", 0)
	v.SetDefault("sensor.climate_failure_rate", 0.0)

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.prefix", "homeassistant")
	v.SetDefault("discovery.node_id", "climate_node")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "climate-node-telemetry")

	v.SetDefault("monitor.port", 0)
}

func SetupConfig() {
	Config.SetEnvPrefix(ENV_PREFIX)
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	SetDefaults(Config)

	// config file
	Config.SetConfigName("climate_node")
	Config.AddConfigPath("/")
	Config.AddConfigPath("./")
	Config.AddConfigPath("./config")
	Config.AddConfigPath("/etc")
	Config.AddConfigPath("/climate_node")
	Config.AddConfigPath("/climate_node/config")

	// environment variables
	Config.AutomaticEnv()

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Warn().Msgf("unable to read config file, using defaults and environment: %v", err)
		return
	}
	Logger.Info().Msgf("using config file %s", Config.ConfigFileUsed())

	// settings are fixed for the life of the process
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Warn().Msgf("Config file changed: %v, restart to apply", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
	})
}

func LoadSettings() (Settings, error) {
	return LoadSettingsFrom(Config)
}

func LoadSettingsFrom(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("error unmarshaling settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
