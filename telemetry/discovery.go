package telemetry

import (
	"encoding/json"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type HAAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

type HADeviceSpec struct {
	Name        string   `json:"name"`
	Identifiers []string `json:"ids"`
}

type HAAdvertisement struct { //nolint:govet // struct layout follows JSON field order
	Availability      []HAAvailability `json:"availability,omitempty"`
	Device            HADeviceSpec     `json:"device"`
	UniqueID          string           `json:"uniq_id"`
	Name              string           `json:"name"`
	StateTopic        string           `json:"state_topic"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	DeviceClass       string           `json:"device_class,omitempty"`
	StateClass        string           `json:"state_class"`
	Qos               int              `json:"qos"`
}

func (ha HAAdvertisement) ToJson() (string, error) {
	data, err := json.Marshal(ha)
	if err != nil {
		return "", fmt.Errorf("marshal advertisement %s: %w", ha.UniqueID, err)
	}
	return string(data), nil
}

// Discovery describes this node to Home Assistant.
type Discovery struct {
	Prefix            string
	NodeID            string
	AvailabilityTopic string
	Subjects          Subjects
}

type sensorKind struct {
	key         string
	name        string
	topic       string
	unit        string
	deviceClass string
}

func (d Discovery) kinds() []sensorKind {
	return []sensorKind{
		{"ldr", "LDR raw", d.Subjects.Light, "", ""},
		{"brightness", "Brightness", d.Subjects.Brightness, "lx", "illuminance"},
		{"temperature", "Temperature", d.Subjects.Temperature, "°C", "temperature"},
		{"humidity", "Humidity", d.Subjects.Humidity, "%", "humidity"},
	}
}

func (d Discovery) ConfigTopic(key string) string {
	return d.Prefix + "/sensor/" + d.NodeID + "/" + key + "/config"
}

func (d Discovery) Advertisements() map[string]HAAdvertisement {
	out := make(map[string]HAAdvertisement)
	for _, k := range d.kinds() {
		ad := HAAdvertisement{
			Name:              k.name,
			UniqueID:          d.NodeID + "-" + k.key,
			StateTopic:        k.topic,
			UnitOfMeasurement: k.unit,
			DeviceClass:       k.deviceClass,
			StateClass:        "measurement",
			Device: HADeviceSpec{
				Name:        d.NodeID,
				Identifiers: []string{d.NodeID},
			},
		}
		if d.AvailabilityTopic != "" {
			ad.Availability = []HAAvailability{{
				Topic:               d.AvailabilityTopic,
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
			}}
		}
		out[d.ConfigTopic(k.key)] = ad
	}
	return out
}

// Advertise publishes every discovery document and waits for each token.
// Failures are logged and do not stop the remaining advertisements.
func (d Discovery) Advertise(client MQTT.Client, logger zerolog.Logger) {
	for topic, ad := range d.Advertisements() {
		payload, err := ad.ToJson()
		if err != nil {
			logger.Error().Msgf("Error building advertisement: %v", err)
			continue
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			logger.Warn().Msgf("Error publishing advertisement to %s: %v", topic, token.Error())
		}
	}
}
