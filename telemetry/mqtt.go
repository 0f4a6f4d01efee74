package telemetry

import (
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTTransport publishes at QoS 0, not retained. The returned token is
// only inspected once it has already completed.
type MQTTTransport struct {
	client func() MQTT.Client
	logger zerolog.Logger
}

// NewMQTTTransport takes a getter so the transport always uses the session
// manager's current client.
func NewMQTTTransport(client func() MQTT.Client, logger zerolog.Logger) *MQTTTransport {
	return &MQTTTransport{client: client, logger: logger}
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) Send(e Envelope) {
	c := t.client()
	if c == nil {
		t.logger.Debug().Msgf("no mqtt client, dropping %s", e.Subject)
		return
	}
	token := c.Publish(e.Subject, 0, false, e.Value)
	select {
	case <-token.Done():
		if token.Error() != nil {
			t.logger.Debug().Msgf("publish to %s failed: %v", e.Subject, token.Error())
		}
	default:
	}
}
