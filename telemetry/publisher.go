// Package telemetry formats readings as text and hands them to the
// configured transports. Publishing is best effort: nothing is retried and
// no error reaches the caller.
package telemetry

import (
	"math"
	"strconv"

	"github.com/rs/zerolog"
)

// Subjects names the four channels a node publishes on.
type Subjects struct {
	Light       string `mapstructure:"light" json:"light"`
	Brightness  string `mapstructure:"brightness" json:"brightness"`
	Temperature string `mapstructure:"temperature" json:"temperature"`
	Humidity    string `mapstructure:"humidity" json:"humidity"`
}

func DefaultSubjects() Subjects {
	return Subjects{
		Light:       "emqx/ldr",
		Brightness:  "emqx/cahayas",
		Temperature: "emqx/suhus",
		Humidity:    "emqx/humds",
	}
}

type Envelope struct {
	Subject string
	Value   string
}

// Transport delivers one envelope without waiting for acknowledgement.
type Transport interface {
	Send(e Envelope)
	Name() string
}

type Publisher struct {
	transports []Transport
	logger     zerolog.Logger
}

func NewPublisher(logger zerolog.Logger, transports ...Transport) *Publisher {
	return &Publisher{transports: transports, logger: logger}
}

func (p *Publisher) PublishInt(subject string, v int) {
	p.publish(Envelope{Subject: subject, Value: FormatInt(v)})
}

func (p *Publisher) PublishFloat(subject string, v float64) {
	p.publish(Envelope{Subject: subject, Value: FormatFloat(v)})
}

func (p *Publisher) publish(e Envelope) {
	p.logger.Trace().Msgf("publish %s = %s", e.Subject, e.Value)
	for _, t := range p.transports {
		t.Send(e)
	}
}

func FormatInt(v int) string {
	return strconv.Itoa(v)
}

// FormatFloat renders two decimal places, and nan, inf or -inf for the
// non-finite values.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
