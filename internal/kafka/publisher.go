package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/segmentio/kafka-go"
)

// EventPublisher routes envelopes to one Producer per topic and stamps the
// type and version headers consumers filter on.
type EventPublisher struct {
	producers map[string]*Producer
}

func NewEventPublisher(producers map[string]*Producer) *EventPublisher {
	return &EventPublisher{producers: producers}
}

func (p *EventPublisher) Publish(_ context.Context, topic string, key []byte, env canteen.Envelope) error {
	prod, ok := p.producers[topic]
	if !ok {
		return fmt.Errorf("no producer for topic %s", topic)
	}
	prod.Publish(key, MustMarshal(env), Headers(env)...)
	return nil
}

func Headers(env canteen.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}

// EventType reads the x-event-type header without decoding the value.
func EventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "x-event-type" {
			return string(h.Value)
		}
	}
	return ""
}
