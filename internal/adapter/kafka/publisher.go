// Package kafka publishes geocode outcomes to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ham-neighbors/internal/config"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// Publisher produces geocode events to the results topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured results topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishResults serializes and publishes the events in a single
// WriteMessages call. Events are keyed by address hash.
func (p *Publisher) PublishResults(ctx context.Context, events []domain.GeocodeEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write geocode events: %w", err)
	}
	p.logger.Debug("published geocode events", "count", len(msgs), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a GeocodeEvent into a Kafka message.
func serializeToMessage(event domain.GeocodeEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geocode event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Hash),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "status", Value: []byte(event.Status)},
			{Key: "geocoded_at", Value: []byte(event.GeocodedAt.Format(time.RFC3339))},
		},
	}, nil
}
