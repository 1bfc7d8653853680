package kafkaclient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the Publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes keyed messages to a single topic.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger zerolog.Logger
}

// NewPublisher returns a Publisher for topic. Messages with the same key land
// on the same partition.
func NewPublisher(brokers []string, topic string, logger zerolog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish writes one message with the given key, value and headers.
func (p *Publisher) Publish(ctx context.Context, key string, value []byte, headers map[string]string) error {
	msg := kafka.Message{Key: []byte(key), Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkaclient: publish to %s: %w", p.topic, err)
	}
	p.logger.Debug().Str("topic", p.topic).Str("key", key).Msg("message published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
