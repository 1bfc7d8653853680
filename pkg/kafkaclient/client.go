package kafkaclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaReader defines the interface for a Kafka message reader.
// This allows for easy mocking in unit tests.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer manages the Kafka consumer and its message loop.
// Offsets are never committed automatically; callers commit with
// CommitOffset once the messages have been processed.
type KafkaConsumer struct {
	reader KafkaReader
	logger zerolog.Logger
	// a channel to signal a graceful shutdown.
	doneChan chan struct{}
	stopOnce sync.Once
	// a wait group to ensure all goroutines have exited before the program terminates.
	wg sync.WaitGroup
	// fetched messages, handed to the caller.
	messageChan chan kafka.Message
	cancel      context.CancelFunc
	backoff     time.Duration
}

// NewKafkaConsumer creates a consumer for topic in the given consumer group.
func NewKafkaConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
		// Offsets are committed explicitly after a successful invocation.
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
	})
	return newConsumer(reader, logger)
}

func newConsumer(reader KafkaReader, logger zerolog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:      reader,
		logger:      logger,
		doneChan:    make(chan struct{}),
		messageChan: make(chan kafka.Message),
		backoff:     time.Second,
	}
}

// Messages returns the channel of fetched messages. It is closed when the
// consumer stops.
func (kc *KafkaConsumer) Messages() <-chan kafka.Message {
	return kc.messageChan
}

// CommitOffset commits the offsets of msgs.
func (kc *KafkaConsumer) CommitOffset(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	kc.logger.Debug().Str("topic", last.Topic).Int("partition", last.Partition).Int64("offset", last.Offset).Int("messages", len(msgs)).Msg("committing offsets")
	return kc.reader.CommitMessages(ctx, msgs...)
}

// StartConsuming begins the Kafka message consumption loop in a separate goroutine.
func (kc *KafkaConsumer) StartConsuming(ctx context.Context) {
	// Stop cancels ctx so a fetch blocked on an idle topic returns.
	ctx, kc.cancel = context.WithCancel(ctx)
	kc.wg.Add(1)
	go func() {
		defer kc.wg.Done()
		defer close(kc.messageChan)

		kc.logger.Info().Msg("starting Kafka consumer loop")

		for {
			select {
			case <-ctx.Done():
				kc.logger.Info().Msg("context canceled, stopping consumer loop")
				return
			case <-kc.doneChan:
				kc.logger.Info().Msg("shutdown signal received, stopping consumer loop")
				return
			default:
			}

			msg, err := kc.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				kc.logger.Warn().Err(err).Msg("error reading message")
				// Back off to prevent a tight error loop.
				select {
				case <-time.After(kc.backoff):
				case <-ctx.Done():
					return
				case <-kc.doneChan:
					return
				}
				continue
			}

			select {
			case kc.messageChan <- msg:
				kc.logger.Debug().Str("topic", msg.Topic).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("message received")
			case <-ctx.Done():
				kc.logger.Info().Msg("context canceled, stopping consumer before sending message")
				return
			case <-kc.doneChan:
				kc.logger.Info().Msg("shutdown signal received, stopping consumer before sending message")
				return
			}
		}
	}()
}

// Stop gracefully shuts down the Kafka consumer. It is safe to call more than once.
func (kc *KafkaConsumer) Stop() {
	kc.stopOnce.Do(func() {
		kc.logger.Info().Msg("stopping Kafka consumer")
		close(kc.doneChan)
		if kc.cancel != nil {
			kc.cancel()
		}
		kc.wg.Wait()
		if err := kc.reader.Close(); err != nil {
			kc.logger.Warn().Err(err).Msg("failed to close Kafka reader")
		}
	})
}
