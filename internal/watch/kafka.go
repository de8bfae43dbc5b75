package watch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// DefaultKafkaGroupID is the consumer group daemons join.
const DefaultKafkaGroupID = "islandd"

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) (*kafka.Reader, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	if groupID == "" {
		groupID = DefaultKafkaGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}), nil
}

// KafkaConsumer triggers syncs from notifications on a Kafka topic. The
// offset of a message is committed once its sync has been scheduled;
// malformed messages are committed and dropped so they cannot block the
// partition.
type KafkaConsumer struct {
	reader MessageReader
	runner *Runner
	logger *logging.Logger
	done   chan struct{}
}

// NewKafkaConsumer creates a consumer reading from reader.
func NewKafkaConsumer(reader MessageReader, runner *Runner, logger *logging.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, runner: runner, logger: logger.Named("kafka")}
}

// Start consumes in the background until ctx is cancelled or Close is
// called.
func (c *KafkaConsumer) Start(ctx context.Context) {
	c.done = make(chan struct{})
	go c.consume(ctx)
}

func (c *KafkaConsumer) consume(ctx context.Context) {
	defer close(c.done)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// A closed reader returns io.EOF.
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.logger.Error(ctx, "reading from kafka failed", zap.Error(err))
			}
			return
		}

		n, err := ParseNotification(m.Value)
		if err != nil {
			c.logger.Warn(ctx, "dropping notification",
				zap.Int64("offset", m.Offset),
				zap.Int("partition", m.Partition),
				zap.Error(err))
		} else {
			c.runner.Trigger(ctx, n.Request())
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Warn(ctx, "committing kafka offset failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// Close closes the reader and waits for the consume loop to exit.
func (c *KafkaConsumer) Close() error {
	err := c.reader.Close()
	if c.done != nil {
		<-c.done
	}
	return err
}
