package kafkautil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ErrUnknownTopic is returned when the broker does not know the topic and
// auto creation is disabled.
var ErrUnknownTopic = errors.New("kafka topic does not exist")

type Producer[T any] struct {
	writer messageWriter
	topic  string
}

func NewProducer[T any](cfg Config) (*Producer[T], error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Producer[T]{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
	}, nil
}

// Write publishes v under key.
func (p *Producer[T]) Write(ctx context.Context, key []byte, v T) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, p.topic)
	}
	return err
}

func (p *Producer[T]) Close() error {
	return p.writer.Close()
}
