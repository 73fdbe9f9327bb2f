package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// KafkaBatchTimeout caps how long a partial batch waits before it is flushed.
	KafkaBatchTimeout = 10 * time.Millisecond
	// KafkaPublishTimeout bounds the synchronous part of a publish, the
	// partition metadata lookup.
	KafkaPublishTimeout = 2 * time.Second
)

// KafkaSink writes events to a topic keyed by order id. Writes are async;
// delivery failures are logged from the completion callback.
type KafkaSink struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	Timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string, l *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           KafkaBatchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Logger:                 zap.NewStdLog(l.With(zap.String("kafka_component", "events"))),
		ErrorLogger:            zap.NewStdLog(l.With(zap.String("kafka_component", "events"))),
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			l.Error("failed to produce events", zap.Int("count", len(msgs)), zap.Error(err))
		}
	}
	l.Info("kafka event sink initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &KafkaSink{writer: w, logger: l, Timeout: KafkaPublishTimeout}
}

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(e.OrderID), Value: value}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to produce event", zap.String("event_id", e.ID), zap.Error(err))
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
