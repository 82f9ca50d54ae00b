package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink writes events keyed by brand so one brand's events stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	zap.L().Info("kafka event sink initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, event models.ImportEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(event.Brand),
		Value:   data,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
