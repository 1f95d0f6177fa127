package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter publishes records as JSON messages keyed by measurement.
type KafkaWriter struct {
	writer *kafka.Writer
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (k *KafkaWriter) WritePoints(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", rec.Measurement, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Measurement),
			Value: value,
			Time:  rec.Time,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaWriter) Close() error {
	return k.writer.Close()
}

var _ Writer = (*KafkaWriter)(nil)
