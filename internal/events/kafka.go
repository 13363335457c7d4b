package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher mirrors message lifecycle events onto a durable topic
// for downstream consumers (search indexing, notification fan-out).
// A nil publisher is valid and drops everything.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.SugaredLogger) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &KafkaPublisher{writer: w, log: log}
}

// Publish keys events by chat so a chat's stream stays ordered within a
// partition. Failures are logged, never propagated: the canonical write
// already happened and the bus already delivered locally.
func (p *KafkaPublisher) Publish(ctx context.Context, ev MessageEvent) {
	if p == nil || p.writer == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorw("marshal message event", "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.ChatID),
		Value: b,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("publish message event", "kind", ev.Kind, "chat_id", ev.ChatID, "err", err)
	}
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
