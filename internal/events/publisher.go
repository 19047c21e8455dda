// Package events publishes fire-and-forget domain events (document.ingested,
// store.drift) to a Kafka topic. Publication is advisory: a broker outage is
// logged and never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/logging"
)

// Publisher writes JSON-encoded events to a single Kafka topic. A nil
// Publisher is valid and drops every event, so callers never need to guard.
type Publisher struct {
	writer *kafka.Writer
	log    logging.Logger
}

// NewPublisher constructs a Publisher when cfg.Enabled, else returns nil.
func NewPublisher(cfg config.KafkaConfig, log logging.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return nil
	}
	if log == nil {
		log = logging.Noop{}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log: log,
	}
}

// Publish encodes payload and writes it keyed by eventType in a background
// goroutine with its own timeout, so a slow broker never stalls the caller.
func (p *Publisher) Publish(eventType string, payload map[string]any) {
	if p == nil || p.writer == nil {
		return
	}
	body := map[string]any{"event": eventType, "ts": time.Now().UnixMilli()}
	for k, v := range payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		p.log.Error("events.encode_failed", map[string]any{"event": eventType, "error": err.Error()})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(eventType), Value: data}); err != nil {
			p.log.Error("events.publish_failed", map[string]any{"event": eventType, "error": err.Error()})
		}
	}()
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
