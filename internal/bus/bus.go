// Package bus implements the optional Kafka front door that feeds raw
// messages into GroupDispatcher when the synchronous HTTP path isn't the
// ingestion mechanism of choice. Grounded on the teacher's
// orchestrator.StartKafkaConsumer worker-pool pattern (bounded job channel,
// commit-after-handle, DLQ on exhausted retries), adapted here to hand
// messages to GroupDispatcher instead of running a command runner directly.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"memoryservice/internal/config"
	"memoryservice/internal/dispatcher"
	"memoryservice/internal/model"
)

// Consumer reads RawMessage envelopes off a Kafka topic and hands each to a
// Dispatcher, committing only after the dispatcher has accepted it (or after
// retries are exhausted and the message is dead-lettered).
type Consumer struct {
	reader     *kafka.Reader
	dlqWriter  *kafka.Writer
	dispatcher *dispatcher.Dispatcher
	workers    int
}

// New builds a Consumer from BusConfig. Call Run to start consuming; the
// caller controls lifetime via the context passed to Run.
func New(cfg config.BusConfig, d *dispatcher.Dispatcher) *Consumer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.CommandsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Consumer{reader: reader, dlqWriter: dlqWriter, dispatcher: d, workers: workers}
}

// Run consumes until ctx is canceled, fanning fetched messages out across a
// bounded worker pool and committing each offset once it has been handed to
// the dispatcher (with retries) or dead-lettered.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Printf("bus: error closing kafka reader: %v", err)
		}
	}()

	jobs := make(chan kafka.Message, c.workers*4)
	done := make(chan struct{})
	for i := 0; i < c.workers; i++ {
		go func() {
			for msg := range jobs {
				c.handle(ctx, msg)
			}
			done <- struct{}{}
		}()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			log.Printf("bus: fetch error: %v", err)
			continue
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
		}
	}
	close(jobs)
	for i := 0; i < c.workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var msg model.RawMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		log.Printf("bus: malformed message, dead-lettering: %v", err)
		c.deadLetter(ctx, m, err)
		c.commit(ctx, m)
		return
	}

	const maxAttempts = 5
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.dispatcher.Deliver(msg) {
			c.commit(ctx, m)
			return
		}
		if attempt == maxAttempts {
			c.deadLetter(ctx, m, errors.New("dispatcher at capacity after retries"))
			c.commit(ctx, m)
			return
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		backoff *= 2
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Printf("bus: commit failed (topic=%s partition=%d offset=%d): %v", m.Topic, m.Partition, m.Offset, err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	payload, _ := json.Marshal(map[string]string{
		"error":   cause.Error(),
		"message": string(m.Value),
	})
	if err := c.dlqWriter.WriteMessages(ctx, kafka.Message{
		Topic: m.Topic + ".dlq",
		Key:   m.Key,
		Value: payload,
	}); err != nil {
		log.Printf("bus: failed to publish dlq message: %v", err)
	}
}

// Close releases the DLQ writer. The reader is closed by Run on exit.
func (c *Consumer) Close() error {
	return c.dlqWriter.Close()
}
