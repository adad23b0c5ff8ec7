// Package broker adapts the teacher's kafka-go usage
// (pkg/infra/kafka.go, internal/health-checker/consumer.go,
// internal/scheduler/scheduler/scheduler.go) into the AMQP-style broker
// spec §6 describes: durable acknowledged queues, and fanout/direct
// exchanges for outbound publishing. Writers go through
// infra.NewKafkaWriter, same as the teacher's own services; the consumer
// side builds its own kafka.Reader because the prefetch-one semantics
// (spec §5/§6) need reader config infra.NewKafkaReader doesn't set.
// kafka-go is the only message-broker client anywhere in the retrieved
// pack, so a thin Exchange abstraction is layered on top of its
// topic/consumer-group primitives rather than reaching for a client
// nobody in the pack imports (see DESIGN.md).
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"eventserver/pkg/infra"
)

// Queue is a durable, acknowledged consumption point — spec's "keepalives"
// and "results" queues. One message at a time (prefetch = 1, spec §5/§6).
type Queue struct {
	brokers []string
	groupID string
	topic   string

	mu     sync.Mutex
	reader *kafka.Reader
	cancel context.CancelFunc
}

func NewQueue(brokers []string, groupID, topic string) *Queue {
	return &Queue{brokers: brokers, groupID: groupID, topic: topic}
}

// MessageHandler processes one message; a returned error is reported
// through Subscribe's onErr, and the message is committed either way so a
// failing message is not redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Subscribe cancels any existing consumer on this queue (spec §4.7) before
// starting a fresh one, with per-message acknowledgement via CommitMessages
// exactly like the teacher's consumer.Start goroutines.
func (q *Queue) Subscribe(ctx context.Context, handler MessageHandler, onErr func(error)) {
	q.Unsubscribe()

	subCtx, cancel := context.WithCancel(ctx)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		GroupID:  q.groupID,
		Topic:    q.topic,
		MaxWait:  0,
		MinBytes: 1,
		MaxBytes: 10e6,
		// prefetch = 1: fetch and fully process one message before the next.
		QueueCapacity: 1,
	})

	q.mu.Lock()
	q.reader = reader
	q.cancel = cancel
	q.mu.Unlock()

	go func() {
		for {
			m, err := reader.FetchMessage(subCtx)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return
				}
				if onErr != nil {
					onErr(fmt.Errorf("Queue.Subscribe(%s): %w", q.topic, err))
				}
				continue
			}
			if herr := handler(subCtx, m.Key, m.Value); herr != nil {
				if onErr != nil {
					onErr(fmt.Errorf("Queue.Subscribe(%s): handler: %w", q.topic, herr))
				}
				// Malformed payload / orphan handling still acks so a
				// poison message can't loop forever (spec §7 kind 6).
			}
			if cerr := reader.CommitMessages(subCtx, m); cerr != nil && !errors.Is(cerr, context.Canceled) {
				if onErr != nil {
					onErr(fmt.Errorf("Queue.Subscribe(%s): commit: %w", q.topic, cerr))
				}
			}
		}
	}()
}

func (q *Queue) Unsubscribe() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	if q.reader != nil {
		q.reader.Close()
		q.reader = nil
	}
}

// Publisher writes messages directly onto a named queue/topic, used by the
// watchdog (spec §4.10) to push synthetic results back through the same
// results queue the processor consumes.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: infra.NewKafkaWriter(brokers, topic)}
}

func (p *Publisher) Publish(ctx context.Context, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("Publisher.Publish: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }

// Exchange generalizes kafka-go's single-topic Writer into the
// fanout/direct exchange semantics handler `amqp` targets and the
// publisher scheduler's subscriber fanout both need (spec §4.5, §4.8).
// A fanout exchange publishes to every topic named in Bindings; a direct
// exchange (used by the `amqp` handler type) publishes to exactly the
// named exchange's own topic, tagging the message with the declared type
// as a header since kafka has no native exchange-kind concept.
type Exchange struct {
	brokers []string
	kind    string

	mu       sync.Mutex
	bindings map[string]*kafka.Writer
}

func NewExchange(brokers []string, kind string) *Exchange {
	if kind == "" {
		kind = "direct"
	}
	return &Exchange{brokers: brokers, kind: kind, bindings: map[string]*kafka.Writer{}}
}

func (e *Exchange) writerFor(topic string) *kafka.Writer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.bindings[topic]; ok {
		return w
	}
	w := infra.NewKafkaWriter(e.brokers, topic)
	e.bindings[topic] = w
	return w
}

// PublishFanout writes value to every subscriber topic (spec §4.8: fanout
// exchange named after each unique check.subscribers entry).
func (e *Exchange) PublishFanout(ctx context.Context, subscribers []string, key, value []byte) error {
	seen := map[string]bool{}
	for _, sub := range subscribers {
		if sub == "" || seen[sub] {
			continue
		}
		seen[sub] = true
		w := e.writerFor(sub)
		if err := w.WriteMessages(ctx, kafka.Message{
			Key:     key,
			Value:   value,
			Headers: []kafka.Header{{Key: "exchange-type", Value: []byte("fanout")}},
		}); err != nil {
			return fmt.Errorf("Exchange.PublishFanout(%s): %w", sub, err)
		}
	}
	return nil
}

// PublishDirect writes to a single named exchange topic — the `amqp`
// handler transport (spec §4.5).
func (e *Exchange) PublishDirect(ctx context.Context, name, kind string, key, value []byte) error {
	if kind == "" {
		kind = "direct"
	}
	w := e.writerFor(name)
	if err := w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Headers: []kafka.Header{{Key: "exchange-type", Value: []byte(kind)}},
	}); err != nil {
		return fmt.Errorf("Exchange.PublishDirect(%s): %w", name, err)
	}
	return nil
}

func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, w := range e.bindings {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
