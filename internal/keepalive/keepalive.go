// Package keepalive implements the keepalive consumer (spec §4.7): one
// queue subscription, JSON decode, and a client upsert. Grounded on the
// teacher's internal/health-check-consumer/consumer.go consumer loop
// (Subscribe → decode → repository write → ack).
package keepalive

import (
	"context"
	"encoding/json"
	"fmt"

	"eventserver/internal/broker"
	"eventserver/internal/model"
)

// Store is the subset of store.Store the keepalive consumer needs.
type Store interface {
	Set(ctx context.Context, key, value string) error
	SAdd(ctx context.Context, key, member string) error
}

type Consumer struct {
	queue *broker.Queue
	store Store
}

func New(queue *broker.Queue, store Store) *Consumer {
	return &Consumer{queue: queue, store: store}
}

// Start subscribes to the keepalives queue. The queue itself cancels any
// prior subscription before starting (spec §4.7).
func (c *Consumer) Start(ctx context.Context, onErr func(error)) {
	c.queue.Subscribe(ctx, c.handle, onErr)
}

func (c *Consumer) Stop() {
	c.queue.Unsubscribe()
}

func (c *Consumer) handle(ctx context.Context, key, value []byte) error {
	var client model.Client
	if err := json.Unmarshal(value, &client); err != nil {
		return fmt.Errorf("keepalive.Consumer: %w", err)
	}
	if err := c.store.Set(ctx, "client:"+client.Name, string(value)); err != nil {
		return fmt.Errorf("keepalive.Consumer: %w", err)
	}
	if err := c.store.SAdd(ctx, "clients", client.Name); err != nil {
		return fmt.Errorf("keepalive.Consumer: %w", err)
	}
	return nil
}
