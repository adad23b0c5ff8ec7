package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the key-value store operations spec §6 requires, plus the
// connection-lifecycle hooks §4.9's backend disconnect policy drives.
// go-redis has no native reconnect-hook API (unlike nats.go's
// DisconnectErrHandler/ReconnectHandler used in
// venkytv-nats-heartbeat/cmd/agent/main.go); a background pinger replaces
// that missing hook surface with the same callback shape.
type Store struct {
	client *redis.Client

	mu              sync.Mutex
	connected       atomic.Bool
	onError         func(error)
	beforeReconnect func()
	afterReconnect  func()

	pingEvery time.Duration
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(client *redis.Client) *Store {
	s := &Store{
		client:    client,
		pingEvery: 2 * time.Second,
		stop:      make(chan struct{}),
	}
	s.connected.Store(true)
	return s
}

// OnError/BeforeReconnect/AfterReconnect register the hooks §6 names.
func (s *Store) OnError(fn func(error))      { s.mu.Lock(); s.onError = fn; s.mu.Unlock() }
func (s *Store) BeforeReconnect(fn func())   { s.mu.Lock(); s.beforeReconnect = fn; s.mu.Unlock() }
func (s *Store) AfterReconnect(fn func())    { s.mu.Lock(); s.afterReconnect = fn; s.mu.Unlock() }
func (s *Store) Connected() bool             { return s.connected.Load() }

// Watch starts the background connectivity monitor. Call once at startup.
func (s *Store) Watch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.checkConnection(ctx)
			}
		}
	}()
}

func (s *Store) Close() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Store) checkConnection(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := s.client.Ping(pingCtx).Err()
	wasConnected := s.connected.Load()
	if err != nil {
		if wasConnected {
			s.connected.Store(false)
			s.mu.Lock()
			onErr, before := s.onError, s.beforeReconnect
			s.mu.Unlock()
			if onErr != nil {
				onErr(fmt.Errorf("Store.checkConnection: %w", err))
			}
			if before != nil {
				before()
			}
		}
		return
	}
	if !wasConnected {
		s.connected.Store(true)
		s.mu.Lock()
		after := s.afterReconnect
		s.mu.Unlock()
		if after != nil {
			after()
		}
	}
}

// --- Primitive KV operations (spec §6) -------------------------------------

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Store.Get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("Store.Set: %w", err)
	}
	return nil
}

// SetNX reports whether the set happened (key was absent).
func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("Store.SetNX: %w", err)
	}
	return ok, nil
}

func (s *Store) GetSet(ctx context.Context, key, value string) (string, error) {
	prev, err := s.client.GetSet(ctx, key, value).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Store.GetSet: %w", err)
	}
	return prev, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("Store.Del: %w", err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, key string, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("Store.SAdd: %w", err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key string, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("Store.SRem: %w", err)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("Store.SMembers: %w", err)
	}
	return members, nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("Store.SCard: %w", err)
	}
	return n, nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("Store.HSet: %w", err)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Store.HGet: %w", err)
	}
	return v, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("Store.HDel: %w", err)
	}
	return nil
}

func (s *Store) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("Store.HSetNX: %w", err)
	}
	return ok, nil
}

func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("Store.HExists: %w", err)
	}
	return ok, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	v, err := s.client.HIncrBy(ctx, key, field, n).Result()
	if err != nil {
		return 0, fmt.Errorf("Store.HIncrBy: %w", err)
	}
	return v, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("Store.HGetAll: %w", err)
	}
	return m, nil
}

func (s *Store) RPush(ctx context.Context, key string, value string) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("Store.RPush: %w", err)
	}
	return nil
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("Store.LRange: %w", err)
	}
	return vals, nil
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("Store.LTrim: %w", err)
	}
	return nil
}

// IncrAggregateAndTotal linearizes the aggregator's "init counters then
// increment" sequence (spec §9 Open Question) into one pipeline so a
// concurrent aggregate for the same (name,issued) cannot double count.
func (s *Store) IncrAggregateAndTotal(ctx context.Context, key, severityField string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range []string{"ok", "warning", "critical", "unknown", "total"} {
			p.HSetNX(ctx, key, f, "0")
		}
		p.HIncrBy(ctx, key, severityField, 1)
		p.HIncrBy(ctx, key, "total", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("Store.IncrAggregateAndTotal: %w", err)
	}
	return nil
}
