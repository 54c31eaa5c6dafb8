package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisWriter appends JSON-encoded products to a Redis list.
type RedisWriter struct {
	client listPusher
	key    string
	closer func() error

	mu      sync.Mutex
	written int
}

// NewRedisWriter connects to addr and appends to key.
func NewRedisWriter(ctx context.Context, addr, key string) (*RedisWriter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	w := newRedisWriter(client, key)
	w.closer = client.Close
	return w, nil
}

func newRedisWriter(client listPusher, key string) *RedisWriter {
	return &RedisWriter{client: client, key: key}
}

// Write pushes the whole batch with a single RPUSH so it lands contiguously.
func (w *RedisWriter) Write(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(products))
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode product: %w", err)
		}
		values = append(values, data)
	}
	if err := w.client.RPush(ctx, w.key, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", w.key, err)
	}

	w.mu.Lock()
	w.written += len(products)
	w.mu.Unlock()
	return nil
}

// Close closes the client connection.
func (w *RedisWriter) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer()
}

// Validate reports an error when nothing was pushed.
func (w *RedisWriter) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written == 0 {
		return fmt.Errorf("redis: no products pushed to %s", w.key)
	}
	return nil
}
