package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings for the shared Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Manager owns the shared client. It is constructed once during bootstrap and
// handed to every component that needs the store; nothing reaches for a
// package-level singleton.
type Manager struct {
	client *redis.Client
}

func New(c Config) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Manager{client: rdb}, nil
}

// NewWithClient wraps an existing client; used by tests running against an
// in-process Redis.
func NewWithClient(client *redis.Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) Client() *redis.Client {
	return m.client
}

func (m *Manager) Close() error {
	if m != nil && m.client != nil {
		return m.client.Close()
	}
	return nil
}
