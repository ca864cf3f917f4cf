// Package redis provides opens cache shared between beacon server replicas
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const totalKey = "opens|total"

// Cache counts beacon fetches in redis database
type Cache struct {
	Client *redis.Client
}

// New makes cache on top of provided redis client
func New(client *redis.Client) *Cache {
	return &Cache{Client: client}
}

// Ping tests connection to redis database
func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Close closes
func (c *Cache) Close() error {
	return c.Client.Close()
}

func key(id string) string {
	return fmt.Sprintf("opens|%s", id)
}

// Incr counts one beacon fetch for message id
func (c *Cache) Incr(ctx context.Context, id string) (err error) {
	err = c.Client.Incr(ctx, key(id)).Err()
	if err != nil {
		return
	}
	return c.Client.Incr(ctx, totalKey).Err()
}

// Opens returns cached opens counter for message id
func (c *Cache) Opens(ctx context.Context, id string) (int64, error) {
	val, err := c.Client.Get(ctx, key(id)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

// Total returns cached total of all beacon fetches
func (c *Cache) Total(ctx context.Context) (int64, error) {
	val, err := c.Client.Get(ctx, totalKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}
