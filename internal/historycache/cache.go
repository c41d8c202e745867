// Package historycache keeps the newest history page of each floor in Redis
// (cache-aside). Pages are stored under a per-floor generation; writers bump
// the generation after every send or delete, so a page built from rows read
// before that write lands under a key no later reader looks at.
package historycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pagePrefix = "floorchat:history:page:"
	genPrefix  = "floorchat:history:gen:"
)

type Cache struct {
	rdc redis.Cmdable
	ttl time.Duration
}

// New returns a cache; a zero ttl disables caching entirely.
func New(rdc redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdc: rdc, ttl: ttl}
}

func (c *Cache) enabled() bool { return c != nil && c.rdc != nil && c.ttl > 0 }

func pageKey(floorID string, gen int64) string {
	return pagePrefix + floorID + ":" + strconv.FormatInt(gen, 10)
}

// Generation returns the current generation of floorID. Read it before
// querying the store and pass it to Get and Set.
func (c *Cache) Generation(ctx context.Context, floorID string) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	gen, err := c.rdc.Get(ctx, genPrefix+floorID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("history cache generation: %w", err)
	}
	return gen, nil
}

// Get decodes the page cached for floorID at gen into dest and reports a hit.
func (c *Cache) Get(ctx context.Context, floorID string, gen int64, dest any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	data, err := c.rdc.Get(ctx, pageKey(floorID, gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("history cache get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("history cache decode: %w", err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, floorID string, gen int64, page any) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("history cache encode: %w", err)
	}
	if err := c.rdc.Set(ctx, pageKey(floorID, gen), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("history cache set: %w", err)
	}
	return nil
}

// Invalidate moves floorID to a new generation. Pages of older generations
// are never read again and expire with their ttl.
func (c *Cache) Invalidate(ctx context.Context, floorID string) error {
	if !c.enabled() {
		return nil
	}
	if err := c.rdc.Incr(ctx, genPrefix+floorID).Err(); err != nil {
		return fmt.Errorf("history cache bump: %w", err)
	}
	return nil
}
