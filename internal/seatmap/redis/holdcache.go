package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client is the subset of redis.Client the hold cache needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// HoldCache mirrors active seat holds in Redis with a TTL matching the
// payment window. It is a cheap first line against contention; the seat map
// rows in Postgres stay authoritative.
type HoldCache struct {
	Client Client
}

func NewHoldCache(client Client) *HoldCache {
	return &HoldCache{Client: client}
}

func holdKey(showingID, seatID string) string {
	return fmt.Sprintf("seat_hold:%s:%s", showingID, seatID)
}

// AnyHeld reports which of the given seats currently carry a mirrored hold
// owned by a different booking.
func (c *HoldCache) AnyHeld(ctx context.Context, showingID string, seatIDs []string, bookingID string) ([]string, error) {
	var held []string
	for _, seatID := range seatIDs {
		val, err := c.Client.Get(ctx, holdKey(showingID, seatID)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		if val != bookingID {
			held = append(held, seatID)
		}
	}
	return held, nil
}

// MirrorHold records the hold for each seat with SetNX. A failure to mirror
// one seat undoes the others; callers treat errors as advisory.
func (c *HoldCache) MirrorHold(ctx context.Context, showingID string, seatIDs []string, bookingID string, ttl time.Duration) error {
	var mirrored []string
	for _, seatID := range seatIDs {
		ok, err := c.Client.SetNX(ctx, holdKey(showingID, seatID), bookingID, ttl).Result()
		if err != nil || !ok {
			for _, m := range mirrored {
				c.release(ctx, showingID, m, bookingID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("seat %s already mirrored by another booking", seatID)
		}
		mirrored = append(mirrored, seatID)
	}
	return nil
}

// Clear removes mirrored holds still owned by bookingID. Keys that expired or
// were taken over by a later booking are left untouched.
func (c *HoldCache) Clear(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	var firstErr error
	for _, seatID := range seatIDs {
		if err := c.release(ctx, showingID, seatID, bookingID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *HoldCache) release(ctx context.Context, showingID, seatID, bookingID string) error {
	key := holdKey(showingID, seatID)
	val, err := c.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == bookingID {
		_, err = c.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
