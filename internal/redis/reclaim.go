package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const reclaimBatch = 100

// reclaimAbandoned moves entries idle for longer than claimIdle into this consumer's
// pending list, then drops consumers left with nothing pending
func (c *Client) reclaimAbandoned(ctx context.Context) error {
	if c.claimIdle <= 0 {
		return nil
	}

	start := "0-0"
	claimed := 0
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimIdle,
			Start:    start,
			Count:    reclaimBatch,
		}).Result()
		if err != nil {
			return fmt.Errorf("xautoclaim failed: %w", err)
		}
		claimed += len(msgs)
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}

	if claimed > 0 {
		c.log.Info("Claimed %d idle entries on stream %s", claimed, c.stream)
	}
	return c.cleanupDeadConsumers(ctx)
}

// cleanupDeadConsumers removes idle consumers of the group that hold no pending entries
func (c *Client) cleanupDeadConsumers(ctx context.Context) error {
	consumers, err := c.rdb.XInfoConsumers(ctx, c.stream, c.group).Result()
	if err != nil {
		return fmt.Errorf("failed to get consumers info: %w", err)
	}

	for _, consumer := range consumers {
		if consumer.Name == c.consumer || consumer.Pending > 0 || consumer.Idle <= c.claimIdle {
			continue
		}
		if err := c.rdb.XGroupDelConsumer(ctx, c.stream, c.group, consumer.Name).Err(); err != nil {
			c.log.Warn("Failed to delete consumer %s from stream %s: %v", consumer.Name, c.stream, err)
			continue
		}
		c.log.Info("Removed dead consumer %s from stream %s (idle for %s)", consumer.Name, c.stream, consumer.Idle)
	}
	return nil
}
