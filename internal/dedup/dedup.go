// Package dedup suppresses duplicate deliveries of the same inbound event.
// The queue and the webhook both deliver at-least-once; without a seen-set
// a redelivered event would forward the same message twice.
package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "lampions:seen:"

// Redis remembers processed message ids in a shared Redis so all relay
// instances agree on what was already handled. Checking and marking are
// separate steps: an id is only marked after the message was relayed, so a
// failed message stays eligible for redelivery. The window between check
// and mark is uncovered; deduplication is best-effort.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a deduper that remembers ids for the given duration.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Seen reports whether the message id was marked before. A Redis failure
// fails open: the id is reported as unseen, since a broken deduper must
// never stop mail flow. A nil receiver also reports unseen.
func (d *Redis) Seen(ctx context.Context, messageID string) bool {
	if d == nil {
		return false
	}

	n, err := d.client.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		logrus.WithError(err).WithField("messageId", messageID).Warn(
			"Dedup check failed; processing message anyway")
		return false
	}

	return n > 0
}

// Mark remembers the message id for the configured duration.
func (d *Redis) Mark(ctx context.Context, messageID string) {
	if d == nil {
		return
	}

	if err := d.client.Set(ctx, keyPrefix+messageID, 1, d.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("messageId", messageID).Warn("Failed to mark message as seen")
	}
}
