// Package notifications delivers payout status changes to interested parties.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"finsys/internal/models"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

// EventStatusChanged is the type of every event published here.
const EventStatusChanged = "payout.status_changed"

// Notifier delivers one status change. Implementations must be safe for
// concurrent use; callers treat failures as best-effort.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, change models.StatusChange) error
}

// Event is the wire form of a status change.
type Event struct {
	ID   string `json:"event_id"`
	Type string `json:"type"`
	models.StatusChange
}

// NewEvent wraps change with a fresh event id.
func NewEvent(change models.StatusChange) Event {
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now().UTC()
	}
	return Event{ID: uuid.NewString(), Type: EventStatusChanged, StatusChange: change}
}

// RedisNotifier publishes events on the recipient's pub/sub channel.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a notifier; a nil client makes it a no-op.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// Name implements Notifier.
func (n *RedisNotifier) Name() string { return "redis" }

// Notify publishes change to UserChannel(change.UserID).
func (n *RedisNotifier) Notify(ctx context.Context, change models.StatusChange) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(NewEvent(change))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, UserChannel(change.UserID), payload).Err()
}

// UserChannel derives the Redis channel name for a payout recipient.
func UserChannel(userID int64) string {
	return "payouts:user:" + strconv.FormatInt(userID, 10)
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Name implements Notifier.
func (f Fanout) Name() string { return "fanout" }

// Notify calls each notifier in order; one failure does not skip the rest.
func (f Fanout) Notify(ctx context.Context, change models.StatusChange) error {
	var result *multierror.Error
	for _, n := range f {
		if err := n.Notify(ctx, change); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
