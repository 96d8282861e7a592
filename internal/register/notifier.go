package register

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published on a branch channel.
const (
	EventSessionOpened    = "session.opened"
	EventSessionClosed    = "session.closed"
	EventMovementRecorded = "movement.recorded"
)

// Event is the payload broadcast to branch listeners.
type Event struct {
	Type       string    `json:"type"`
	BranchID   int64     `json:"branch_id"`
	SessionID  int64     `json:"session_id"`
	Amount     string    `json:"amount,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier broadcasts register events after they commit.
type Notifier interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

// Publish implements Notifier.
func (NoopNotifier) Publish(context.Context, Event) error { return nil }

// BranchChannel names the pub/sub channel for a branch.
func BranchChannel(branchID int64) string {
	return fmt.Sprintf("register:branch:%d", branchID)
}

// RedisNotifier publishes events through Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier constructs a notifier backed by client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish encodes evt and sends it on the branch channel.
func (n *RedisNotifier) Publish(ctx context.Context, evt Event) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, BranchChannel(evt.BranchID), payload).Err()
}

// Subscribe streams decoded events for a branch until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, branchID int64) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, BranchChannel(branchID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
