package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const recipientsKey = "mailbox:recipients"

// Redis stores boxes as per-recipient lists so surfaces outside the
// simulation process can inject messages. Keys expire after ttl to keep
// abandoned episodes from accumulating.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*Redis)(nil)

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func boxKey(recipient string) string {
	return fmt.Sprintf("mailbox:%s", recipient)
}

func (r *Redis) Register(ctx context.Context, name string) error {
	if err := r.rdb.SAdd(ctx, recipientsKey, name).Err(); err != nil {
		return fmt.Errorf("failed to register recipient: %w", err)
	}
	return nil
}

func (r *Redis) Recipients(ctx context.Context) ([]string, error) {
	names, err := r.rdb.SMembers(ctx, recipientsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Redis) Send(ctx context.Context, msg Message) error {
	msg = prepare(msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	key := boxKey(msg.Recipient)
	if err := r.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	if r.ttl > 0 {
		if err := r.rdb.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh mailbox ttl: %w", err)
		}
	}
	return nil
}

func (r *Redis) Broadcast(ctx context.Context, msg Message) (int, error) {
	msg = prepare(msg)
	msg.Broadcast = true

	recipients, err := r.Recipients(ctx)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, name := range recipients {
		if name == msg.Sender {
			continue
		}
		dup := msg
		dup.Recipient = name
		if err := r.Send(ctx, dup); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Drain reads and deletes the box in one MULTI/EXEC. A message injected
// mid-drain is either part of this drain or kept whole for the next
// one, never deleted unread.
func (r *Redis) Drain(ctx context.Context, recipient string) ([]Message, error) {
	key := boxKey(recipient)

	var rangeCmd *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to drain mailbox: %w", err)
	}
	return decodeAll(rangeCmd.Val()), nil
}

func (r *Redis) Peek(ctx context.Context, recipient string) ([]Message, error) {
	raw, err := r.rdb.LRange(ctx, boxKey(recipient), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to peek mailbox: %w", err)
	}
	return decodeAll(raw), nil
}

func (r *Redis) Clear(ctx context.Context) error {
	recipients, err := r.Recipients(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(recipients)+1)
	for _, name := range recipients {
		keys = append(keys, boxKey(name))
	}
	keys = append(keys, recipientsKey)
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear mailboxes: %w", err)
	}
	return nil
}

func decodeAll(raw []string) []Message {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		out = append(out, DecodeEnvelope([]byte(item)))
	}
	return out
}
