package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *Redis {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedis(rdb, time.Hour)
}

func TestRedisSendDrain(t *testing.T) {
	ctx := context.Background()
	store := setupTestRedis(t)

	for _, payload := range []string{"one", "two"} {
		err := store.Send(ctx, Message{Sender: "scout", Recipient: "base", Payload: payload})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	msgs, err := store.Drain(ctx, "base")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Payload != "one" || msgs[1].Payload != "two" {
		t.Errorf("order broken: %q, %q", msgs[0].Payload, msgs[1].Payload)
	}
	if msgs[0].Sender != "scout" {
		t.Errorf("sender = %q, want scout", msgs[0].Sender)
	}

	msgs, err = store.Drain(ctx, "base")
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("second drain returned %d messages, want 0", len(msgs))
	}
}

func TestRedisBroadcast(t *testing.T) {
	ctx := context.Background()
	store := setupTestRedis(t)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := store.Register(ctx, name); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	delivered, err := store.Broadcast(ctx, Message{Sender: "beta", Payload: "low on coal"})
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}

	for _, name := range []string{"alpha", "gamma"} {
		box, err := store.Drain(ctx, name)
		if err != nil {
			t.Fatalf("drain %s failed: %v", name, err)
		}
		if len(box) != 1 || box[0].Payload != "low on coal" {
			t.Errorf("%s box = %+v, want exactly the broadcast copy", name, box)
		}
	}
	box, _ := store.Drain(ctx, "beta")
	if len(box) != 0 {
		t.Errorf("sender received own broadcast: %+v", box)
	}
}

func TestRedisDrainKeepsLateMessages(t *testing.T) {
	ctx := context.Background()
	store := setupTestRedis(t)

	if err := store.Send(ctx, Message{Sender: "scout", Recipient: "base", Payload: "early"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgs, err := store.Drain(ctx, "base")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Payload != "early" {
		t.Fatalf("first drain = %+v, want the early message", msgs)
	}

	// A message landing after one drain must survive into the next.
	if err := store.Send(ctx, Message{Sender: "scout", Recipient: "base", Payload: "late"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgs, err = store.Drain(ctx, "base")
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Payload != "late" {
		t.Errorf("second drain = %+v, want the late message", msgs)
	}
}

func TestRedisDrainDecodesForeignStrings(t *testing.T) {
	// Operator tooling may push plain strings straight into the list.
	ctx := context.Background()
	store := setupTestRedis(t)

	if err := store.rdb.RPush(ctx, boxKey("base"), "raw operator note").Err(); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}

	msgs, err := store.Drain(ctx, "base")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Type != TypeRaw || msgs[0].Payload != "raw operator note" {
		t.Errorf("message = %+v, want raw fallback", msgs[0])
	}
}

func TestRedisClear(t *testing.T) {
	ctx := context.Background()
	store := setupTestRedis(t)

	if err := store.Register(ctx, "alpha"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.Send(ctx, Message{Recipient: "alpha", Payload: "x"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	names, err := store.Recipients(ctx)
	if err != nil {
		t.Fatalf("recipients failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("recipients after clear = %v", names)
	}
	box, err := store.Drain(ctx, "alpha")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(box) != 0 {
		t.Errorf("box after clear = %+v", box)
	}
}
