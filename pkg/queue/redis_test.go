package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client)
}

func TestRedisQueue_PushThenPop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Push(ctx, "worker-queue", []byte("first"), []byte("second")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, err := q.BlockingPop(ctx, "worker-queue", time.Second)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("got %q, want %q (FIFO order)", got, "first")
	}

	got, err = q.BlockingPop(ctx, "worker-queue", time.Second)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestRedisQueue_BlockingPopTimeout(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	got, err := q.BlockingPop(ctx, "empty-queue", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if got != nil {
		t.Fatalf("got %q, want nil on timeout", got)
	}
}

func TestRedisQueue_PushEmptyIsNoop(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Push(context.Background(), "worker-queue"); err != nil {
		t.Fatalf("Push with no payloads: %v", err)
	}
}
