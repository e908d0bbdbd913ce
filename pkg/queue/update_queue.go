// Package queue provides the durable update queue between the webhook relay
// and the worker, built on a Redis stream with a consumer group.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Handler processes one raw update body drained from the stream. A returned
// error means the body could not be handled; the message is still acked.
// Redelivery only covers messages whose consumer died before acking.
type Handler func(ctx context.Context, body string) error

// UpdateQueue relays opaque update payload strings at-least-once.
type UpdateQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

// Config configures the queue. Zero values fall back to sane defaults.
type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	Block      time.Duration
	ClaimIdle  time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// New validates the config and builds the queue client.
func New(cfg Config) (*UpdateQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &UpdateQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish appends one raw update body to the stream.
func (q *UpdateQueue) Publish(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("empty update body")
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"body": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Start launches consumer goroutines that drain the stream until ctx ends.
func (q *UpdateQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Close releases the underlying Redis client.
func (q *UpdateQueue) Close() error {
	return q.client.Close()
}

// ensureGroup creates the consumer group from the start of the stream, so
// entries published before the first consumer ever started are still seen.
func (q *UpdateQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *UpdateQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *UpdateQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// handleMessage runs the handler and always acks: a body the handler cannot
// process will not be any more processable on a redelivery, so it is logged
// and dropped rather than poisoning the group's pending list.
func (q *UpdateQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	body, _ := msg.Values["body"].(string)
	if body == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, body); err != nil {
		slog.Error("dropping update", "stream", q.stream, "msg_id", msg.ID, "err", err)
	}
	q.ackAndDel(ctx, msg.ID)
}

func (q *UpdateQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}
