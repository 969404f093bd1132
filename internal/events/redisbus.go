package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonwood/inkwell/internal/logger"
)

// RedisBus mirrors hub events through a redis pub/sub channel so progress
// generated on one replica reaches subscribers connected to another. The
// worker publishes draft progress this way.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *logger.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, hub *Hub, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		log:     log.With("component", "redis_bus"),
	}
}

// Emit publishes to redis; local delivery happens when the forwarder loops
// the message back. Publish failures are logged, never fatal: the event sink
// is best-effort by contract.
func (b *RedisBus) Emit(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal event", "err", err)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("publish event", "err", err)
		// still deliver locally so single-node setups work without redis
		if b.hub != nil {
			b.hub.Emit(ctx, ev)
		}
	}
}

// StartForwarder pumps redis messages into the local hub until ctx ends.
func (b *RedisBus) StartForwarder(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("decode event", "err", err)
					continue
				}
				if b.hub != nil {
					b.hub.Emit(ctx, ev)
				}
			}
		}
	}()
}
