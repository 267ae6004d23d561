package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// ProgressBus fans document progress events out across processes.
type ProgressBus interface {
	Publish(ctx context.Context, ev types.ProgressEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev types.ProgressEvent)) error
	Close() error
}

type Config struct {
	Addr    string
	Channel string
}

type progressBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewProgressBus(cfg Config, log *logger.Logger) (ProgressBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := cfg.Channel
	if ch == "" {
		ch = "document-progress"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &progressBus{
		log:     log.With("service", "RedisProgressBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *progressBus) Publish(ctx context.Context, ev types.ProgressEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *progressBus) StartForwarder(ctx context.Context, onEvent func(ev types.ProgressEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					b.log.Warn("bad redis progress payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func decodeEvent(payload string) (types.ProgressEvent, error) {
	var ev types.ProgressEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	if !ev.Status.Valid() {
		return ev, fmt.Errorf("unknown status %q", ev.Status)
	}
	return ev, nil
}

func (b *progressBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
